// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api exposes device state and control over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/program"
	"github.com/Thermoquad/dpsctl/internal/sequencer"
)

// Commander is the device command surface used by the API.
// *session.Controller implements it.
type Commander interface {
	SetVoltage(ctx context.Context, volts float32) error
	SetCurrent(ctx context.Context, amps float32) error
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
	EnableMetering(ctx context.Context) error
	DisableMetering(ctx context.Context) error
	RequestSnapshot(ctx context.Context) error
}

// Runner starts and aborts programs. *sequencer.Sequencer implements it.
type Runner interface {
	Start(ctx context.Context, instructions []sequencer.Instruction, progress func(int)) (<-chan error, error)
	Abort() bool
	Status() sequencer.Status
	SeedSetpoints(sp sequencer.Setpoints)
}

// Options configures the server
type Options struct {
	Addr           string
	MetricsPath    string
	MetricsHandler http.Handler
	ProgramTimeout time.Duration
	Logger         *zap.Logger

	// RunContext bounds program runs started over HTTP. Defaults to
	// context.Background().
	RunContext context.Context
}

// Server is the HTTP control surface
type Server struct {
	srv     *http.Server
	store   *Store
	dev     Commander
	runner  Runner
	logger  *zap.Logger
	timeout time.Duration
	runCtx  context.Context
}

// New builds the gin router and HTTP server
func New(store *Store, dev Commander, runner Runner, opts Options) *Server {
	s := &Server{
		store:   store,
		dev:     dev,
		runner:  runner,
		logger:  opts.Logger,
		timeout: opts.ProgramTimeout,
		runCtx:  opts.RunContext,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = 500 * time.Millisecond
	}
	if s.runCtx == nil {
		s.runCtx = context.Background()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	api := r.Group("/api")
	api.GET("/state", s.getState)
	api.POST("/setpoint", s.postSetpoint)
	api.POST("/output", s.postOutput)
	api.POST("/metering", s.postMetering)
	api.POST("/snapshot", s.postSnapshot)
	api.GET("/program", s.getProgram)
	api.POST("/program", s.postProgram)
	api.DELETE("/program", s.deleteProgram)

	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Snapshot())
}

type setpointRequest struct {
	Voltage *float32 `json:"voltage"`
	Current *float32 `json:"current"`
}

func (s *Server) postSetpoint(c *gin.Context) {
	var req setpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	if req.Voltage == nil && req.Current == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voltage or current is required"})
		return
	}

	ctx := c.Request.Context()
	if req.Voltage != nil {
		if err := s.dev.SetVoltage(ctx, *req.Voltage); err != nil {
			s.writeFailed(c, err)
			return
		}
	}
	if req.Current != nil {
		if err := s.dev.SetCurrent(ctx, *req.Current); err != nil {
			s.writeFailed(c, err)
			return
		}
	}
	c.Status(http.StatusAccepted)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) toggle(c *gin.Context, on, off func(context.Context) error) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}

	fn := off
	if *req.Enabled {
		fn = on
	}
	if err := fn(c.Request.Context()); err != nil {
		s.writeFailed(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) postOutput(c *gin.Context) {
	s.toggle(c, s.dev.EnableOutput, s.dev.DisableOutput)
}

func (s *Server) postMetering(c *gin.Context) {
	s.toggle(c, s.dev.EnableMetering, s.dev.DisableMetering)
}

func (s *Server) postSnapshot(c *gin.Context) {
	if err := s.dev.RequestSnapshot(c.Request.Context()); err != nil {
		s.writeFailed(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getProgram(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Status())
}

func (s *Server) postProgram(c *gin.Context) {
	dev := s.store.Snapshot().Device
	seed := sequencer.Setpoints{Voltage: dev.SetVoltage, Current: dev.SetCurrent}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	instrs, err := program.Load(ctx, c.Request.Body, seed)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, program.ErrAuthoringTimeout) {
			status = http.StatusRequestTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.runner.SeedSetpoints(seed)
	done, err := s.runner.Start(s.runCtx, instrs, nil)
	if err != nil {
		if errors.Is(err, sequencer.ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := s.runner.Status()
	go func() {
		if err := <-done; err != nil {
			s.logger.Info("program run ended", zap.String("run_id", status.RunID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": status.RunID, "instructions": len(instrs)})
}

func (s *Server) deleteProgram(c *gin.Context) {
	if !s.runner.Abort() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no program running"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) writeFailed(c *gin.Context, err error) {
	s.logger.Warn("device command failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "device command failed", "detail": err.Error()})
}

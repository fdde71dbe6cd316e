// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport owns the byte stream to a DPS-150. It reads and decodes
// telemetry frames, hands measurement updates to a single subscriber and
// serializes outbound command frames with a minimum spacing.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/dpsctl/internal/metrics"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// Defaults used when no option overrides them
const (
	DefaultWriteSpacing = 50 * time.Millisecond
	DefaultReadBuffer   = 1024
	DefaultQueueDepth   = 256
)

// ErrLoopClosed is returned by Write and Run after Close
var ErrLoopClosed = errors.New("transport loop closed")

// Event is delivered to the subscriber in stream order.
//
// A decoded measurement carries Update and Frame. A frame whose telemetry
// could not be decoded carries Frame and Err with a nil Update. The final
// event of a run has Disconnected set, with Err holding the read error if
// the stream failed.
type Event struct {
	Update       dps150.Update
	Frame        dps150.Frame
	Disconnected bool
	Err          error
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Engine) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithWriteSpacing sets the minimum time between command writes. Zero
// disables spacing.
func WithWriteSpacing(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.spacing = d
		}
	}
}

// WithReadBuffer sets the size of a single stream read
func WithReadBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.readSize = n
		}
	}
}

// WithQueueDepth sets how many events may wait for a slow subscriber before
// new ones are dropped
func WithQueueDepth(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.queueDepth = n
		}
	}
}

// Loop reads and writes one DPS-150 stream
type Loop struct {
	stream     io.ReadWriter
	logger     *zap.Logger
	metrics    *metrics.Engine
	spacing    time.Duration
	readSize   int
	queueDepth int

	writeMu sync.Mutex
	limit   rate.Limit
	settle  *rate.Limiter

	subMu      sync.RWMutex
	subscriber func(Event)

	statsMu sync.Mutex
	stats   *dps150.Statistics

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	failMu   sync.Mutex
	writeErr error
}

// New creates a loop over stream. Nothing is read until Run is called.
func New(stream io.ReadWriter, opts ...Option) *Loop {
	l := &Loop{
		stream:     stream,
		logger:     zap.NewNop(),
		spacing:    DefaultWriteSpacing,
		readSize:   DefaultReadBuffer,
		queueDepth: DefaultQueueDepth,
		stats:      dps150.NewStatistics(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.limit = rate.Inf
	if l.spacing > 0 {
		l.limit = rate.Every(l.spacing)
	}
	l.settle = rate.NewLimiter(l.limit, 1)
	return l
}

// Subscribe registers fn as the event consumer, replacing any previous one.
// fn runs on the dispatcher goroutine, never on the reader.
func (l *Loop) Subscribe(fn func(Event)) {
	l.subMu.Lock()
	l.subscriber = fn
	l.subMu.Unlock()
}

func (l *Loop) currentSubscriber() func(Event) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	return l.subscriber
}

// Run reads the stream until it ends, fails, ctx is cancelled or Close is
// called. A failed Write also ends the run. It returns nil for a clean end of
// stream and the read or write error otherwise. Either way the subscriber receives a Disconnected event before
// Run returns. There are no reconnect attempts.
func (l *Loop) Run(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}

	events := make(chan Event, l.queueDepth)
	done := make(chan struct{})
	go l.dispatch(events, done)

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.metrics.SetConnected(true)
	l.logger.Info("transport started",
		zap.Duration("write_spacing", l.spacing),
		zap.Int("queue_depth", l.queueDepth))

	err := l.readLoop(events)

	l.metrics.SetConnected(false)
	switch werr := l.writeFailure(); {
	case err != nil:
		l.logger.Error("stream read failed", zap.Error(err))
		err = fmt.Errorf("read stream: %w", err)
	case werr != nil:
		l.logger.Error("stream write failed, session ended", zap.Error(werr))
		err = fmt.Errorf("write stream: %w", werr)
	default:
		l.logger.Info("stream ended")
	}

	// The disconnect notice is never dropped
	events <- Event{Disconnected: true, Err: err}
	close(events)
	<-done
	return err
}

func (l *Loop) dispatch(events <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		if fn := l.currentSubscriber(); fn != nil {
			fn(ev)
		}
	}
}

func (l *Loop) readLoop(events chan<- Event) error {
	chunk := make([]byte, l.readSize)
	buf := make([]byte, 0, l.readSize+dps150.MaxFrameSize)

	for {
		n, err := l.stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = l.process(buf, n, events)
		}
		if err != nil {
			if l.endOfStream(err) {
				return nil
			}
			return err
		}
	}
}

// endOfStream reports whether err means the stream was closed rather than
// broken
func (l *Loop) endOfStream(err error) bool {
	if l.closed.Load() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

// process decodes every complete frame in buf and returns the unconsumed
// tail, moved to the front of buf
func (l *Loop) process(buf []byte, n int, events chan<- Event) []byte {
	frames, consumed, framingErrs := dps150.Decode(buf)

	l.metrics.ObserveBytes(n)
	l.metrics.ObserveChecksumErrors(len(framingErrs))
	for _, err := range framingErrs {
		l.logger.Debug("frame rejected", zap.Error(err))
	}

	l.statsMu.Lock()
	l.stats.AddBytes(n)
	l.stats.AddFramingErrors(framingErrs)
	l.statsMu.Unlock()

	for _, frame := range frames {
		update, err := dps150.DecodeTelemetry(frame.FieldID(), frame.Payload())

		l.statsMu.Lock()
		l.stats.AddFrame(err)
		l.statsMu.Unlock()

		if err != nil {
			var unknown *dps150.UnknownFieldError
			if errors.As(err, &unknown) {
				l.metrics.ObserveUnknownField()
				l.logger.Debug("unknown field ignored", zap.Uint8("field", frame.FieldID()),
					zap.String("payload", dps150.FormatHex(frame.Payload())))
			} else {
				l.logger.Warn("telemetry decode failed", zap.Uint8("field", frame.FieldID()), zap.Error(err))
			}
			l.enqueue(events, Event{Frame: frame, Err: err})
			continue
		}

		l.metrics.ObserveFrame(dps150.FieldIDName(frame.FieldID()))
		l.enqueue(events, Event{Update: update, Frame: frame})
	}

	return append(buf[:0], buf[consumed:]...)
}

func (l *Loop) enqueue(events chan<- Event, ev Event) {
	select {
	case events <- ev:
	default:
		l.statsMu.Lock()
		l.stats.DroppedEvents++
		l.statsMu.Unlock()
		l.metrics.ObserveDropped()
		l.logger.Warn("subscriber queue full, event dropped",
			zap.String("field", dps150.FieldIDName(ev.Frame.FieldID())))
	}
}

// Write sends one encoded command frame. Writes are serialized, and each
// one starts at least the configured spacing after the previous one
// finished; waiting honours ctx. A stream write error closes the loop.
func (l *Loop) Write(ctx context.Context, frame []byte) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.settle.Wait(ctx); err != nil {
		return fmt.Errorf("wait for write slot: %w", err)
	}

	n, err := l.stream.Write(frame)
	l.settle = l.settleFrom(time.Now())
	if err == nil && n != len(frame) {
		err = fmt.Errorf("%w: %d of %d bytes", io.ErrShortWrite, n, len(frame))
	}
	l.metrics.ObserveWrite(err)
	if err != nil {
		if l.closed.Load() {
			return ErrLoopClosed
		}
		l.logger.Warn("command write failed", zap.String("frame", dps150.FormatHex(frame)), zap.Error(err))
		l.fail(err)
		return fmt.Errorf("write frame: %w", err)
	}

	l.logger.Debug("command written", zap.String("frame", dps150.FormatHex(frame)))
	return nil
}

// settleFrom returns a limiter whose only token is spent at end, so the next
// write waits one full spacing from end
func (l *Loop) settleFrom(end time.Time) *rate.Limiter {
	lim := rate.NewLimiter(l.limit, 1)
	lim.AllowN(end, 1)
	return lim
}

// fail records the first write error and closes the loop so Run ends
func (l *Loop) fail(err error) {
	l.failMu.Lock()
	if l.writeErr == nil {
		l.writeErr = err
	}
	l.failMu.Unlock()
	_ = l.Close()
}

func (l *Loop) writeFailure() error {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	return l.writeErr
}

// Close stops the loop and closes the stream if it is an io.Closer. It is
// safe to call more than once.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		if c, ok := l.stream.(io.Closer); ok {
			l.closeErr = c.Close()
		}
	})
	return l.closeErr
}

// Stats returns a copy of the stream statistics
func (l *Loop) Stats() dps150.Statistics {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return *l.stats
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"sync"
	"time"

	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// StateView is the JSON shape of GET /api/state
type StateView struct {
	Connected bool               `json:"connected"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Device    dps150.DeviceState `json:"device"`
}

// Store holds the latest device state assembled from telemetry
type Store struct {
	mu        sync.RWMutex
	state     dps150.DeviceState
	connected bool
	updatedAt time.Time
}

// NewStore returns an empty, disconnected store
func NewStore() *Store {
	return &Store{state: dps150.NewDeviceState()}
}

// HandleEvent is a transport subscriber
func (s *Store) HandleEvent(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Disconnected {
		s.connected = false
		return
	}
	if ev.Update == nil {
		return
	}
	s.state.Apply(ev.Update)
	s.updatedAt = ev.Frame.Timestamp()
	if s.updatedAt.IsZero() {
		s.updatedAt = time.Now()
	}
}

// SetConnected marks the device link up or down
func (s *Store) SetConnected(up bool) {
	s.mu.Lock()
	s.connected = up
	s.mu.Unlock()
}

// Snapshot returns a copy of the current view
func (s *Store) Snapshot() StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateView{
		Connected: s.connected,
		UpdatedAt: s.updatedAt,
		Device:    s.state,
	}
}

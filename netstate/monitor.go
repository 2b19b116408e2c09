// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package netstate turns raw connectivity signals into edge-triggered
// online/offline events.
package netstate

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler is invoked on a state transition
type Handler func()

type registration struct {
	fn     Handler
	active atomic.Bool
}

// Monitor tracks reachability as a two-state machine {online, offline}.
// It does not debounce: every signal that changes the state raises one event.
type Monitor struct {
	// deliverMu keeps transitions and their handler runs in signal order
	deliverMu sync.Mutex

	mu      sync.Mutex
	online  bool
	onUp    []*registration
	onDown  []*registration
	logger  *slog.Logger
	changes atomic.Int64
}

// NewMonitor creates a monitor in the given initial state
func NewMonitor(initiallyOnline bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{online: initiallyOnline, logger: logger}
}

// IsOnline returns a point-in-time reachability snapshot
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Transitions returns how many state changes were observed
func (m *Monitor) Transitions() int64 { return m.changes.Load() }

// OnBecameOnline registers h for offline->online transitions. The returned
// func unregisters it; no invocation starts after it returns.
func (m *Monitor) OnBecameOnline(h Handler) (unregister func()) {
	return m.register(&m.onUp, h)
}

// OnBecameOffline registers h for online->offline transitions
func (m *Monitor) OnBecameOffline(h Handler) (unregister func()) {
	return m.register(&m.onDown, h)
}

func (m *Monitor) register(list *[]*registration, h Handler) func() {
	reg := &registration{fn: h}
	reg.active.Store(true)

	m.mu.Lock()
	*list = append(*list, reg)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			reg.active.Store(false)
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, r := range *list {
				if r == reg {
					*list = append((*list)[:i:i], (*list)[i+1:]...)
					break
				}
			}
		})
	}
}

// Signal feeds a raw platform reachability signal. When it changes the state,
// the matching handlers run synchronously on the caller's goroutine in
// registration order. Handlers must not call Signal themselves.
func (m *Monitor) Signal(online bool) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	src := m.onDown
	if online {
		src = m.onUp
	}
	handlers := append([]*registration(nil), src...)
	m.mu.Unlock()

	m.changes.Add(1)
	m.logger.Info("Network reachability changed", "online", online, "handlers", len(handlers))

	for _, reg := range handlers {
		if reg.active.Load() {
			reg.fn()
		}
	}
}

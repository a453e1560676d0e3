// Package tick provides the control plane's monotonic logical clock: a
// 64-bit counter that either free-runs on a wall-clock interval or only
// advances when explicitly told to, so the decision queue's grace periods
// and other tick-driven state machines can be driven deterministically in
// tests.
package tick

import (
	"context"
	"sync"
	"time"

	"github.com/opsagents/controlplane/runtime/agent/telemetry"
)

// Mode selects how the tick counter advances.
type Mode string

const (
	// ModeWallClock advances the counter on a background interval.
	ModeWallClock Mode = "wall_clock"
	// ModeManual only advances via an explicit Advance call.
	ModeManual Mode = "manual"
)

// Handler is invoked with the new tick value after every increment.
// Handlers must be non-blocking: delivery is synchronous, so a slow handler
// delays the rest. A panicking handler is logged and does not stop delivery
// to the rest.
type Handler = func(tick int64)

// Service is a monotonic tick counter starting at 0.
type Service struct {
	mode     Mode
	interval time.Duration
	logger   telemetry.Logger

	// mu serializes increments and handler delivery together so handlers
	// observe ticks strictly in the order they occurred, even when Advance
	// is called concurrently from multiple goroutines.
	mu       sync.Mutex
	current  int64
	handlers []Handler

	stopCh chan struct{}
	wg     sync.WaitGroup
	running bool
}

// New constructs a Service in the given mode. interval is only used in
// ModeWallClock.
func New(mode Mode, interval time.Duration, logger telemetry.Logger) *Service {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{mode: mode, interval: interval, logger: logger}
}

// CurrentTick returns the counter's current value.
func (s *Service) CurrentTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SubscribeTo registers handler to be invoked after every increment.
func (s *Service) SubscribeTo(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Advance increments the counter by one and notifies every subscribed
// handler, in registration order, with the new value. It is the only way
// the counter moves in ModeManual, and is also safe to call in
// ModeWallClock (useful for tests that want to force an extra tick between
// interval firings).
func (s *Service) Advance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	tick := s.current
	for _, h := range s.handlers {
		s.invoke(h, tick)
	}
	return tick
}

func (s *Service) invoke(h Handler, tick int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "tick handler panicked", "panic", r, "tick", tick)
		}
	}()
	h(tick)
}

// Start launches the background worker in ModeWallClock; it is a no-op in
// ModeManual. Calling Start twice without an intervening Stop is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	if s.mode != ModeWallClock || s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Advance()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the background worker started by Start and waits for it to
// exit. It is a no-op if the worker is not running.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Package health provides liveness and readiness probe endpoints.
//
// Liveness means the process is alive and not wedged; readiness means it is
// willing to take traffic. Checks are evaluated on request, each under its
// own timeout, so a hung dependency can never wedge the probe handler itself.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// CheckFunc probes one component. It returns nil when healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Service aggregates health checks and serves probe endpoints.
type Service struct {
	mu        sync.RWMutex
	liveness  []check
	readiness []check
	ready     atomic.Bool
}

// New creates an empty health Service. It starts not-ready.
func New() *Service {
	return &Service{}
}

// SetReady flips the readiness gate. Readiness checks only run while the
// gate is open; during drain the gate is closed first.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// AddLivenessCheck registers a liveness check.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a readiness check.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, check{name: name, timeout: timeout, fn: fn})
}

func runChecks(ctx context.Context, checks []check) map[string]string {
	results := make(map[string]string, len(checks))
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()
		if err != nil {
			results[c.name] = err.Error()
		} else {
			results[c.name] = "ok"
		}
	}
	return results
}

func healthy(results map[string]string) bool {
	for _, v := range results {
		if v != "ok" {
			return false
		}
	}
	return true
}

func writeStatus(w http.ResponseWriter, ok bool, results map[string]string) {
	status := "ok"
	code := http.StatusOK
	if !ok {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": results,
	})
}

// LiveEndpoint serves the liveness probe.
func (s *Service) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := s.liveness
	s.mu.RUnlock()

	results := runChecks(r.Context(), checks)
	writeStatus(w, healthy(results), results)
}

// ReadyEndpoint serves the readiness probe.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeStatus(w, false, map[string]string{"ready": "draining"})
		return
	}

	s.mu.RLock()
	checks := s.readiness
	s.mu.RUnlock()

	results := runChecks(r.Context(), checks)
	writeStatus(w, healthy(results), results)
}

// GoroutineCountCheck fails when the process leaks past the given bound.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("too many goroutines: %d > %d", n, threshold)
		}
		return nil
	}
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]string) {
	t.Helper()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Status, body.Checks
}

func TestLiveEndpoint_NoChecks(t *testing.T) {
	s := New()

	w := httptest.NewRecorder()
	s.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	status, _ := decodeStatus(t, w)
	assert.Equal(t, "ok", status)
}

func TestLiveEndpoint_FailingCheck(t *testing.T) {
	s := New()
	s.AddLivenessCheck("disk", time.Second, func(context.Context) error {
		return errors.New("disk full")
	})

	w := httptest.NewRecorder()
	s.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status, checks := decodeStatus(t, w)
	assert.Equal(t, "unavailable", status)
	assert.Equal(t, "disk full", checks["disk"])
}

func TestReadyEndpoint_Gate(t *testing.T) {
	s := New()
	s.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return nil
	})

	// Not ready until the gate opens.
	w := httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.SetReady(true)
	w = httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	_, checks := decodeStatus(t, w)
	assert.Equal(t, "ok", checks["postgres"])

	// Draining closes the gate again without running checks.
	s.SetReady(false)
	w = httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	_, checks = decodeStatus(t, w)
	assert.Equal(t, "draining", checks["ready"])
}

func TestReadyEndpoint_CheckTimeout(t *testing.T) {
	s := New()
	s.SetReady(true)
	s.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	start := time.Now()
	w := httptest.NewRecorder()
	s.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Less(t, time.Since(start), time.Second, "the probe must not wait out the slow check")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

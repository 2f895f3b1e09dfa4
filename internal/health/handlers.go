package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	// PingRedis returns ErrDisabled when no Redis is configured.
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// ErrDisabled marks an optional dependency that is not configured.
var ErrDisabled = errors.New("disabled")

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness; commands clear it while draining on shutdown.
func SetReady(v bool) { ready.Store(v) }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil || !ready.Load() {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	dbErr := h.Checker.PingDB(ctx, h.dbTimeout())
	redisErr := h.Checker.PingRedis(ctx, h.redisTimeout())
	status := map[string]string{
		"db":    probeStatus(dbErr),
		"redis": probeStatus(redisErr),
	}
	w.Header().Set("Content-Type", "application/json")
	if dbErr != nil || (redisErr != nil && !errors.Is(redisErr, ErrDisabled)) {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func probeStatus(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}

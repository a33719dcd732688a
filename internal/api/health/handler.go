// Package health serves liveness and readiness probes for keywatch.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	buildinfo "github.com/good-yellow-bee/keywatch/pkg/config"
)

const checkTimeout = 5 * time.Second

// Checker reports whether one backend is reachable.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler serves /health, /health/live and /health/ready.
type Handler struct {
	logger *zap.Logger

	mu       sync.RWMutex
	checkers []Checker
}

// NewHandler creates a handler with no checkers. Readiness is trivially
// true until one is registered.
func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger}
}

// RegisterChecker adds a backend checker to the readiness probe.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// CheckResult is the outcome of one backend check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthResponse is the body of every probe.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// Health reports that the process is up along with its version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	write(w, http.StatusOK, HealthResponse{Status: "ok", Version: buildinfo.Version})
}

// Live is the liveness probe. It never touches a backend.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	write(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every checker concurrently and answers 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	results := h.run(ctx, checkers)

	resp := HealthResponse{Status: "ready", Checks: results}
	code := http.StatusOK
	for name, res := range results {
		if res.Status != "ok" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			h.logger.Warn("readiness check failed", zap.String("checker", name), zap.String("error", res.Error))
		}
	}
	write(w, code, resp)
}

func (h *Handler) run(ctx context.Context, checkers []Checker) map[string]CheckResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(checkers))
	)
	for _, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			res := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "error"
				res.Error = err.Error()
			}
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func write(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

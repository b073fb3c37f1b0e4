package handler

import (
	"context"
	"net/http"
	"time"

	"vinzhub-gamestate/pkg/response"
)

// Pinger is a dependency whose connectivity gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a readiness check.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// Handler serves the health and readiness probes.
type Handler struct {
	version      string
	deps         []Dependency
	readyTimeout time.Duration
}

// New creates a probe handler checking deps on readiness.
func New(version string, deps ...Dependency) *Handler {
	return &Handler{version: version, deps: deps, readyTimeout: 2 * time.Second}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()

	resp := ReadyResponse{Ready: true, Timestamp: time.Now().UTC()}
	for _, d := range h.deps {
		c := Check{Name: d.Name, Status: "ok"}
		if err := d.Pinger.Ping(ctx); err != nil {
			c.Status = "error"
			c.Error = err.Error()
			resp.Ready = false
		}
		resp.Checks = append(resp.Checks, c)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

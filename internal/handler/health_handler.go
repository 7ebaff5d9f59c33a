package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/PhuccNguyen/hhsvhbvn/internal/container"
)

const dependencyCheckTimeout = 2 * time.Second

// HealthHandler handles liveness requests
type HealthHandler struct {
	container *container.Container
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(container *container.Container) *HealthHandler {
	return &HealthHandler{
		container: container,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Service      string            `json:"service"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Check handles GET /health. Optional backing services are reported but never
// fail liveness, since the service falls back to in-process stores.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	logger := h.container.GetLogger()

	logger.Debug("Health check requested")

	response := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		Version:      "1.0.0",
		Service:      "hhsv-checkin",
		Dependencies: h.dependencies(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.WithError(err).Error("Failed to encode health check response")
	}
}

func (h *HealthHandler) dependencies(ctx context.Context) map[string]string {
	deps := map[string]string{}

	if h.container.HasRedis() {
		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		deps["redis"] = statusOf(h.container.RedisClient.Health(checkCtx))
		cancel()
	}

	if h.container.DB != nil {
		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		deps["postgres"] = statusOf(h.container.DB.Health(checkCtx))
		cancel()
	}

	return deps
}

func statusOf(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

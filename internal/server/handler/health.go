package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck is one named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the health endpoint, probing each registered
// dependency with a short timeout.
type HealthHandler struct {
	checks []HealthCheck
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checks []HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Deps   map[string]string `json:"deps"`
}

// HealthCheck reports overall service health.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Deps: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Deps[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dep", c.Name),
				slog.String("error", err.Error()))
			continue
		}
		resp.Deps[c.Name] = "ok"
	}

	writeJSON(w, status, resp)
}

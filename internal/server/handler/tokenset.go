package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/openfloor/nftindex/internal/domain"
)

// TokenSetHandler serves token-set read endpoints.
type TokenSetHandler struct {
	sets   domain.TokenSetStore
	logger *slog.Logger
}

// NewTokenSetHandler creates a TokenSetHandler.
func NewTokenSetHandler(sets domain.TokenSetStore, logger *slog.Logger) *TokenSetHandler {
	return &TokenSetHandler{
		sets:   sets,
		logger: logHandler(logger, "token_sets"),
	}
}

// GetTokenSet returns one token set by its deterministic id.
// GET /api/token-sets/{id}
func (h *TokenSetHandler) GetTokenSet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "token set id required")
		return
	}

	ts, err := h.sets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token set not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get token set failed",
			slog.String("token_set_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get token set")
		return
	}

	writeJSON(w, http.StatusOK, toTokenSetView(&ts))
}

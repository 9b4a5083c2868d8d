package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/trainingorchestrator/internal/auth"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
	"github.com/nikhilbhutani/trainingorchestrator/internal/webhook"
)

// writeServiceError maps domain errors onto status codes. Anything not
// recognised is logged and reported as a 500 without its details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *training.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "validation failed",
			"violations": verr.Problems,
		})
	case errors.Is(err, training.ErrDatasetForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, training.ErrDatasetNotFound),
		errors.Is(err, training.ErrJobNotFound),
		errors.Is(err, webhook.ErrWebhookNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
	}
	return id, ok
}

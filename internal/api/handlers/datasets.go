package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/trainingorchestrator/internal/dataset"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

type DatasetRegistry interface {
	Register(ctx context.Context, req dataset.RegisterRequest) (*models.Dataset, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]models.Dataset, error)
}

type DatasetHandler struct {
	registry DatasetRegistry
}

func NewDatasetHandler(registry DatasetRegistry) *DatasetHandler {
	return &DatasetHandler{registry: registry}
}

func (h *DatasetHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dataset.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.OwnerID = userID

	ds, err := h.registry.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	datasets, err := h.registry.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": datasets, "count": len(datasets)})
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/trainingorchestrator/internal/audit"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
)

type TrainingService interface {
	Submit(ctx context.Context, req training.SubmitRequest) (*training.SubmitResult, error)
	Get(ctx context.Context, jobID, userID uuid.UUID) (*models.TrainingJob, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.TrainingJob, error)
	Reconcile(ctx context.Context, jobID uuid.UUID) (*training.Snapshot, error)
	Cancel(ctx context.Context, jobID, userID uuid.UUID) (*models.TrainingJob, error)
}

// JobHistory lists a job's recorded status transitions.
type JobHistory interface {
	List(ctx context.Context, ownerID, jobID uuid.UUID, q audit.Query) ([]models.JobEvent, error)
}

type TrainingHandler struct {
	svc     TrainingService
	history JobHistory
}

// NewTrainingHandler serves the job endpoints. A nil history leaves the
// events route unmounted.
func NewTrainingHandler(svc TrainingService, history JobHistory) *TrainingHandler {
	return &TrainingHandler{svc: svc, history: history}
}

func (h *TrainingHandler) Routes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/reconcile", h.Reconcile)
	r.Post("/{id}/cancel", h.Cancel)
	if h.history != nil {
		r.Get("/{id}/events", h.Events)
	}
}

func (h *TrainingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req training.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.UserID = userID

	res, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *TrainingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	jobs, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []models.TrainingJob{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

func (h *TrainingHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.params(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Get(r.Context(), jobID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Reconcile runs one synchronous reconciliation pass for the caller's job
// and returns the refreshed record with its completion estimate.
func (h *TrainingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.params(w, r)
	if !ok {
		return
	}

	if _, err := h.svc.Get(r.Context(), jobID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	snap, err := h.svc.Reconcile(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *TrainingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.params(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Cancel(r.Context(), jobID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *TrainingHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID, jobID, ok := h.params(w, r)
	if !ok {
		return
	}

	q, err := historyQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if _, err := h.svc.Get(r.Context(), jobID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	events, err := h.history.List(r.Context(), userID, jobID, q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func historyQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{Status: models.JobStatus(v.Get("status"))}

	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		q.Since = &t
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if s := v.Get(name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return q, fmt.Errorf("%s must be a non-negative integer", name)
			}
			*dst = n
		}
	}
	return q, nil
}

func (h *TrainingHandler) params(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, jobID, true
}

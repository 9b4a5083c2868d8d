package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/trainingorchestrator/internal/api/handlers"
	"github.com/nikhilbhutani/trainingorchestrator/internal/auth"
	"github.com/nikhilbhutani/trainingorchestrator/internal/dataset"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
	"github.com/nikhilbhutani/trainingorchestrator/internal/training"
	"github.com/nikhilbhutani/trainingorchestrator/internal/webhook"
)

type stubTraining struct{ handlers.TrainingService }

func (stubTraining) List(context.Context, uuid.UUID) ([]models.TrainingJob, error) {
	return nil, nil
}

type stubDatasets struct{}

func (stubDatasets) Register(context.Context, dataset.RegisterRequest) (*models.Dataset, error) {
	return nil, training.ErrDatasetNotFound
}

func (stubDatasets) List(context.Context, uuid.UUID) ([]models.Dataset, error) { return nil, nil }

type stubWebhooks struct{}

func (stubWebhooks) Create(context.Context, uuid.UUID, webhook.CreateRequest) (*models.Webhook, error) {
	return nil, &training.ValidationError{Problems: []string{"events must not be empty"}}
}

func (stubWebhooks) List(context.Context, uuid.UUID) ([]models.Webhook, error) { return nil, nil }

func (stubWebhooks) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	return webhook.ErrWebhookNotFound
}

const secret = "router-secret"

func newHandler() http.Handler {
	return NewRouter(Deps{
		Training:  stubTraining{},
		Datasets:  stubDatasets{},
		Webhooks:  stubWebhooks{},
		Health:    map[string]handlers.Check{"database": func(context.Context) error { return nil }},
		JWTSecret: secret,
	}).Setup()
}

func bearer(t *testing.T) string {
	token, err := auth.IssueToken(secret, uuid.New(), jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouterHealthIsPublic(t *testing.T) {
	h := newHandler()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterRequiresToken(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/training/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRoutes(t *testing.T) {
	h := newHandler()
	testCases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/v1/training/jobs", http.StatusOK},
		{http.MethodGet, "/api/v1/datasets", http.StatusOK},
		{http.MethodPost, "/api/v1/datasets", http.StatusNotFound},
		{http.MethodPost, "/api/v1/webhooks", http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/webhooks/" + uuid.NewString(), http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.method == http.MethodPost {
				req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
			}
			req.Header.Set("Authorization", bearer(t))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

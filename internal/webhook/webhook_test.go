package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

func TestCreateRequestValidate(t *testing.T) {
	testCases := []struct {
		name     string
		req      CreateRequest
		problems int
	}{
		{"valid", CreateRequest{URL: "https://hooks.example.com/train", Events: []string{models.EventTrainingCompleted}}, 0},
		{"relative url", CreateRequest{URL: "/hooks", Events: []string{models.EventTrainingFailed}}, 1},
		{"ftp url", CreateRequest{URL: "ftp://example.com", Events: []string{models.EventTrainingFailed}}, 1},
		{"no events", CreateRequest{URL: "https://example.com"}, 1},
		{"unknown event", CreateRequest{URL: "https://example.com", Events: []string{"training.started", models.EventTrainingRunning}}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, tc.req.Validate(), tc.problems)
		})
	}
}

func TestDeliverSignsPayload(t *testing.T) {
	body := []byte(`{"event":"training.completed"}`)
	secret := "whsec_test"

	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &Dispatcher{httpClient: srv.Client()}
	id := uuid.New()
	status, err := d.deliver(context.Background(), DeliveryRequest{
		WebhookID: id, URL: srv.URL, Secret: secret, Event: models.EventTrainingCompleted, Payload: body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, body, gotBody)
	assert.Equal(t, models.EventTrainingCompleted, gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, id.String(), gotHeaders.Get("X-Webhook-ID"))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotHeaders.Get("X-Webhook-Signature"))
}

func TestDeliverReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &Dispatcher{httpClient: srv.Client()}
	status, err := d.deliver(context.Background(), DeliveryRequest{URL: srv.URL, Payload: []byte(`{}`)})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Error(t, err)
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("whsec_")+64)
}

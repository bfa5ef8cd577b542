package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/api"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/memory"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/webhook"
)

func newWebhookMux() *http.ServeMux {
	store := memory.NewWebhookStore()
	logger := newTestLogger()
	handler := api.NewWebhookAPI(
		webhook.NewRegistry(store, "hash-key", logger),
		webhook.NewDispatcher(store, config.WebhookConfig{Timeout: time.Second}, nil, logger),
		logger,
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/webhooks", handler.Create)
	mux.HandleFunc("GET /api/v1/webhooks", handler.List)
	mux.HandleFunc("PATCH /api/v1/webhooks/{id}", handler.Update)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", handler.Delete)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/test", handler.TestSend)
	return mux
}

func call(t *testing.T, mux http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req = withUser(req, user)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

type issuedResponse struct {
	Webhook struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsActive bool   `json:"isActive"`
	} `json:"webhook"`
	PlainSecret string `json:"plainSecret"`
}

func TestWebhookAPI_Lifecycle(t *testing.T) {
	mux := newWebhookMux()
	owner := "urn:sm:user:dev"
	stranger := "urn:sm:user:mallory"

	w := call(t, mux, http.MethodPost, "/api/v1/webhooks", owner, map[string]any{
		"name": "ci", "endpoint": "http://127.0.0.1:1/hook",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created issuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.PlainSecret)
	require.NotEmpty(t, created.Webhook.ID)
	assert.NotContains(t, w.Body.String(), "hashedSecret")
	hookPath := "/api/v1/webhooks/" + created.Webhook.ID

	t.Run("List never shows a secret", func(t *testing.T) {
		w := call(t, mux, http.MethodGet, "/api/v1/webhooks", owner, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), created.Webhook.ID)
		assert.NotContains(t, w.Body.String(), created.PlainSecret)
		assert.NotContains(t, w.Body.String(), "plainSecret")
	})

	t.Run("Stranger sees nothing", func(t *testing.T) {
		w := call(t, mux, http.MethodGet, "/api/v1/webhooks", stranger, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), created.Webhook.ID)

		w = call(t, mux, http.MethodPatch, hookPath, stranger, map[string]any{"name": "pwned"})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = call(t, mux, http.MethodPost, hookPath+"/test", stranger, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Rotate returns a new secret", func(t *testing.T) {
		w := call(t, mux, http.MethodPatch, hookPath, owner, map[string]any{"rotateSecret": true})
		require.Equal(t, http.StatusOK, w.Code)
		var rotated issuedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
		assert.NotEmpty(t, rotated.PlainSecret)
		assert.NotEqual(t, created.PlainSecret, rotated.PlainSecret)
	})

	t.Run("Test-send reports failure as a result", func(t *testing.T) {
		w := call(t, mux, http.MethodPost, hookPath+"/test", owner, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Results []struct {
				Status string  `json:"status"`
				Error  *string `json:"error"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Results, 1)
		assert.Equal(t, "failed", body.Results[0].Status)
		assert.NotNil(t, body.Results[0].Error)

		list := call(t, mux, http.MethodGet, "/api/v1/webhooks", owner, nil)
		assert.Contains(t, list.Body.String(), `"lastError"`)
		assert.Contains(t, list.Body.String(), `"isActive":true`)
	})

	t.Run("Validation errors are 400", func(t *testing.T) {
		w := call(t, mux, http.MethodPost, "/api/v1/webhooks", owner, map[string]any{"name": "", "endpoint": "https://x.example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = call(t, mux, http.MethodPost, "/api/v1/webhooks", owner, map[string]any{"name": "x", "endpoint": "https://x.example.com", "secret": "short"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unauthenticated is 401", func(t *testing.T) {
		w := call(t, mux, http.MethodGet, "/api/v1/webhooks", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, call(t, mux, http.MethodDelete, hookPath, stranger, nil).Code)
		assert.Equal(t, http.StatusNoContent, call(t, mux, http.MethodDelete, hookPath, owner, nil).Code)
		assert.Equal(t, http.StatusNoContent, call(t, mux, http.MethodDelete, hookPath, owner, nil).Code)

		w := call(t, mux, http.MethodPatch, hookPath, owner, map[string]any{"name": "gone"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

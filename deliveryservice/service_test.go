package deliveryservice_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice"
	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/memory"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const testUserHeader = "X-Test-User"

// recordingSender stands in for the Web Push dispatcher.
type recordingSender struct {
	mu        sync.Mutex
	endpoints []string
	payloads  [][]byte
}

func (s *recordingSender) Send(_ context.Context, sub dispatch.PushSubscription, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, sub.Endpoint)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSender) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endpoints...)
}

// headerAuth trusts a test header instead of a JWT.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get(testUserHeader); user != "" {
			r = r.WithContext(middleware.ContextWithUserID(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestConfig() *config.Config {
	return &config.Config{
		ListenAddr:         ":0",
		NumPipelineWorkers: 2,
		Storage:            config.StorageMemory,
		Vapid:              config.VapidConfig{PublicKey: "BTestPublicKey", PrivateKey: "private"},
		Push:               config.PushConfig{MaxConcurrency: 4},
		Webhook:            config.WebhookConfig{SecretHashKey: "hash-key"},
	}
}

func TestService_Routes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := deliveryservice.Stores{
		Subscriptions: memory.NewSubscriptionStore(),
		Webhooks:      memory.NewWebhookStore(),
	}

	svc, err := deliveryservice.New(newTestConfig(), nil, stores, &recordingSender{}, metrics.New(), headerAuth, logger)
	require.NoError(t, err)

	serve := func(method, path, user string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if user != "" {
			req.Header.Set(testUserHeader, user)
		}
		w := httptest.NewRecorder()
		svc.Mux().ServeHTTP(w, req)
		return w
	}

	t.Run("VAPID key is public", func(t *testing.T) {
		w := serve(http.MethodGet, "/api/v1/push/vapid-public-key", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "BTestPublicKey")
	})

	t.Run("Subscription routes are wired", func(t *testing.T) {
		body := []byte(`{"endpoint":"https://push.example.com/1","keys":{"p256dh":"p","auth":"a"}}`)
		w := serve(http.MethodPost, "/api/v1/push/subscriptions", "urn:sm:user:alice", body)
		assert.Equal(t, http.StatusCreated, w.Code)

		w = serve(http.MethodGet, "/api/v1/push/subscriptions/status?endpoint=https://push.example.com/1", "urn:sm:user:alice", nil)
		assert.JSONEq(t, `{"subscribed":true}`, w.Body.String())

		w = serve(http.MethodPost, "/api/v1/push/subscriptions", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Webhook routes are wired", func(t *testing.T) {
		w := serve(http.MethodPost, "/api/v1/webhooks", "urn:sm:user:dev", []byte(`{"name":"ci","endpoint":"https://hooks.example.com"}`))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "plainSecret")

		w = serve(http.MethodPatch, "/api/v1/webhooks/missing", "urn:sm:user:dev", []byte(`{"name":"x"}`))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Metrics are exposed", func(t *testing.T) {
		w := serve(http.MethodGet, "/internal/metrics", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})
}

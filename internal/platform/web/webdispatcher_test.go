package web_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/platform/web"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// Browser-issued keys; p256dh must be a valid P-256 point for encryption to succeed.
var testKeys = dispatch.PushKeys{
	P256dh: "BNNL5ZaTfK81qhXOx23-wewhigUeFb632jN6LvRWCFH1ubQr77FE_9qV1FuojuRmHP42zmf34rXgW80OvUVDgTk",
	Auth:   "zqbxT6JKstKSY9JKibZLSQ",
}

func newTestDispatcher(t *testing.T, timeout time.Duration) *web.Dispatcher {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	return web.NewDispatcher(config.VapidConfig{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		Subscriber: "mailto:test-runner@example.com",
		TTL:        60,
		Urgency:    "normal",
	}, timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSend_StatusClassification(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "vapid t="))
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "60", r.Header.Get("TTL"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer mockServer.Close()

	dispatcher := newTestDispatcher(t, 50*time.Millisecond)
	ctx := context.Background()
	sub := func(path string) dispatch.PushSubscription {
		return dispatch.PushSubscription{ID: path, Endpoint: mockServer.URL + path, Keys: testKeys}
	}

	testCases := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"201 is delivered", "/success", nil},
		{"410 is expired", "/expired", dispatch.ErrExpiredSubscription},
		{"404 is expired", "/missing", dispatch.ErrExpiredSubscription},
		{"500 is transient", "/error", dispatch.ErrTransientDelivery},
		{"timeout is transient", "/slow", dispatch.ErrTransientDelivery},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := dispatcher.Send(ctx, sub(tc.path), []byte(`{"notification":{"title":"hi"}}`))
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestSend_UnreachableEndpointIsTransient(t *testing.T) {
	dispatcher := newTestDispatcher(t, time.Second)
	err := dispatcher.Send(context.Background(), dispatch.PushSubscription{
		Endpoint: "http://127.0.0.1:1/push",
		Keys:     testKeys,
	}, []byte("{}"))
	assert.ErrorIs(t, err, dispatch.ErrTransientDelivery)
	assert.NotErrorIs(t, err, dispatch.ErrExpiredSubscription)
}

package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// Dispatcher delivers a single encrypted Web Push message per call.
type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	urgency    webpush.Urgency
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		// webpush-go adds the mailto: scheme itself.
		subscriber: strings.TrimPrefix(cfg.Subscriber, "mailto:"),
		ttl:        cfg.TTL,
		urgency:    webpush.Urgency(cfg.Urgency),
		timeout:    timeout,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// PublicKey is handed to browsers as the applicationServerKey.
func (d *Dispatcher) PublicKey() string {
	return d.publicKey
}

// Send encrypts payload for sub and posts it to the push service.
// 404 and 410 mean the subscription is gone for good.
func (d *Dispatcher) Send(ctx context.Context, sub dispatch.PushSubscription, payload []byte) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             d.ttl,
		Urgency:         d.urgency,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		// Transport error (DNS, timeout, bad keys): keep the subscription.
		d.logger.Warn("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return fmt.Errorf("%w: %v", dispatch.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		d.logger.Info("WebPush subscription expired", "status", resp.StatusCode, "subscription_id", sub.ID)
		return fmt.Errorf("%w: push service answered %d", dispatch.ErrExpiredSubscription, resp.StatusCode)
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return fmt.Errorf("%w: push service answered %d", dispatch.ErrTransientDelivery, resp.StatusCode)
	}
}

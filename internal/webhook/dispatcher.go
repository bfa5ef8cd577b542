package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/notification"
)

// ErrInactive is returned by Send for a webhook its owner has switched off.
var ErrInactive = errors.New("webhook is inactive")

// Delivery headers besides the configurable signature header.
const (
	HeaderWebhookID  = "X-Webhook-Id"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery"
)

// Dispatcher signs snapshots and POSTs them to webhook endpoints. Every
// attempt overwrites the webhook's status fields. Attempts against the same
// webhook run one at a time.
type Dispatcher struct {
	store   dispatch.WebhookStore
	cfg     config.WebhookConfig
	client  *http.Client
	locks   *keyedMutex
	now     func() time.Time
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewDispatcher(store dispatch.WebhookStore, cfg config.WebhookConfig, rec *metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = config.DefaultSignatureHeader
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = config.DefaultHookConcurrency
	}
	return &Dispatcher{
		store:   store,
		cfg:     cfg,
		client:  &http.Client{},
		locks:   newKeyedMutex(),
		now:     time.Now,
		metrics: rec,
		logger:  logger.With("component", "WebhookDispatcher"),
	}
}

// Send delivers snap to an active webhook. Inactive webhooks yield ErrInactive
// and are left untouched.
func (d *Dispatcher) Send(ctx context.Context, hook dispatch.Webhook, snap notification.Snapshot) (dispatch.DeliveryOutcome, error) {
	if !hook.IsActive {
		return dispatch.DeliveryOutcome{Target: hook.ID}, ErrInactive
	}
	return d.deliver(ctx, hook, snap), nil
}

// TestSend posts a synthetic info snapshot to one of owner's webhooks,
// active or not. It never changes IsActive.
func (d *Dispatcher) TestSend(ctx context.Context, id string, owner urn.URN) (dispatch.DeliveryOutcome, error) {
	hook, err := d.store.GetWebhook(ctx, id)
	if err != nil {
		return dispatch.DeliveryOutcome{}, err
	}
	if hook.OwnerUserID != owner.String() {
		return dispatch.DeliveryOutcome{}, dispatch.ErrNotFound
	}

	ping := notification.Info{
		Header: notification.Header{
			ID:          uuid.NewString(),
			RecipientID: owner.String(),
			CreatedAt:   d.now().UTC(),
		},
		Title: "Webhook test",
		Body:  fmt.Sprintf("Test delivery for webhook %q", hook.Name),
	}
	return d.deliver(ctx, *hook, ping), nil
}

// DeliverToOwner sends snap to each of owner's active webhooks concurrently.
// One webhook's failure never affects another.
func (d *Dispatcher) DeliverToOwner(ctx context.Context, owner urn.URN, snap notification.Snapshot) ([]dispatch.DeliveryOutcome, error) {
	hooks, err := d.store.ListWebhooksByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for %s: %w", owner, err)
	}

	active := hooks[:0]
	for _, h := range hooks {
		if h.IsActive {
			active = append(active, h)
		}
	}
	outcomes := make([]dispatch.DeliveryOutcome, len(active))

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrency)
	for i := range active {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, active[i], snap)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (d *Dispatcher) deliver(ctx context.Context, hook dispatch.Webhook, snap notification.Snapshot) dispatch.DeliveryOutcome {
	unlock := d.locks.Lock(hook.ID)
	defer unlock()

	outcome := d.post(ctx, hook, snap)

	status := dispatch.DeliveryStatus{
		SentAt:     d.now().UTC(),
		StatusCode: outcome.StatusCode,
		Error:      outcome.Error,
	}
	// Recorded even when the caller gave up, so the status never lags the attempt.
	if err := d.store.RecordDelivery(context.WithoutCancel(ctx), hook.ID, status); err != nil {
		d.logger.Error("Failed to record webhook delivery", "webhook_id", hook.ID, "err", err)
	}
	d.metrics.WebhookResult(string(outcome.Status))
	return outcome
}

func (d *Dispatcher) post(ctx context.Context, hook dispatch.Webhook, snap notification.Snapshot) dispatch.DeliveryOutcome {
	outcome := dispatch.DeliveryOutcome{Target: hook.ID, Status: dispatch.ResultFailed}

	body, err := notification.Marshal(snap)
	if err != nil {
		msg := err.Error()
		outcome.Error = &msg
		return outcome
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	var code int
	err = requests.URL(hook.Endpoint).
		Post().
		Client(d.client).
		BodyBytes(body).
		ContentType("application/json").
		UserAgent(d.cfg.UserAgent).
		Header(d.cfg.SignatureHeader, Sign(hook.HashedSecret, body)).
		Header(HeaderWebhookID, hook.ID).
		Header(HeaderEvent, string(snap.Kind())).
		Header(HeaderDeliveryID, uuid.NewString()).
		AddValidator(func(res *http.Response) error {
			code = res.StatusCode
			if code < 200 || code > 299 {
				return fmt.Errorf("HTTP %d", code)
			}
			return nil
		}).
		Fetch(ctx)

	if code != 0 {
		outcome.StatusCode = &code
	}
	switch {
	case err == nil:
		outcome.Status = dispatch.ResultSent
	case code != 0 && (code < 200 || code > 299):
		msg := fmt.Sprintf("HTTP %d", code)
		outcome.Error = &msg
	default:
		msg := err.Error()
		outcome.Error = &msg
	}

	if outcome.Status == dispatch.ResultFailed {
		d.logger.Warn("Webhook delivery failed", "webhook_id", hook.ID, "error", *outcome.Error)
	} else {
		d.logger.Debug("Webhook delivered", "webhook_id", hook.ID, "status", code)
	}
	return outcome
}

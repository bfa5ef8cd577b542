// Package dispatch holds the contracts between the delivery engine's
// stores, dispatchers and coordinators.
package dispatch

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	// Save upserts on (user, endpoint): an existing row gets the new keys and
	// expiration and a bumped UpdatedAt, otherwise a row is inserted.
	Save(ctx context.Context, user urn.URN, sub PushSubscriptionInput) (*PushSubscription, error)
	// Find returns ErrNotFound when the user has no subscription for endpoint.
	Find(ctx context.Context, user urn.URN, endpoint string) (*PushSubscription, error)
	FindAllForUser(ctx context.Context, user urn.URN) ([]PushSubscription, error)
	FindAll(ctx context.Context) ([]PushSubscription, error)
	// DeleteByUserAndEndpoint and DeleteByID are idempotent.
	DeleteByUserAndEndpoint(ctx context.Context, user urn.URN, endpoint string) error
	DeleteByID(ctx context.Context, id string) error
}

// PushSender delivers one encrypted message to one subscription.
// It fails with ErrExpiredSubscription when the endpoint is permanently gone
// and with ErrTransientDelivery for everything else.
type PushSender interface {
	Send(ctx context.Context, sub PushSubscription, payload []byte) error
}

// WebhookStore persists webhooks. Every mutation is scoped to one row.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *Webhook) error
	// GetWebhook returns ErrNotFound when no row has that id.
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooksByOwner(ctx context.Context, owner urn.URN) ([]Webhook, error)
	// UpdateWebhook applies mutate atomically to the row owned by owner and
	// returns the stored result. Missing or foreign rows yield ErrNotFound.
	UpdateWebhook(ctx context.Context, owner urn.URN, id string, mutate func(*Webhook) error) (*Webhook, error)
	// DeleteWebhook is idempotent and never reveals whether a foreign row exists.
	DeleteWebhook(ctx context.Context, owner urn.URN, id string) error
	// RecordDelivery overwrites the status fields. A deleted row is not an error.
	RecordDelivery(ctx context.Context, id string, status DeliveryStatus) error
}

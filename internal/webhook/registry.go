// Package webhook manages developer-registered webhooks and delivers signed
// notification snapshots to them.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const (
	maxNameLen     = 100
	maxEndpointLen = 2048
)

// CreateInput registers a webhook. Secret, when set, seeds the issued
// signing secret instead of random bytes. IsActive defaults to true.
type CreateInput struct {
	Name     string  `json:"name"`
	Endpoint string  `json:"endpoint"`
	Secret   *string `json:"secret,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// UpdateInput changes only the fields that are set.
type UpdateInput struct {
	Name         *string `json:"name,omitempty"`
	Endpoint     *string `json:"endpoint,omitempty"`
	IsActive     *bool   `json:"isActive,omitempty"`
	RotateSecret bool    `json:"rotateSecret,omitempty"`
}

// Issued is a webhook plus, on creation or rotation only, the secret its
// deliveries are signed with.
type Issued struct {
	Webhook     dispatch.Webhook `json:"webhook"`
	PlainSecret string           `json:"plainSecret,omitempty"`
}

// Registry is the CRUD surface over a dispatch.WebhookStore.
type Registry struct {
	store   dispatch.WebhookStore
	hashKey string
	now     func() time.Time
	logger  *slog.Logger
}

func NewRegistry(store dispatch.WebhookStore, secretHashKey string, logger *slog.Logger) *Registry {
	return &Registry{
		store:   store,
		hashKey: secretHashKey,
		now:     time.Now,
		logger:  logger.With("component", "WebhookRegistry"),
	}
}

func (r *Registry) Create(ctx context.Context, owner urn.URN, in CreateInput) (*Issued, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	endpoint, err := validateEndpoint(in.Endpoint)
	if err != nil {
		return nil, err
	}

	var seed string
	if in.Secret != nil {
		if n := utf8.RuneCountInString(*in.Secret); n < minSecretLen || n > maxSecretLen {
			return nil, dispatch.Invalid("secret", fmt.Sprintf("must be %d to %d characters", minSecretLen, maxSecretLen))
		}
		seed = *in.Secret
	}
	plain, err := IssueSecret(r.hashKey, seed)
	if err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	now := r.now().UTC()
	w := &dispatch.Webhook{
		ID:           uuid.NewString(),
		OwnerUserID:  owner.String(),
		Name:         name,
		Endpoint:     endpoint,
		HashedSecret: plain,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}

	r.logger.Info("Webhook created", "webhook_id", w.ID, "owner", w.OwnerUserID)
	return &Issued{Webhook: *w, PlainSecret: plain}, nil
}

// Update returns dispatch.ErrNotFound when id is missing or owned by someone else.
func (r *Registry) Update(ctx context.Context, id string, owner urn.URN, in UpdateInput) (*Issued, error) {
	var name, endpoint string
	var err error
	if in.Name != nil {
		if name, err = validateName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.Endpoint != nil {
		if endpoint, err = validateEndpoint(*in.Endpoint); err != nil {
			return nil, err
		}
	}

	var plain string
	if in.RotateSecret {
		if plain, err = IssueSecret(r.hashKey, ""); err != nil {
			return nil, err
		}
	}

	updated, err := r.store.UpdateWebhook(ctx, owner, id, func(w *dispatch.Webhook) error {
		if in.Name != nil {
			w.Name = name
		}
		if in.Endpoint != nil {
			w.Endpoint = endpoint
		}
		if in.IsActive != nil {
			w.IsActive = *in.IsActive
		}
		if in.RotateSecret {
			// No grace window: the old secret stops verifying immediately.
			w.HashedSecret = plain
		}
		w.UpdatedAt = r.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.RotateSecret {
		r.logger.Info("Webhook secret rotated", "webhook_id", id)
	}
	return &Issued{Webhook: *updated, PlainSecret: plain}, nil
}

// Delete is idempotent and silent about other owners' webhooks.
func (r *Registry) Delete(ctx context.Context, id string, owner urn.URN) error {
	return r.store.DeleteWebhook(ctx, owner, id)
}

func (r *Registry) ListForOwner(ctx context.Context, owner urn.URN) ([]dispatch.Webhook, error) {
	return r.store.ListWebhooksByOwner(ctx, owner)
}

// Get hides webhooks that belong to other owners behind dispatch.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string, owner urn.URN) (*dispatch.Webhook, error) {
	w, err := r.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.OwnerUserID != owner.String() {
		return nil, dispatch.ErrNotFound
	}
	return w, nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLen {
		return "", dispatch.Invalid("name", fmt.Sprintf("must be 1 to %d characters", maxNameLen))
	}
	return name, nil
}

func validateEndpoint(raw string) (string, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" || len(endpoint) > maxEndpointLen {
		return "", dispatch.Invalid("endpoint", fmt.Sprintf("must be 1 to %d characters", maxEndpointLen))
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", dispatch.Invalid("endpoint", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", dispatch.Invalid("endpoint", "scheme must be http or https")
	}
	return endpoint, nil
}

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const webhooksCollection = "webhooks"

// WebhookStore implements dispatch.WebhookStore using Google Cloud Firestore.
// Documents are keyed by webhook id.
type WebhookStore struct {
	client *firestore.Client
}

func NewWebhookStore(client *firestore.Client) *WebhookStore {
	return &WebhookStore{client: client}
}

type webhookRecord struct {
	ID             string     `firestore:"id"`
	OwnerUserID    string     `firestore:"owner_user_id"`
	Name           string     `firestore:"name"`
	Endpoint       string     `firestore:"endpoint"`
	HashedSecret   string     `firestore:"hashed_secret"`
	IsActive       bool       `firestore:"is_active"`
	CreatedAt      time.Time  `firestore:"created_at"`
	UpdatedAt      time.Time  `firestore:"updated_at"`
	LastSentAt     *time.Time `firestore:"last_sent_at"`
	LastStatusCode *int       `firestore:"last_status_code"`
	LastError      *string    `firestore:"last_error"`
}

func toRecord(w *dispatch.Webhook) webhookRecord {
	return webhookRecord{
		ID: w.ID, OwnerUserID: w.OwnerUserID, Name: w.Name, Endpoint: w.Endpoint,
		HashedSecret: w.HashedSecret, IsActive: w.IsActive,
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt,
		LastSentAt: w.LastSentAt, LastStatusCode: w.LastStatusCode, LastError: w.LastError,
	}
}

func (r webhookRecord) toWebhook() dispatch.Webhook {
	return dispatch.Webhook{
		ID: r.ID, OwnerUserID: r.OwnerUserID, Name: r.Name, Endpoint: r.Endpoint,
		HashedSecret: r.HashedSecret, IsActive: r.IsActive,
		CreatedAt: r.CreatedAt.UTC(), UpdatedAt: r.UpdatedAt.UTC(),
		LastSentAt: r.LastSentAt, LastStatusCode: r.LastStatusCode, LastError: r.LastError,
	}
}

func (s *WebhookStore) CreateWebhook(ctx context.Context, w *dispatch.Webhook) error {
	if _, err := s.client.Collection(webhooksCollection).Doc(w.ID).Create(ctx, toRecord(w)); err != nil {
		return fmt.Errorf("failed to create webhook %s: %w", w.ID, err)
	}
	return nil
}

func (s *WebhookStore) GetWebhook(ctx context.Context, id string) (*dispatch.Webhook, error) {
	doc, err := s.client.Collection(webhooksCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook %s: %w", id, err)
	}
	var record webhookRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("corrupt webhook document %s: %w", id, err)
	}
	w := record.toWebhook()
	return &w, nil
}

func (s *WebhookStore) ListWebhooksByOwner(ctx context.Context, owner urn.URN) ([]dispatch.Webhook, error) {
	iter := s.client.Collection(webhooksCollection).
		Where("owner_user_id", "==", owner.String()).
		Documents(ctx)
	defer iter.Stop()

	hooks := make([]dispatch.Webhook, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list webhooks for %s: %w", owner, err)
		}
		var record webhookRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		hooks = append(hooks, record.toWebhook())
	}
	sortByCreated(hooks)
	return hooks, nil
}

func (s *WebhookStore) UpdateWebhook(ctx context.Context, owner urn.URN, id string, mutate func(*dispatch.Webhook) error) (*dispatch.Webhook, error) {
	ref := s.client.Collection(webhooksCollection).Doc(id)
	var updated dispatch.Webhook

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return dispatch.ErrNotFound
		}
		if err != nil {
			return err
		}
		var record webhookRecord
		if err := doc.DataTo(&record); err != nil {
			return fmt.Errorf("corrupt webhook document %s: %w", id, err)
		}
		if record.OwnerUserID != owner.String() {
			return dispatch.ErrNotFound
		}

		w := record.toWebhook()
		if err := mutate(&w); err != nil {
			return err
		}
		updated = w
		return tx.Set(ref, toRecord(&w))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *WebhookStore) DeleteWebhook(ctx context.Context, owner urn.URN, id string) error {
	ref := s.client.Collection(webhooksCollection).Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if owned, _ := doc.DataAt("owner_user_id"); owned != owner.String() {
			return nil
		}
		return tx.Delete(ref)
	})
}

func (s *WebhookStore) RecordDelivery(ctx context.Context, id string, st dispatch.DeliveryStatus) error {
	_, err := s.client.Collection(webhooksCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "last_sent_at", Value: st.SentAt},
		{Path: "last_status_code", Value: st.StatusCode},
		{Path: "last_error", Value: st.Error},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record delivery for webhook %s: %w", id, err)
	}
	return nil
}

func sortByCreated(hooks []dispatch.Webhook) {
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].CreatedAt.Before(hooks[j].CreatedAt) })
}

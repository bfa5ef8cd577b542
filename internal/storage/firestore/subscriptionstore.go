// Package firestore stores push subscriptions and webhooks in Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const subscriptionsCollection = "push_subscriptions"

// SubscriptionStore implements dispatch.SubscriptionStore using Google Cloud Firestore.
type SubscriptionStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewSubscriptionStore(client *firestore.Client) *SubscriptionStore {
	return &SubscriptionStore{client: client, now: time.Now}
}

// subscriptionRecord is the document representation.
type subscriptionRecord struct {
	ID             string     `firestore:"id"`
	UserID         string     `firestore:"user_id"`
	Endpoint       string     `firestore:"endpoint"`
	P256dh         string     `firestore:"p256dh"`
	Auth           string     `firestore:"auth"`
	ExpirationTime *time.Time `firestore:"expiration_time"`
	CreatedAt      time.Time  `firestore:"created_at"`
	UpdatedAt      time.Time  `firestore:"updated_at"`
}

func (r subscriptionRecord) toSubscription() dispatch.PushSubscription {
	return dispatch.PushSubscription{
		ID:             r.ID,
		UserID:         r.UserID,
		Endpoint:       r.Endpoint,
		Keys:           dispatch.PushKeys{P256dh: r.P256dh, Auth: r.Auth},
		ExpirationTime: r.ExpirationTime,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

// Save runs a read-modify-write transaction on the (user, endpoint) document.
func (s *SubscriptionStore) Save(ctx context.Context, user urn.URN, in dispatch.PushSubscriptionInput) (*dispatch.PushSubscription, error) {
	ref := s.subscriptionRef(user, in.Endpoint)
	var saved subscriptionRecord

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now().UTC()
		record := subscriptionRecord{
			ID:        uuid.NewString(),
			UserID:    user.String(),
			Endpoint:  in.Endpoint,
			CreatedAt: now,
		}

		doc, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := doc.DataTo(&record); err != nil {
				return fmt.Errorf("corrupt subscription document %s: %w", ref.ID, err)
			}
		}

		record.P256dh = in.Keys.P256dh
		record.Auth = in.Keys.Auth
		record.ExpirationTime = in.ExpirationTime
		record.UpdatedAt = now
		saved = record
		return tx.Set(ref, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save subscription for %s: %w", user, err)
	}

	sub := saved.toSubscription()
	return &sub, nil
}

func (s *SubscriptionStore) Find(ctx context.Context, user urn.URN, endpoint string) (*dispatch.PushSubscription, error) {
	doc, err := s.subscriptionRef(user, endpoint).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription for %s: %w", user, err)
	}
	var record subscriptionRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("corrupt subscription document %s: %w", doc.Ref.ID, err)
	}
	sub := record.toSubscription()
	return &sub, nil
}

func (s *SubscriptionStore) FindAllForUser(ctx context.Context, user urn.URN) ([]dispatch.PushSubscription, error) {
	subs, err := s.collect(s.client.Collection(subscriptionsCollection).Where("user_id", "==", user.String()).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions for %s: %w", user, err)
	}
	// Ordered in memory so the query needs no composite index.
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	return subs, nil
}

func (s *SubscriptionStore) FindAll(ctx context.Context) ([]dispatch.PushSubscription, error) {
	subs, err := s.collect(s.client.Collection(subscriptionsCollection).Documents(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionStore) DeleteByUserAndEndpoint(ctx context.Context, user urn.URN, endpoint string) error {
	// Deleting a missing document is not an error in Firestore.
	if _, err := s.subscriptionRef(user, endpoint).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete subscription for %s: %w", user, err)
	}
	return nil
}

func (s *SubscriptionStore) DeleteByID(ctx context.Context, id string) error {
	iter := s.client.Collection(subscriptionsCollection).Where("id", "==", id).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up subscription %s: %w", id, err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete subscription %s: %w", id, err)
		}
	}
}

func (s *SubscriptionStore) collect(iter *firestore.DocumentIterator) ([]dispatch.PushSubscription, error) {
	defer iter.Stop()

	subs := make([]dispatch.PushSubscription, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return subs, nil
		}
		if err != nil {
			return nil, err
		}
		var record subscriptionRecord
		if err := doc.DataTo(&record); err != nil {
			// A corrupt document must not block delivery to the rest.
			continue
		}
		subs = append(subs, record.toSubscription())
	}
}

// subscriptionRef: push_subscriptions/{sha256(user|endpoint)}
func (s *SubscriptionStore) subscriptionRef(user urn.URN, endpoint string) *firestore.DocumentRef {
	return s.client.Collection(subscriptionsCollection).Doc(hashKey(user.String(), endpoint))
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

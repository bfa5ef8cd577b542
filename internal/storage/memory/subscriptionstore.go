// Package memory provides process-local stores for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

type subscriptionKey struct {
	user     string
	endpoint string
}

// SubscriptionStore implements dispatch.SubscriptionStore in memory.
type SubscriptionStore struct {
	mu    sync.RWMutex
	byKey map[subscriptionKey]*dispatch.PushSubscription
	now   func() time.Time
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		byKey: make(map[subscriptionKey]*dispatch.PushSubscription),
		now:   time.Now,
	}
}

func (s *SubscriptionStore) Save(_ context.Context, user urn.URN, in dispatch.PushSubscriptionInput) (*dispatch.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := subscriptionKey{user: user.String(), endpoint: in.Endpoint}
	if existing, ok := s.byKey[key]; ok {
		existing.Keys = in.Keys
		existing.ExpirationTime = in.ExpirationTime
		existing.UpdatedAt = now
		out := *existing
		return &out, nil
	}

	sub := &dispatch.PushSubscription{
		ID:             uuid.NewString(),
		UserID:         key.user,
		Endpoint:       in.Endpoint,
		Keys:           in.Keys,
		ExpirationTime: in.ExpirationTime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.byKey[key] = sub
	out := *sub
	return &out, nil
}

func (s *SubscriptionStore) Find(_ context.Context, user urn.URN, endpoint string) (*dispatch.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.byKey[subscriptionKey{user: user.String(), endpoint: endpoint}]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	out := *sub
	return &out, nil
}

func (s *SubscriptionStore) FindAllForUser(_ context.Context, user urn.URN) ([]dispatch.PushSubscription, error) {
	return s.collect(func(sub *dispatch.PushSubscription) bool { return sub.UserID == user.String() }), nil
}

func (s *SubscriptionStore) FindAll(_ context.Context) ([]dispatch.PushSubscription, error) {
	return s.collect(func(*dispatch.PushSubscription) bool { return true }), nil
}

func (s *SubscriptionStore) DeleteByUserAndEndpoint(_ context.Context, user urn.URN, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, subscriptionKey{user: user.String(), endpoint: endpoint})
	return nil
}

func (s *SubscriptionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sub := range s.byKey {
		if sub.ID == id {
			delete(s.byKey, key)
			return nil
		}
	}
	return nil
}

func (s *SubscriptionStore) collect(match func(*dispatch.PushSubscription) bool) []dispatch.PushSubscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dispatch.PushSubscription, 0, len(s.byKey))
	for _, sub := range s.byKey {
		if match(sub) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Package cache decorates a dispatch.SubscriptionStore with a Redis
// read-aside cache of each user's subscription list.
package cache

import (
	"context"
	"log/slog"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// Client is the subset of cache commands the decorator needs.
type Client interface {
	// Get decodes the value into dest or returns an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SubscriptionStore caches FindAllForUser and invalidates on every write.
// Each cached subscription also gets an id→user entry so DeleteByID can find
// the list it must invalidate.
type SubscriptionStore struct {
	next   dispatch.SubscriptionStore
	cache  Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewSubscriptionStore(next dispatch.SubscriptionStore, cache Client, ttl time.Duration, logger *slog.Logger) *SubscriptionStore {
	return &SubscriptionStore{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "SubscriptionCache"),
	}
}

func (s *SubscriptionStore) FindAllForUser(ctx context.Context, user urn.URN) ([]dispatch.PushSubscription, error) {
	key := listKey(user.String())

	var cached []dispatch.PushSubscription
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.next.FindAllForUser(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a failed fill just means the next read goes to the store.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Debug("Failed to cache subscriptions", "user", user.String(), "err", err)
		return fresh, nil
	}
	// Index entries must outlive the list, or DeleteByID could miss a cached list.
	for _, sub := range fresh {
		if err := s.cache.Set(ctx, ownerKey(sub.ID), sub.UserID, s.indexTTL()); err != nil {
			s.logger.Debug("Failed to index subscription owner, dropping cached list", "subscription_id", sub.ID, "err", err)
			if err := s.cache.Del(ctx, key); err != nil {
				s.logger.Warn("Failed to drop unindexed subscription list", "user", user.String(), "err", err)
			}
			return fresh, nil
		}
	}
	return fresh, nil
}

func (s *SubscriptionStore) Save(ctx context.Context, user urn.URN, in dispatch.PushSubscriptionInput) (*dispatch.PushSubscription, error) {
	sub, err := s.next.Save(ctx, user, in)
	if err != nil {
		return nil, err
	}
	return sub, s.cache.Del(ctx, listKey(user.String()))
}

func (s *SubscriptionStore) DeleteByUserAndEndpoint(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.next.DeleteByUserAndEndpoint(ctx, user, endpoint); err != nil {
		return err
	}
	// Must clear even on success so delivery stops immediately.
	return s.cache.Del(ctx, listKey(user.String()))
}

func (s *SubscriptionStore) DeleteByID(ctx context.Context, id string) error {
	var owner string
	indexed := s.cache.Get(ctx, ownerKey(id), &owner) == nil

	if err := s.next.DeleteByID(ctx, id); err != nil {
		return err
	}
	if !indexed {
		return nil
	}
	return s.cache.Del(ctx, listKey(owner), ownerKey(id))
}

func (s *SubscriptionStore) Find(ctx context.Context, user urn.URN, endpoint string) (*dispatch.PushSubscription, error) {
	return s.next.Find(ctx, user, endpoint)
}

func (s *SubscriptionStore) FindAll(ctx context.Context) ([]dispatch.PushSubscription, error) {
	return s.next.FindAll(ctx)
}

func (s *SubscriptionStore) indexTTL() time.Duration {
	return 2 * s.ttl
}

func listKey(user string) string {
	return "push:subs:" + user
}

func ownerKey(id string) string {
	return "push:sub-owner:" + id
}

package memory

import (
	"context"
	"sort"
	"sync"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// WebhookStore implements dispatch.WebhookStore in memory.
type WebhookStore struct {
	mu   sync.RWMutex
	byID map[string]*dispatch.Webhook
}

func NewWebhookStore() *WebhookStore {
	return &WebhookStore{byID: make(map[string]*dispatch.Webhook)}
}

func (s *WebhookStore) CreateWebhook(_ context.Context, w *dispatch.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneWebhook(*w)
	s.byID[w.ID] = &stored
	return nil
}

func (s *WebhookStore) GetWebhook(_ context.Context, id string) (*dispatch.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byID[id]
	if !ok {
		return nil, dispatch.ErrNotFound
	}
	out := cloneWebhook(*w)
	return &out, nil
}

func (s *WebhookStore) ListWebhooksByOwner(_ context.Context, owner urn.URN) ([]dispatch.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dispatch.Webhook, 0)
	for _, w := range s.byID {
		if w.OwnerUserID == owner.String() {
			out = append(out, cloneWebhook(*w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *WebhookStore) UpdateWebhook(_ context.Context, owner urn.URN, id string, mutate func(*dispatch.Webhook) error) (*dispatch.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok || w.OwnerUserID != owner.String() {
		return nil, dispatch.ErrNotFound
	}
	draft := cloneWebhook(*w)
	if err := mutate(&draft); err != nil {
		return nil, err
	}
	s.byID[id] = &draft
	out := cloneWebhook(draft)
	return &out, nil
}

func (s *WebhookStore) DeleteWebhook(_ context.Context, owner urn.URN, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.byID[id]; ok && w.OwnerUserID == owner.String() {
		delete(s.byID, id)
	}
	return nil
}

func (s *WebhookStore) RecordDelivery(_ context.Context, id string, status dispatch.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[id]
	if !ok {
		return nil
	}
	sentAt := status.SentAt
	w.LastSentAt = &sentAt
	w.LastStatusCode = copyPtr(status.StatusCode)
	w.LastError = copyPtr(status.Error)
	return nil
}

// cloneWebhook detaches the pointer fields so callers never alias stored state.
func cloneWebhook(w dispatch.Webhook) dispatch.Webhook {
	w.LastSentAt = copyPtr(w.LastSentAt)
	w.LastStatusCode = copyPtr(w.LastStatusCode)
	w.LastError = copyPtr(w.LastError)
	return w
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

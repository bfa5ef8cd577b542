// Package fanout delivers one push payload to every subscription of a user,
// or of everyone, and prunes the subscriptions the push service reports gone.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const pruneTimeout = 10 * time.Second

type result uint8

const (
	unsettled result = iota
	sent
	failed
	expired
)

// Coordinator fans a payload out through a PushSender.
type Coordinator struct {
	store          dispatch.SubscriptionStore
	sender         dispatch.PushSender
	maxConcurrency int
	metrics        *metrics.Recorder
	logger         *slog.Logger
}

func NewCoordinator(
	store dispatch.SubscriptionStore,
	sender dispatch.PushSender,
	maxConcurrency int,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *Coordinator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Coordinator{
		store:          store,
		sender:         sender,
		maxConcurrency: maxConcurrency,
		metrics:        rec,
		logger:         logger.With("component", "PushFanout"),
	}
}

// DispatchToUser sends payload to every subscription of user.
// The error is non-nil only when the subscriptions could not be read.
func (c *Coordinator) DispatchToUser(ctx context.Context, user urn.URN, payload []byte) (dispatch.FanoutSummary, error) {
	subs, err := c.store.FindAllForUser(ctx, user)
	if err != nil {
		return dispatch.FanoutSummary{}, fmt.Errorf("failed to resolve subscriptions for %s: %w", user, err)
	}
	summary := c.fanout(ctx, subs, payload)
	c.logger.Info("Push fan-out complete", "user", user.String(),
		"total", summary.Total, "sent", summary.Sent, "failed", summary.Failed, "removed", summary.Removed)
	return summary, nil
}

// DispatchToAll sends payload to every stored subscription.
func (c *Coordinator) DispatchToAll(ctx context.Context, payload []byte) (dispatch.FanoutSummary, error) {
	subs, err := c.store.FindAll(ctx)
	if err != nil {
		return dispatch.FanoutSummary{}, fmt.Errorf("failed to resolve subscriptions: %w", err)
	}
	summary := c.fanout(ctx, subs, payload)
	c.logger.Info("Broadcast push fan-out complete",
		"total", summary.Total, "sent", summary.Sent, "failed", summary.Failed, "removed", summary.Removed)
	return summary, nil
}

func (c *Coordinator) fanout(ctx context.Context, subs []dispatch.PushSubscription, payload []byte) dispatch.FanoutSummary {
	summary := dispatch.FanoutSummary{Total: len(subs)}
	if len(subs) == 0 {
		return summary
	}

	// Each goroutine writes only its own slot.
	results := make([]result, len(subs))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for i := range subs {
		if ctx.Err() != nil {
			// Not started; stays unsettled and counts as failed.
			break
		}
		g.Go(func() error {
			err := c.sender.Send(ctx, subs[i], payload)
			switch {
			case err == nil:
				results[i] = sent
			case errors.Is(err, dispatch.ErrExpiredSubscription):
				results[i] = expired
			default:
				c.logger.Debug("Push delivery failed", "subscription_id", subs[i].ID, "err", err)
				results[i] = failed
			}
			return nil
		})
	}
	_ = g.Wait()

	var prune []string
	for i, r := range results {
		switch r {
		case sent:
			summary.Sent++
		case expired:
			prune = append(prune, subs[i].ID)
			summary.Failed++
		default:
			summary.Failed++
		}
	}

	summary.Removed = c.prune(ctx, prune)
	c.metrics.PushFanout(summary.Sent, summary.Failed, summary.Removed)
	return summary
}

// prune deletes each id independently; failures are logged and not counted.
// It outlives a cancelled fan-out so known-dead subscriptions still go.
func (c *Coordinator) prune(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	defer cancel()

	removed := 0
	for _, id := range ids {
		if err := c.store.DeleteByID(ctx, id); err != nil {
			c.logger.Warn("Failed to prune expired subscription", "subscription_id", id, "err", err)
			continue
		}
		removed++
	}
	return removed
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/notification"
)

// PushFanout is the push side of a delivery.
type PushFanout interface {
	DispatchToUser(ctx context.Context, user urn.URN, payload []byte) (dispatch.FanoutSummary, error)
	DispatchToAll(ctx context.Context, payload []byte) (dispatch.FanoutSummary, error)
}

// WebhookDeliverer is the webhook side of a delivery.
type WebhookDeliverer interface {
	DeliverToOwner(ctx context.Context, owner urn.URN, snap notification.Snapshot) ([]dispatch.DeliveryOutcome, error)
}

// NewProcessor fans each request out to push subscriptions and, for
// targeted requests, to the recipient's webhooks. The two channels run
// concurrently and independently. An error is returned, so Pub/Sub
// redelivers the message, only when neither channel could resolve its
// targets.
func NewProcessor(
	push PushFanout,
	hooks WebhookDeliverer,
	rec *metrics.Recorder,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[DeliveryRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *DeliveryRequest) error {
		snap := request.Snapshot.Snapshot
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"kind", string(snap.Kind()),
			"broadcast", request.Broadcast,
		)

		payload, err := notification.EncodePush(snap)
		if err != nil {
			rec.PipelineMessage("failed")
			procLogger.Error("Failed to render push payload", "err", err)
			return err
		}

		if request.Broadcast {
			summary, err := push.DispatchToAll(ctx, payload)
			if err != nil {
				rec.PipelineMessage("failed")
				procLogger.Error("Broadcast fan-out failed", "err", err)
				return err
			}
			rec.PipelineMessage("processed")
			procLogger.Info("Broadcast dispatched", "total", summary.Total, "sent", summary.Sent, "removed", summary.Removed)
			return nil
		}

		recipient := request.Recipient()
		procLogger = procLogger.With("recipient_id", recipient.String())

		pushErr := make(chan error, 1)
		go func() {
			summary, err := push.DispatchToUser(ctx, recipient, payload)
			if err == nil {
				procLogger.Info("Push dispatched",
					"total", summary.Total, "sent", summary.Sent, "failed", summary.Failed, "removed", summary.Removed)
			}
			pushErr <- err
		}()

		outcomes, hookErr := hooks.DeliverToOwner(ctx, recipient, snap)
		if hookErr == nil && len(outcomes) > 0 {
			sent := 0
			for _, o := range outcomes {
				if o.Status == dispatch.ResultSent {
					sent++
				}
			}
			procLogger.Info("Webhooks dispatched", "total", len(outcomes), "sent", sent)
		}

		pErr := <-pushErr
		err = errors.Join(wrap("push", pErr), wrap("webhook", hookErr))
		switch {
		case err == nil:
			rec.PipelineMessage("processed")
			return nil
		case pErr != nil && hookErr != nil:
			// Nothing was delivered, so a redelivery cannot duplicate anything.
			rec.PipelineMessage("failed")
			procLogger.Error("Delivery target resolution failed", "err", err)
			return err
		default:
			// One channel delivered. Redelivering would repeat it, so the
			// failed channel gets no second attempt for this trigger.
			rec.PipelineMessage("partial")
			procLogger.Error("Delivery target resolution failed for one channel", "err", err)
			return nil
		}
	}
}

func wrap(channel string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", channel, err)
}

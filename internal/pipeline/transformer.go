// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/notification"
)

// DeliveryRequest is the Pub/Sub wire format: one snapshot for one
// recipient, or for every push subscription when Broadcast is set.
type DeliveryRequest struct {
	RecipientID string                `json:"recipientId"`
	Broadcast   bool                  `json:"broadcast,omitempty"`
	Snapshot    notification.Envelope `json:"snapshot"`

	recipient urn.URN
}

// Recipient is the parsed RecipientID. It is only meaningful for
// non-broadcast requests that passed the transformer.
func (r *DeliveryRequest) Recipient() urn.URN {
	return r.recipient
}

// DeliveryRequestTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload into a DeliveryRequest. Anything it cannot
// use is skipped so the StreamingService can handle the Nack/DLQ logic.
func DeliveryRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*DeliveryRequest, bool, error) {
	var req DeliveryRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal delivery request from message %s: %w", msg.ID, err)
	}
	if req.Snapshot.Snapshot == nil {
		return nil, true, fmt.Errorf("delivery request %s has no snapshot", msg.ID)
	}
	if !req.Broadcast {
		recipient, err := urn.Parse(req.RecipientID)
		if err != nil {
			return nil, true, fmt.Errorf("delivery request %s has invalid recipient %q: %w", msg.ID, req.RecipientID, err)
		}
		req.recipient = recipient
	}
	return &req, false, nil
}

//go:build integration

package deliveryservice_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/memory"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/webhook"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

const followRequest = `{"recipientId":"urn:sm:user:integ-user","snapshot":{"type":"follow","id":"n-1",
	"recipientId":"urn:sm:user:integ-user","createdAt":"2026-01-02T03:04:05Z",
	"actor":{"id":"u-2","handle":"bob","displayName":"Bob"}}}`

func TestDeliveryService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	t.Run("Request reaches push and webhook channels", func(t *testing.T) {
		topicID := "delivery-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID, nil)

		var hookMu sync.Mutex
		var hookBodies [][]byte
		var hookSignatures []string
		hookServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			hookMu.Lock()
			hookBodies = append(hookBodies, body)
			hookSignatures = append(hookSignatures, r.Header.Get("X-Webhook-Signature"))
			hookMu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(hookServer.Close)

		stores := deliveryservice.Stores{
			Subscriptions: memory.NewSubscriptionStore(),
			Webhooks:      memory.NewWebhookStore(),
		}
		user, _ := urn.Parse("urn:sm:user:integ-user")
		_, err := stores.Subscriptions.Save(ctx, user, dispatch.PushSubscriptionInput{
			Endpoint: "https://push.example.com/integ",
			Keys:     dispatch.PushKeys{P256dh: "p", Auth: "a"},
		})
		require.NoError(t, err)

		cfg := newTestConfig()
		cfg.SubscriptionID = subID
		registry := webhook.NewRegistry(stores.Webhooks, cfg.Webhook.SecretHashKey, logger)
		issued, err := registry.Create(ctx, user, webhook.CreateInput{Name: "integ", Endpoint: hookServer.URL})
		require.NoError(t, err)

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		sender := &recordingSender{}
		svc, err := deliveryservice.New(cfg, consumer, stores, sender, metrics.New(), func(h http.Handler) http.Handler { return h }, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: []byte(followRequest)}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return len(sender.Endpoints()) == 1
		}, 10*time.Second, 100*time.Millisecond)
		assert.Equal(t, []string{"https://push.example.com/integ"}, sender.Endpoints())

		require.Eventually(t, func() bool {
			hookMu.Lock()
			defer hookMu.Unlock()
			return len(hookBodies) == 1
		}, 10*time.Second, 100*time.Millisecond)

		hookMu.Lock()
		defer hookMu.Unlock()
		assert.True(t, webhook.Verify(issued.PlainSecret, hookBodies[0], hookSignatures[0]))
	})

	t.Run("Poison pill is dead-lettered", func(t *testing.T) {
		runID := uuid.NewString()
		dlqTopicID := "delivery-dlq-" + runID
		dlqSubID := dlqTopicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqSubID, nil)

		mainTopicID := "delivery-main-" + runID
		mainSubID := mainTopicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, mainTopicID, mainSubID, &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID),
			MaxDeliveryAttempts: 5,
		})

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(mainSubID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		cfg := newTestConfig()
		cfg.SubscriptionID = mainSubID
		sender := &recordingSender{}
		stores := deliveryservice.Stores{
			Subscriptions: memory.NewSubscriptionStore(),
			Webhooks:      memory.NewWebhookStore(),
		}
		svc, err := deliveryservice.New(cfg, consumer, stores, sender, nil, func(h http.Handler) http.Handler { return h }, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		poison := []byte(`{"this is not valid json"`)
		_, err = psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poison}).Get(ctx)
		require.NoError(t, err)

		var received *pubsub.Message
		rctx, rcancel := context.WithTimeout(ctx, 20*time.Second)
		defer rcancel()
		err = psClient.Subscriber(dlqSubID).Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			received = msg
			rcancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("DLQ receive failed: %v", err)
		}

		require.NotNil(t, received, "poison pill never reached the DLQ")
		assert.Equal(t, poison, received.Data)
		assert.Empty(t, sender.Endpoints())
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string, dlq *pubsubpb.DeadLetterPolicy) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy:   dlq,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}

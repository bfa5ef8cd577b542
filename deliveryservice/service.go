// Package deliveryservice assembles the delivery engine: the HTTP API for
// push subscriptions and webhooks, plus the Pub/Sub pipeline that fans
// notification snapshots out to both channels.
package deliveryservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/api"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/fanout"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/pipeline"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/webhook"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// Stores groups the persistence the service needs.
type Stores struct {
	Subscriptions dispatch.SubscriptionStore
	Webhooks      dispatch.WebhookStore
}

type Wrapper struct {
	*microservice.BaseServer
	// pipelineService is nil when no Pub/Sub subscription is configured.
	pipelineService *messagepipeline.StreamingService[pipeline.DeliveryRequest]
	logger          *slog.Logger
}

// New assembles the service. A nil consumer runs the HTTP API only.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	stores Stores,
	pushSender dispatch.PushSender,
	rec *metrics.Recorder,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Delivery channels
	coordinator := fanout.NewCoordinator(stores.Subscriptions, pushSender, cfg.Push.MaxConcurrency, rec, logger)
	registry := webhook.NewRegistry(stores.Webhooks, cfg.Webhook.SecretHashKey, logger)
	hookDispatcher := webhook.NewDispatcher(stores.Webhooks, cfg.Webhook, rec, logger)

	// 3. Pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.DeliveryRequest]
	if consumer != nil {
		processor := pipeline.NewProcessor(coordinator, hookDispatcher, rec, logger)
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.DeliveryRequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	} else {
		logger.Info("No subscription configured, pipeline disabled")
	}

	// 4. API
	pushAPI := api.NewPushAPI(stores.Subscriptions, cfg.Vapid.PublicKey, logger)
	webhookAPI := api.NewWebhookAPI(registry, hookDispatcher, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// The key is public: browsers fetch it before anyone signs in.
	mux.Handle("GET /api/v1/push/vapid-public-key", corsMiddleware(http.HandlerFunc(pushAPI.PublicKey)))

	handle("POST /api/v1/push/subscriptions", pushAPI.Subscribe)
	handle("DELETE /api/v1/push/subscriptions", pushAPI.Unsubscribe)
	handle("GET /api/v1/push/subscriptions/status", pushAPI.Status)

	handle("POST /api/v1/webhooks", webhookAPI.Create)
	handle("GET /api/v1/webhooks", webhookAPI.List)
	handle("PATCH /api/v1/webhooks/{id}", webhookAPI.Update)
	handle("DELETE /api/v1/webhooks/{id}", webhookAPI.Delete)
	handle("POST /api/v1/webhooks/{id}/test", webhookAPI.TestSend)

	mux.Handle("GET /internal/metrics", rec.Handler())

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Delivery pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

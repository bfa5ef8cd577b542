package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice"
	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/metrics"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/platform/web"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/cache"
	fsStore "github.com/tokuzou0829/twitter-clone-sub001/internal/storage/firestore"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/memory"
	"github.com/tokuzou0829/twitter-clone-sub001/internal/storage/postgres"
)

//go:embed local.yaml
var configFile []byte

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "delivery-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Stores ---
	stores, closeStores, err := newStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("Storage initialization failed", "backend", cfg.Storage, "err", err)
		os.Exit(1)
	}
	defer closeStores()

	// --- Auth ---
	identityURL := cfg.IdentityServiceURL
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Push ---
	webDispatcher := web.NewDispatcher(cfg.Vapid, cfg.Push.Timeout, logger)
	logger.Info("Web Push enabled", "public_key", webDispatcher.PublicKey())

	// --- Consumer ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Consumer creation failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := deliveryservice.New(cfg, consumer, stores, webDispatcher, metrics.New(), authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service stopped with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}
}

// newStores builds the configured backend and, when Redis is enabled, puts
// the read-aside cache in front of subscription lookups.
func newStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deliveryservice.Stores, func(), error) {
	var stores deliveryservice.Stores
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage {
	case config.StorageFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return stores, closeAll, fmt.Errorf("firestore client: %w", err)
		}
		closers = append(closers, func() { _ = fsClient.Close() })
		stores.Subscriptions = fsStore.NewSubscriptionStore(fsClient)
		stores.Webhooks = fsStore.NewWebhookStore(fsClient)

	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return stores, closeAll, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.RunMigrations(ctx); err != nil {
			closeAll()
			return stores, func() {}, err
		}
		logger.Info("Database migrations completed")
		stores.Subscriptions = postgres.NewSubscriptionStore(db)
		stores.Webhooks = postgres.NewWebhookStore(db)

	default:
		logger.Warn("Using in-memory storage, data is lost on restart")
		stores.Subscriptions = memory.NewSubscriptionStore()
		stores.Webhooks = memory.NewWebhookStore()
	}
	logger.Info("Stores initialized", "backend", cfg.Storage)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return stores, func() {}, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		stores.Subscriptions = cache.NewSubscriptionStore(stores.Subscriptions, redisClient, cfg.Redis.TTL, logger)
	}
	return stores, closeAll, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	subConfig := &pubsubpb.Subscription{
		Name:               resourceName(cfg.ProjectID, "subscriptions", cfg.SubscriptionID),
		Topic:              resourceName(cfg.ProjectID, "topics", cfg.TopicID),
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     resourceName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("could not create subscription %s: %w", subConfig.Name, err)
		}
		logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
	}

	return messagepipeline.NewGooglePubsubConsumer(cfg.PubsubConsumerConfig, psClient, logger)
}

func resourceName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}

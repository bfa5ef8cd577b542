package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

// StorageBackend selects where subscriptions and webhooks live.
type StorageBackend string

const (
	StorageFirestore StorageBackend = "firestore"
	StoragePostgres  StorageBackend = "postgres"
	StorageMemory    StorageBackend = "memory"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultPushConcurrency = 16
	DefaultHookConcurrency = 8
	DefaultPushTTL         = 60
	DefaultSignatureHeader = "X-Webhook-Signature"
	DefaultUserAgent       = "twitter-clone-webhooks/1.0"
	DefaultCacheTTL        = 5 * time.Minute
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is the contact email or https URL placed in the VAPID token.
	Subscriber string
	TTL        int
	Urgency    string
}

type PushConfig struct {
	Timeout        time.Duration
	MaxConcurrency int
}

type WebhookConfig struct {
	// SecretHashKey keys the hash that turns a plaintext secret into the
	// stored signing key.
	SecretHashKey   string
	SignatureHeader string
	Timeout         time.Duration
	MaxConcurrency  int
	UserAgent       string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	IdentityServiceURL     string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int

	CorsConfig  middleware.CorsConfig
	Storage     StorageBackend
	DatabaseURL string
	Redis       RedisConfig
	Vapid       VapidConfig
	Push        PushConfig
	Webhook     WebhookConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether a Pub/Sub subscription is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}
	overrideInt := func(key string, apply func(int)) {
		override(key, func(val string) {
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				apply(n)
			}
		})
	}
	overrideDuration := func(key string, apply func(time.Duration)) {
		override(key, func(val string) {
			if d, err := time.ParseDuration(val); err == nil && d > 0 {
				apply(d)
			}
		})
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("IDENTITY_SERVICE_URL", func(v string) { cfg.IdentityServiceURL = v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	overrideInt("NUM_PIPELINE_WORKERS", func(n int) { cfg.NumPipelineWorkers = n })

	override("STORAGE_BACKEND", func(v string) { cfg.Storage = StorageBackend(strings.ToLower(v)) })
	override("DATABASE_URL", func(v string) { cfg.DatabaseURL = v })

	// Redis Overrides
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	override("REDIS_ENABLED", func(v string) {
		enabled, _ := strconv.ParseBool(v)
		cfg.Redis.Enabled = enabled
	})

	// VAPID Overrides
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUBSCRIBER", func(v string) { cfg.Vapid.Subscriber = v })

	overrideDuration("PUSH_TIMEOUT", func(d time.Duration) { cfg.Push.Timeout = d })
	overrideInt("PUSH_MAX_CONCURRENCY", func(n int) { cfg.Push.MaxConcurrency = n })

	override("WEBHOOK_SECRET_HASH_KEY", func(v string) { cfg.Webhook.SecretHashKey = v })
	override("WEBHOOK_SIGNATURE_HEADER", func(v string) { cfg.Webhook.SignatureHeader = v })
	overrideDuration("WEBHOOK_TIMEOUT", func(d time.Duration) { cfg.Webhook.Timeout = d })
	overrideInt("WEBHOOK_MAX_CONCURRENCY", func(n int) { cfg.Webhook.MaxConcurrency = n })

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(corsOrigins string) {
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	})

	// 2. Defaults
	applyDefaults(cfg)

	// 3. Final Validation
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageFirestore
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = DefaultCacheTTL
	}
	if cfg.Vapid.TTL <= 0 {
		cfg.Vapid.TTL = DefaultPushTTL
	}
	if cfg.Push.Timeout <= 0 {
		cfg.Push.Timeout = DefaultDeliveryTimeout
	}
	if cfg.Push.MaxConcurrency <= 0 {
		cfg.Push.MaxConcurrency = DefaultPushConcurrency
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.Webhook.Timeout <= 0 {
		cfg.Webhook.Timeout = DefaultDeliveryTimeout
	}
	if cfg.Webhook.MaxConcurrency <= 0 {
		cfg.Webhook.MaxConcurrency = DefaultHookConcurrency
	}
	if cfg.Webhook.UserAgent == "" {
		cfg.Webhook.UserAgent = DefaultUserAgent
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage {
	case StorageFirestore, StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", dispatch.ErrConfiguration, cfg.Storage)
	}
	if cfg.ProjectID == "" && (cfg.Storage == StorageFirestore || cfg.PipelineEnabled()) {
		return fmt.Errorf("%w: project_id is required (set via YAML or PROJECT_ID env var)", dispatch.ErrConfiguration)
	}
	if cfg.Storage == StoragePostgres && cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: database_url is required for the postgres backend (set via YAML or DATABASE_URL env var)", dispatch.ErrConfiguration)
	}
	if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
		return fmt.Errorf("%w: VAPID key pair is required (VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY)", dispatch.ErrConfiguration)
	}
	if cfg.Webhook.SecretHashKey == "" {
		return fmt.Errorf("%w: webhook secret hash key is required (WEBHOOK_SECRET_HASH_KEY)", dispatch.ErrConfiguration)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis is enabled but no address is set", dispatch.ErrConfiguration)
	}
	return nil
}

package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
	Subscriber string `yaml:"subscriber"`
	TTL        int    `yaml:"ttl"`
	Urgency    string `yaml:"urgency"`
}

type YamlPushConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type YamlWebhookConfig struct {
	SecretHashKey   string        `yaml:"secret_hash_key"`
	SignatureHeader string        `yaml:"signature_header"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	UserAgent       string        `yaml:"user_agent"`
}

type YamlStorageConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string            `yaml:"project_id"`
	ListenAddr             string            `yaml:"listen_addr"`
	IdentityServiceURL     string            `yaml:"identity_service_url"`
	SubscriptionID         string            `yaml:"subscription_id"`
	SubscriptionDLQTopicID string            `yaml:"subscription_dlq_topic_id"`
	TopicID                string            `yaml:"topic_id"`
	NumPipelineWorkers     int               `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig    `yaml:"cors"`
	StorageConfig          YamlStorageConfig `yaml:"storage"`
	RedisConfig            YamlRedisConfig   `yaml:"redis"`
	VapidConfig            YamlVapidConfig   `yaml:"vapid"`
	PushConfig             YamlPushConfig    `yaml:"push"`
	WebhookConfig          YamlWebhookConfig `yaml:"webhook"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		IdentityServiceURL:     baseCfg.IdentityServiceURL,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Storage:     StorageBackend(baseCfg.StorageConfig.Backend),
		DatabaseURL: baseCfg.StorageConfig.DatabaseURL,
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      baseCfg.RedisConfig.TTL,
		},
		Vapid: VapidConfig{
			PublicKey:  baseCfg.VapidConfig.PublicKey,
			PrivateKey: baseCfg.VapidConfig.PrivateKey,
			Subscriber: baseCfg.VapidConfig.Subscriber,
			TTL:        baseCfg.VapidConfig.TTL,
			Urgency:    baseCfg.VapidConfig.Urgency,
		},
		Push: PushConfig{
			Timeout:        baseCfg.PushConfig.Timeout,
			MaxConcurrency: baseCfg.PushConfig.MaxConcurrency,
		},
		Webhook: WebhookConfig{
			SecretHashKey:   baseCfg.WebhookConfig.SecretHashKey,
			SignatureHeader: baseCfg.WebhookConfig.SignatureHeader,
			Timeout:         baseCfg.WebhookConfig.Timeout,
			MaxConcurrency:  baseCfg.WebhookConfig.MaxConcurrency,
			UserAgent:       baseCfg.WebhookConfig.UserAgent,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"storage", cfg.Storage,
	)

	return cfg, nil
}

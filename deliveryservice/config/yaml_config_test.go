package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"gopkg.in/yaml.v3"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:              "yaml-project",
			ListenAddr:             ":9000",
			IdentityServiceURL:     "http://identity.local",
			TopicID:                "yaml-topic",
			SubscriptionID:         "yaml-subscription",
			SubscriptionDLQTopicID: "yaml-dlq",
			NumPipelineWorkers:     5,
			CorsConfig: config.YamlCorsConfig{
				AllowedOrigins: []string{"http://yaml.com"},
				Role:           "editor",
			},
			StorageConfig: config.YamlStorageConfig{Backend: "postgres", DatabaseURL: "postgres://db"},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:  "yaml-public-key",
				PrivateKey: "yaml-private-key",
				Subscriber: "ops@example.com",
				TTL:        120,
				Urgency:    "high",
			},
			WebhookConfig: config.YamlWebhookConfig{
				SecretHashKey:   "hash-key",
				SignatureHeader: "X-Sig",
				Timeout:         3 * time.Second,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "http://identity.local", cfg.IdentityServiceURL)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		assert.Equal(t, config.StoragePostgres, cfg.Storage)
		assert.Equal(t, "postgres://db", cfg.DatabaseURL)
		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, 120, cfg.Vapid.TTL)
		assert.Equal(t, "high", cfg.Vapid.Urgency)
		assert.Equal(t, "hash-key", cfg.Webhook.SecretHashKey)
		assert.Equal(t, "X-Sig", cfg.Webhook.SignatureHeader)
		assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		cfg, err := config.NewConfigFromYaml(&config.YamlConfig{ProjectID: "minimal-project"}, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Empty(t, cfg.ListenAddr)
		assert.Nil(t, cfg.PubsubConsumerConfig)
		assert.False(t, cfg.PipelineEnabled())
	})

	t.Run("Durations decode from yaml strings", func(t *testing.T) {
		raw := []byte("push:\n  timeout: 7s\n  max_concurrency: 4\nredis:\n  ttl: 1m\n")
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
		require.NoError(t, err)
		assert.Equal(t, 7*time.Second, cfg.Push.Timeout)
		assert.Equal(t, 4, cfg.Push.MaxConcurrency)
		assert.Equal(t, time.Minute, cfg.Redis.TTL)
	})
}

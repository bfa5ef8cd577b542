package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokuzou0829/twitter-clone-sub001/deliveryservice/config"
	"github.com/tokuzou0829/twitter-clone-sub001/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Storage:            config.StorageMemory,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
			Webhook: config.WebhookConfig{SecretHashKey: "base-hash-key"},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUBSCRIBER", "env@test.com")
		t.Setenv("STORAGE_BACKEND", "Postgres")
		t.Setenv("DATABASE_URL", "postgres://env")
		t.Setenv("PUSH_TIMEOUT", "2s")
		t.Setenv("WEBHOOK_MAX_CONCURRENCY", "3")
		t.Setenv("WEBHOOK_SECRET_HASH_KEY", "env-hash-key")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, ,http://b.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.Subscriber)
		assert.Equal(t, config.StoragePostgres, finalCfg.Storage)
		assert.Equal(t, "postgres://env", finalCfg.DatabaseURL)
		assert.Equal(t, 2*time.Second, finalCfg.Push.Timeout)
		assert.Equal(t, 3, finalCfg.Webhook.MaxConcurrency)
		assert.Equal(t, "env-hash-key", finalCfg.Webhook.SecretHashKey)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults filled", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, config.DefaultDeliveryTimeout, finalCfg.Push.Timeout)
		assert.Equal(t, config.DefaultDeliveryTimeout, finalCfg.Webhook.Timeout)
		assert.Equal(t, config.DefaultPushConcurrency, finalCfg.Push.MaxConcurrency)
		assert.Equal(t, config.DefaultSignatureHeader, finalCfg.Webhook.SignatureHeader)
		assert.Equal(t, config.DefaultPushTTL, finalCfg.Vapid.TTL)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Memory backend runs without a project", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ProjectID = ""
		cfg.SubscriptionID = ""

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.False(t, finalCfg.PipelineEnabled())
	})

	failures := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"Missing ProjectID with pipeline", func(c *config.Config) { c.ProjectID = "" }},
		{"Missing VAPID private key", func(c *config.Config) { c.Vapid.PrivateKey = "" }},
		{"Missing webhook hash key", func(c *config.Config) { c.Webhook.SecretHashKey = "" }},
		{"Postgres without database url", func(c *config.Config) { c.Storage = config.StoragePostgres }},
		{"Unknown backend", func(c *config.Config) { c.Storage = "cassandra" }},
		{"Redis enabled without address", func(c *config.Config) { c.Redis.Enabled = true }},
	}
	for _, tc := range failures {
		t.Run("Validation Failure - "+tc.name, func(t *testing.T) {
			for _, key := range []string{"PROJECT_ID", "VAPID_PRIVATE_KEY", "WEBHOOK_SECRET_HASH_KEY", "DATABASE_URL", "STORAGE_BACKEND", "REDIS_ADDR"} {
				t.Setenv(key, "")
			}
			cfg := baseConfig()
			tc.mutate(cfg)
			_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
			assert.ErrorIs(t, err, dispatch.ErrConfiguration)
		})
	}
}

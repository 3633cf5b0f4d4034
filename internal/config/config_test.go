package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithToken(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	t.Setenv("MAILBOT_TELEGRAM_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadRequiresTelegramToken(t *testing.T) {
	viper.Reset()
	t.Setenv("MAILBOT_TELEGRAM_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAILBOT_TELEGRAM_TOKEN")
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadWithToken(t)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://api.mail.tm", cfg.Provider.BaseURL)
	assert.Equal(t, "wss://api.mail.tm", cfg.Provider.WSBaseURL)
	assert.Equal(t, 30*time.Second, cfg.Watch.KeepaliveInterval)
	assert.Equal(t, time.Second, cfg.Watch.BackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.Watch.BackoffMax)
	assert.Equal(t, 3, cfg.Watch.AuthRetryLimit)
	assert.Equal(t, 72*time.Hour, cfg.Watch.RestoreWindow)
	assert.Equal(t, 2*time.Second, cfg.Watch.RestoreStagger)
	assert.Equal(t, 256, cfg.Watch.QueueSize)
	assert.Equal(t, 200, cfg.Notify.PreviewLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, 5*time.Minute, cfg.Retention.SweepInterval)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "", cfg.Database.Type)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAILBOT_SERVER_PORT", "8080")
	t.Setenv("MAILBOT_WATCH_KEEPALIVE_INTERVAL", "45s")
	t.Setenv("MAILBOT_WATCH_AUTH_RETRY_LIMIT", "5")
	t.Setenv("MAILBOT_DATABASE_TYPE", "postgres")
	t.Setenv("MAILBOT_REDIS_ENABLED", "true")

	cfg := loadWithToken(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Watch.KeepaliveInterval)
	assert.Equal(t, 5, cfg.Watch.AuthRetryLimit)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadStripsChannelAtPrefix(t *testing.T) {
	t.Setenv("MAILBOT_TELEGRAM_CHANNEL_USERNAME", "@mychannel")

	cfg := loadWithToken(t)
	assert.Equal(t, "mychannel", cfg.Telegram.ChannelUsername)
}

func TestLoadTrimsTrailingSlashOnProviderURLs(t *testing.T) {
	t.Setenv("MAILBOT_PROVIDER_BASE_URL", "https://mail.example/")
	t.Setenv("MAILBOT_PROVIDER_WS_BASE_URL", "wss://mail.example/")

	cfg := loadWithToken(t)
	assert.Equal(t, "https://mail.example", cfg.Provider.BaseURL)
	assert.Equal(t, "wss://mail.example", cfg.Provider.WSBaseURL)
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("MAILBOT_WATCH_BACKOFF_INITIAL", "not-a-duration")

	cfg := loadWithToken(t)
	assert.Equal(t, time.Second, cfg.Watch.BackoffInitial)
}

func TestLoadSanitizesNonPositiveValues(t *testing.T) {
	t.Setenv("MAILBOT_WATCH_AUTH_RETRY_LIMIT", "-1")
	t.Setenv("MAILBOT_WATCH_QUEUE_SIZE", "0")
	t.Setenv("MAILBOT_POOL_WORKERS", "0")

	cfg := loadWithToken(t)
	assert.Equal(t, 3, cfg.Watch.AuthRetryLimit)
	assert.Equal(t, 256, cfg.Watch.QueueSize)
	assert.Equal(t, 8, cfg.Pool.Workers)
}

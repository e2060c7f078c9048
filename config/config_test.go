package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REALTIME_BROKER", "")
	t.Setenv("STORE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Realtime.Broker)
	assert.Equal(t, "postgres", cfg.Database.Store)
	assert.Equal(t, 7*24*time.Hour, cfg.Market.OfferExpiry)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REALTIME_BROKER", "nats")
	t.Setenv("STORE", "memory")
	t.Setenv("OFFER_EXPIRY_HOURS", "48")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Realtime.Broker)
	assert.Equal(t, "memory", cfg.Database.Store)
	assert.Equal(t, 48*time.Hour, cfg.Market.OfferExpiry)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown broker", mutate: func(c *Config) { c.Realtime.Broker = "kafka" }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Database.Store = "sqlite" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Outbox.BatchSize = 0 }, wantErr: true},
		{
			name: "default secret in production",
			mutate: func(c *Config) {
				c.Server.Env = "production"
				c.JWT.Secret = "change-this-secret-key"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Server:   ServerConfig{Env: "development"},
				Database: DatabaseConfig{Store: "memory"},
				JWT:      JWTConfig{Secret: "s"},
				Realtime: RealtimeConfig{Broker: "local"},
				Outbox:   OutboxConfig{BatchSize: 10},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

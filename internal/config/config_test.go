package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BUCKETEER_DATA_DIR", t.TempDir())
	t.Setenv("TRADING_MODE", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TradingModePaper, cfg.TradingMode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 120, cfg.Broker.RatePerMinute)
	assert.False(t, cfg.IsLive())
	assert.NotNil(t, cfg.Backup)
}

func TestLoad_LiveRequiresBroker(t *testing.T) {
	t.Setenv("BUCKETEER_DATA_DIR", t.TempDir())
	t.Setenv("TRADING_MODE", "live")
	t.Setenv("BROKER_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKER_BASE_URL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"paper ok", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.TradingMode = "yolo" }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"live ok", func(c *Config) {
			c.TradingMode = TradingModeLive
			c.Broker.BaseURL = "https://api.example.com"
			c.Broker.AccountID = "ACC1"
		}, false},
		{"live missing account", func(c *Config) {
			c.TradingMode = TradingModeLive
			c.Broker.BaseURL = "https://api.example.com"
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{TradingMode: TradingModePaper, Port: 8080, Broker: BrokerConfig{RatePerMinute: 60}}
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

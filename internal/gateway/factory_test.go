package gateway

import (
	"testing"

	"autoclose/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceFromConfig(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"bybit", "bybit"},
		{"", "bybit"},
		{"Binance", "binance"},
	}
	for _, tc := range cases {
		cfg := &config.Config{}
		cfg.Market.Provider = tc.provider
		src, err := NewSourceFromConfig(cfg)
		require.NoError(t, err, tc.provider)
		assert.Equal(t, tc.want, src.Name())
	}

	cfg := &config.Config{}
	cfg.Market.Provider = "okx"
	_, err := NewSourceFromConfig(cfg)
	assert.Error(t, err)

	_, err = NewSourceFromConfig(nil)
	assert.Error(t, err)
}

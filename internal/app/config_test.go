package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 14, cfg.RefundWindowDays)
	require.Equal(t, 5*time.Minute, cfg.SettingsCacheTTL)
	require.True(t, cfg.LowStockAlerts)
	require.True(t, cfg.DefaultTaxRate().IsZero())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("TAX_RATE", "0.14")
	t.Setenv("REFUND_WINDOW_DAYS", "30")
	t.Setenv("LOW_STOCK_ALERTS", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.DefaultTaxRate().Equal(decimal.RequireFromString("0.14")))
	require.Equal(t, 30, cfg.RefundWindowDays)
	require.False(t, cfg.LowStockAlerts)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"tax rate not a number": {"TAX_RATE", "abc"},
		"tax rate of one":       {"TAX_RATE", "1"},
		"negative tax rate":     {"TAX_RATE", "-0.1"},
		"zero window":           {"REFUND_WINDOW_DAYS", "0"},
		"zero rate limit":       {"RATE_LIMIT_PER_MINUTE", "0"},
		"short retention":       {"IDEMPOTENCY_RETENTION", "10m"},
		"bad duration":          {"SETTINGS_CACHE_TTL", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

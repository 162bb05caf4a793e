package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultsAndNormalises(t *testing.T) {
	t.Setenv("DB_DRIVER", " PostgreSQL ")
	t.Setenv("DB_WRITER_DSN", "postgres://w")
	t.Setenv("DB_READER_DSN", "")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("MESSAGING_ENABLED", "false")
	t.Setenv("OBS_PROMETHEUS_PATH", "metrics")
	t.Setenv("DISPATCH_STRATEGY", "SCORE")
	t.Setenv("CHECKOUT_CONFIRMATION_CHANNELS", "Phone, ,WhatsApp")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://w", cfg.Database.ReaderDSN)
	assert.Equal(t, "noop", cfg.Cache.Driver)
	assert.Equal(t, "noop", cfg.Messaging.Driver)
	assert.Equal(t, "/metrics", cfg.Observability.PrometheusPath)
	assert.Equal(t, "score", cfg.Dispatch.Strategy)
	assert.Equal(t, []string{"phone", "whatsapp"}, cfg.Checkout.ConfirmationChannels)
	assert.True(t, cfg.Checkout.RequiresConfirmation(" WhatsApp"))
	assert.False(t, cfg.Checkout.RequiresConfirmation("web"))
	assert.False(t, cfg.Checkout.RequiresConfirmation(""))
	assert.Equal(t, 200*time.Millisecond, cfg.Database.SlowQuery)
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"database driver": {"DB_DRIVER": "oracle"},
		"sample ratio":    {"OBS_TRACE_SAMPLE_RATIO": "1.5"},
		"strategy":        {"DISPATCH_STRATEGY": "random"},
		"timezone":        {"SHOP_TIMEZONE": "Mars/Olympus"},
		"payment":         {"PAYMENT_DRIVER": "http", "PAYMENT_BASE_URL": ""},
		"notification":    {"NOTIFICATION_ENABLED": "true", "NOTIFICATION_WEBHOOK_URL": ""},
		"shop latitude":   {"SHOP_LATITUDE": "91"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MESSAGING_ENABLED", "false")
			t.Setenv("CACHE_ENABLED", "false")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestShopLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Shop{Timezone: "Nowhere/Special"}.Location())
	assert.Equal(t, "Europe/Paris", Shop{Timezone: "Europe/Paris"}.Location().String())
}

func TestEnvHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("NIGHTOWL_INT", "twelve")
	t.Setenv("NIGHTOWL_FLOAT", " 2.5 ")
	t.Setenv("NIGHTOWL_DURATION", "soon")
	t.Setenv("NIGHTOWL_LIST", " , ")

	assert.Equal(t, 7, getEnvAsInt("NIGHTOWL_INT", 7))
	assert.InDelta(t, 2.5, getEnvAsFloat("NIGHTOWL_FLOAT", 0), 1e-9)
	assert.Equal(t, time.Second, getEnvAsDuration("NIGHTOWL_DURATION", time.Second))
	assert.Equal(t, []string{"a"}, getEnvAsStringSlice("NIGHTOWL_LIST", []string{"a"}))
}

package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("GATEWAY_BASE_URL", "https://gateway.example/")
	t.Setenv("GATEWAY_API_KEY", "sk_test")
	t.Setenv("GATEWAY_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STORAGE_DRIVER", StorageMemory)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example", cfg.GatewayBaseURL)
	assert.Equal(t, "USD", cfg.Currency)
	assert.True(t, cfg.TaxRate.Equal(decimal.Zero))
	assert.Equal(t, 3, cfg.GatewayMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 2*time.Minute, cfg.RecoveryStaleAfter)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "checkout-events", cfg.KafkaTopic)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CURRENCY", "jpy")
	t.Setenv("TAX_RATE", "0.10")
	t.Setenv("SHIPPING_FLAT", "500")
	t.Setenv("FREE_SHIPPING_THRESHOLD", "5000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GATEWAY_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "JPY", cfg.Currency)
	assert.Equal(t, "0.1", cfg.TaxRate.String())
	assert.Equal(t, int64(500), cfg.ShippingFlat)
	assert.Equal(t, int64(5000), cfg.FreeShippingThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing port":        {"PORT": ""},
		"missing api key":     {"GATEWAY_API_KEY": ""},
		"negative tax":        {"TAX_RATE": "-0.1"},
		"bad tax":             {"TAX_RATE": "ten"},
		"bad currency":        {"CURRENCY": "EURO"},
		"bad duration":        {"GATEWAY_TIMEOUT": "soon"},
		"zero retries":        {"GATEWAY_MAX_RETRIES": "0"},
		"unknown storage":     {"STORAGE_DRIVER": "sqlite"},
		"postgres needs port": {"STORAGE_DRIVER": StoragePostgres, "DATABASE_URL": "", "POSTGRES_PORT": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{PostgresHost: "db", PostgresPort: 5432, PostgresUser: "u", PostgresPassword: "p", PostgresDB: "ec", PostgresSSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ec sslmode=disable", cfg.DSN())

	cfg.DatabaseURL = "postgres://x"
	assert.Equal(t, "postgres://x", cfg.DSN())
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 0.18, cfg.Business.TaxRate)
	assert.Equal(t, 0.05, cfg.Business.DeliveryCommissionRate)
	assert.Equal(t, 5, cfg.Business.EstimatedDeliveryDays)
	assert.False(t, cfg.Business.StrictAssignment)
	assert.Equal(t, "checkout-requests", cfg.Kafka.TopicCheckout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  driver: mongo
business:
  tax_rate: 0.2
  strict_assignment: true
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TAX_RATE", "0.1")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, 0.1, cfg.Business.TaxRate, "env overrides the file")
	assert.True(t, cfg.Business.StrictAssignment)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0.05, cfg.Business.DeliveryCommissionRate, "unset keys keep defaults")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero otp window", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("OTP_ATTEMPT_WINDOW_SECONDS", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "otp attempt window")
	})

	t.Run("zero otp window in validation", func(t *testing.T) {
		cfg := Defaults()
		cfg.Business.OtpAttemptWindowSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("malformed number", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("OTP_MAX_ATTEMPTS", "many")
		_, err := Load()
		assert.Error(t, err)
	})
}

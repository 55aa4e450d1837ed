package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Second, cfg.WatchdogInterval)
	assert.Equal(t, 5.0, cfg.GeofenceRadius)
	assert.Equal(t, 0.67, cfg.SellerShare)
	assert.Equal(t, 0.34, cfg.PenaltySellerShare)
	assert.Equal(t, 24*time.Hour, cfg.BanDuration)
	assert.Equal(t, 30*time.Second, cfg.DemoRequestDelay)
	assert.False(t, cfg.DemoMode)
}

func TestLoadServerConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parkswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
watchdog_interval: 2s
geofence_radius_m: 7.5
kafka_brokers: [a:9092, b:9092]
demo_mode: true
log_level: debug
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("DEMO_REQUEST_DELAY", "5s")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.WatchdogInterval)
	assert.Equal(t, 7.5, cfg.GeofenceRadius)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.DemoMode)
	assert.Equal(t, 5*time.Second, cfg.DemoRequestDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.67, cfg.SellerShare)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("WATCHDOG_INTERVAL", "soon")
	t.Setenv("SELLER_SHARE", "1.5")
	t.Setenv("DEMO_MODE", "maybe")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WATCHDOG_INTERVAL")
	assert.Contains(t, err.Error(), "seller_share")
	assert.Contains(t, err.Error(), "DEMO_MODE")
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("KAFKA_GROUP", "g")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "g", cfg.KafkaGroup)
	assert.Equal(t, "user-locations", cfg.KafkaTopic)
}

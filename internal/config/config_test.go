// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "http://localhost:5000", cfg.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectFloor)
	assert.Equal(t, 10*time.Second, cfg.ReconnectCeil)
	assert.Equal(t, 20, cfg.MaxReconnects)
	assert.Equal(t, 45*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, 20*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 10*time.Second, cfg.JoinRetryExpiry)
	assert.Equal(t, 4*time.Second, cfg.JoinFailDelay)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CASUS_SERVER_URL", "https://play.example.com")
	t.Setenv("CASUS_MAX_RECONNECTS", "5")
	t.Setenv("CASUS_SNAPSHOT_TTL", "10m")
	t.Setenv("CASUS_KEEPALIVE_INTERVAL", "junk") // unparseable falls back

	cfg := Load()
	assert.Equal(t, "https://play.example.com", cfg.ServerURL)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, 10*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, 45*time.Second, cfg.KeepAliveInterval)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bazaar/go/internal/auction/channel"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, cfg.Channel.Transport)
	assert.Equal(t, 8*time.Second, cfg.Channel.AckTimeout)
	assert.Equal(t, 2*time.Second, cfg.Channel.ReconnectDelay)
	assert.Equal(t, 5, cfg.Channel.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.Sync.ResyncInterval)
	assert.Equal(t, 3, cfg.Sync.FailureThreshold)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "bazaar.yaml", `
api:
  base_url: https://market.example.com
  user_id: alice
channel:
  transport: nats
  nats_url: nats://broker:4222
  ack_timeout: 3s
sync:
  resync_interval: 30s
hub:
  allowed_origins: ["https://app.example.com"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://market.example.com", cfg.API.BaseURL)
	assert.Equal(t, "alice", cfg.API.UserID)
	assert.Equal(t, TransportNATS, cfg.Channel.Transport)
	assert.Equal(t, 3*time.Second, cfg.Channel.AckTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sync.ResyncInterval)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Hub.AllowedOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.API.RequestTimeout)

	_, isNATS := cfg.Dialer().(*channel.NATSDialer)
	assert.True(t, isNATS)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "bazaar.yaml", "api:\n  token: from-file\n")
	t.Setenv("BAZAAR_TOKEN", "from-env")
	t.Setenv("BAZAAR_TRANSPORT", "NONE")
	t.Setenv("BAZAAR_RESYNC_INTERVAL", "1m")
	t.Setenv("BAZAAR_ALLOWED_ORIGINS", "http://a,http://b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.API.Token)
	assert.Equal(t, TransportNone, cfg.Channel.Transport)
	assert.Equal(t, time.Minute, cfg.Sync.ResyncInterval)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Hub.AllowedOrigins)
	assert.Nil(t, cfg.Dialer())
}

func TestLoad_InvalidEnvValuesKeepPrevious(t *testing.T) {
	t.Setenv("BAZAAR_ACK_TIMEOUT", "soon")
	t.Setenv("BAZAAR_MAX_RECONNECT_ATTEMPTS", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, cfg.Channel.AckTimeout)
	assert.Equal(t, 5, cfg.Channel.MaxReconnectAttempts)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad api url", "api:\n  base_url: ftp://x\n", "api.base_url"},
		{"bad ws url", "channel:\n  websocket_url: http://x/ws\n", "channel.websocket_url"},
		{"unknown transport", "channel:\n  transport: carrier-pigeon\n", "unknown transport"},
		{"zero duration", "sync:\n  tick_interval: 0s\n", "sync.tick_interval"},
		{"bad log level", "logging:\n  level: chatty\n", "logging.level"},
		{"malformed yaml", "api: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bazaar.yaml", tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadEnvFiles(t *testing.T) {
	path := writeFile(t, ".env", "BAZAAR_USER_ID=carol\n")
	t.Setenv("BAZAAR_USER_ID", "")
	os.Unsetenv("BAZAAR_USER_ID")

	require.NoError(t, LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"), path))
	t.Cleanup(func() { os.Unsetenv("BAZAAR_USER_ID") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.API.UserID)
}

func TestRoomDeps(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	deps := cfg.RoomDeps(nil)
	assert.Equal(t, cfg.Channel.AckTimeout, deps.Channel.AckTimeout)
	assert.Equal(t, cfg.Sync.BidTTL, deps.BidTTL)
	_, isWS := deps.Dialer.(*channel.WebSocketDialer)
	assert.True(t, isWS)
}

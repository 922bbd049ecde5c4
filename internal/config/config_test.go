package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
auth_token: secret
postgres_url: postgres://localhost/exitwatch
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.FeeCooldown())
	assert.Equal(t, DefaultRPCFallbacks, cfg.RPCFallbacks)
	assert.Equal(t, uint64(DefaultFeeFloorLow), cfg.FeeFloorLow)
}

func TestLoadConfig_MissingAuthToken(t *testing.T) {
	path := writeConfigFile(t, `
postgres_url: postgres://localhost/exitwatch
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_token")
}

func TestLoadConfig_InvalidFallbackURL(t *testing.T) {
	path := writeConfigFile(t, `
auth_token: secret
postgres_url: postgres://localhost/exitwatch
rpc_fallbacks:
  - "ftp://not-an-rpc"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC fallback")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("EXITWATCH_RPC_FALLBACKS", "https://rpc-a.example.com, https://rpc-b.example.com")

	path := writeConfigFile(t, `
auth_token: secret
postgres_url: postgres://localhost/exitwatch
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rpc-a.example.com", "https://rpc-b.example.com"}, cfg.RPCFallbacks)
}

func TestLoadConfig_InvalidTimeout(t *testing.T) {
	path := writeConfigFile(t, `
auth_token: secret
postgres_url: postgres://localhost/exitwatch
request_timeout_sec: 0
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout_sec")
}

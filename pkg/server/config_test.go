package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7475, cfg.Server.TCPPort)
	assert.Equal(t, 30, cfg.Limits.HistoryPageSize)

	// The commented default file is written for next time
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tcp_port = 7475")
}

func TestLoadConfigReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
tcp_port = 9999
database_path = "/tmp/other.db"

[limits]
max_message_length = 512
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.TCPPort)
	assert.Equal(t, "/tmp/other.db", cfg.Server.DatabasePath)
	assert.Equal(t, 512, cfg.Limits.MaxMessageLength)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_SERVER_TCP_PORT", "6000")
	t.Setenv("PARLEY_LIMITS_MAX_CONNECTIONS_PER_IP", "3")
	t.Setenv("PARLEY_SERVER_DATABASE_PATH", "/var/lib/parley.db")

	cfg := applyEnvOverrides(DefaultTOMLConfig())
	assert.Equal(t, 6000, cfg.Server.TCPPort)
	assert.Equal(t, 3, cfg.Limits.MaxConnectionsPerIP)
	assert.Equal(t, "/var/lib/parley.db", cfg.Server.DatabasePath)

	// Garbage values are ignored
	t.Setenv("PARLEY_SERVER_TCP_PORT", "not-a-port")
	cfg = applyEnvOverrides(DefaultTOMLConfig())
	assert.Equal(t, 7475, cfg.Server.TCPPort)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandPath("~/parley/data.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "parley", "data.db"), expanded)

	plain, err := ExpandPath("/opt/parley/data.db")
	require.NoError(t, err)
	assert.Equal(t, "/opt/parley/data.db", plain)
}

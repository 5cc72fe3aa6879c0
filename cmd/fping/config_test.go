package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "quic", cfg.Transport)
	assert.Equal(t, 4, cfg.Count)
	assert.Equal(t, uint64(1), cfg.Node)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fping.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = "10.0.0.1:9000"
transport = "tcp"
secure = true
count = 7
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "tcp", cfg.Transport)
	assert.True(t, cfg.Secure)
	assert.Equal(t, 7, cfg.Count)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.Size)
}

func TestLoadConfigBadTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fping.toml")
	require.NoError(t, os.WriteFile(path, []byte(`transport = "carrier-pigeon"`), 0o600))
	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigICETransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fping.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport = "ice"
stun_url = "stun:stun.l.google.com:19302"
ice_local = "local.json"
ice_remote = "remote.json"
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ice", cfg.Transport)
	assert.Equal(t, "stun:stun.l.google.com:19302", cfg.StunURL)
	assert.Equal(t, "local.json", cfg.IceLocal)
	assert.Equal(t, "remote.json", cfg.IceRemote)
}

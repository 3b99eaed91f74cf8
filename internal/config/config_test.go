package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsPlusEnvOverride(t *testing.T) {
	t.Setenv("BIFROST_LISTEN_ADDR", "127.0.0.1:5000")
	t.Setenv("BIFROST_CERT_PATH", "/tmp/cert.pem")
	t.Setenv("BIFROST_KEY_PATH", "/tmp/key.pem")
	t.Setenv("BIFROST_RPC_URL", "https://rpc.example.com")
	t.Setenv("BIFROST_WS_RPC_URL", "wss://rpc.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5000", cfg.Server.ListenAddr)
	assert.Equal(t, 1232, cfg.Server.MaxTransactionSize)
	assert.Equal(t, "solana-tpu", cfg.TPU.ALPN)
	assert.Equal(t, 40, cfg.Prewarm.Count)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositiveMaxTransactionSize(t *testing.T) {
	cfg := Defaults()
	cfg.Server.CertPath = "/tmp/cert.pem"
	cfg.Server.KeyPath = "/tmp/key.pem"
	cfg.RPC.URL = "https://rpc.example.com"
	cfg.RPC.WSURL = "wss://rpc.example.com"
	cfg.Server.MaxTransactionSize = 0

	err := cfg.Validate()
	assert.Error(t, err)
}

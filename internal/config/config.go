// Package config loads Bifrost's runtime configuration from a YAML file,
// a .env file, and environment variable overrides, in that order of
// increasing priority.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bifrost-gw/bifrost/internal/bifrosterr"
)

// Config holds every recognised Bifrost option (spec.md §3's configuration
// table).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	RPC     RPCConfig     `yaml:"rpc"`
	TPU     TPUConfig     `yaml:"tpu"`
	Prewarm PrewarmConfig `yaml:"prewarm"`
	Admin   AdminConfig   `yaml:"admin"`
}

// ServerConfig holds the client-facing WebTransport listener settings.
type ServerConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	CertPath           string `yaml:"cert_path"`
	KeyPath            string `yaml:"key_path"`
	MaxTransactionSize int    `yaml:"max_transaction_size"`
}

// RPCConfig holds the upstream Solana-cluster RPC endpoints.
type RPCConfig struct {
	URL                   string        `yaml:"rpc_url"`
	WSURL                 string        `yaml:"ws_rpc_url"`
	SocketRefreshInterval time.Duration `yaml:"socket_refresh_interval"`
}

// TPUConfig holds the outbound QUIC connection settings used to reach
// validator TPUs.
type TPUConfig struct {
	ALPN              string        `yaml:"tpu_alpn"`
	MaxIdleTimeout    time.Duration `yaml:"max_idle_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// PrewarmConfig controls the background connection-warming loop.
type PrewarmConfig struct {
	Count    int           `yaml:"prewarm_count"`
	Interval time.Duration `yaml:"prewarm_interval"`
}

// AdminConfig controls the operator-facing HTTP surface (health, metrics).
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Defaults returns the compiled-in baseline, matching the approximate
// values named throughout spec.md §3/§4.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:         "0.0.0.0:4433",
			MaxTransactionSize: 1232,
		},
		RPC: RPCConfig{
			SocketRefreshInterval: 60 * time.Second,
		},
		TPU: TPUConfig{
			ALPN:              "solana-tpu",
			MaxIdleTimeout:    5 * time.Second,
			KeepaliveInterval: 4 * time.Second,
		},
		Prewarm: PrewarmConfig{
			Count:    40,
			Interval: 2 * time.Second,
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load assembles the effective configuration: defaults, then an optional
// YAML file at path (skipped silently if path is empty or the file does
// not exist), then environment overrides. A ".env" file in the working
// directory is loaded first (if present) purely to populate process
// environment for the override pass, mirroring how the teacher's cmd/*
// entrypoints bootstrap local development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: reading %s: %v", bifrosterr.ErrConfig, path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", bifrosterr.ErrConfig, path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.ListenAddr = getEnv("BIFROST_LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.CertPath = getEnv("BIFROST_CERT_PATH", c.Server.CertPath)
	c.Server.KeyPath = getEnv("BIFROST_KEY_PATH", c.Server.KeyPath)
	c.Server.MaxTransactionSize = getEnvInt("BIFROST_MAX_TRANSACTION_SIZE", c.Server.MaxTransactionSize)

	c.RPC.URL = getEnv("BIFROST_RPC_URL", c.RPC.URL)
	c.RPC.WSURL = getEnv("BIFROST_WS_RPC_URL", c.RPC.WSURL)
	c.RPC.SocketRefreshInterval = getEnvDuration("BIFROST_SOCKET_REFRESH_INTERVAL", c.RPC.SocketRefreshInterval)

	c.TPU.ALPN = getEnv("BIFROST_TPU_ALPN", c.TPU.ALPN)
	c.TPU.MaxIdleTimeout = getEnvDuration("BIFROST_MAX_IDLE_TIMEOUT", c.TPU.MaxIdleTimeout)
	c.TPU.KeepaliveInterval = getEnvDuration("BIFROST_KEEPALIVE_INTERVAL", c.TPU.KeepaliveInterval)

	c.Prewarm.Count = getEnvInt("BIFROST_PREWARM_COUNT", c.Prewarm.Count)
	c.Prewarm.Interval = getEnvDuration("BIFROST_PREWARM_INTERVAL", c.Prewarm.Interval)

	c.Admin.ListenAddr = getEnv("BIFROST_ADMIN_LISTEN_ADDR", c.Admin.ListenAddr)
}

// Validate checks the invariants that make a ConfigError fatal at startup
// (spec.md §7).
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", bifrosterr.ErrConfig)
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen_addr %q: %v", bifrosterr.ErrConfig, c.Server.ListenAddr, err)
	}
	if c.Server.CertPath == "" || c.Server.KeyPath == "" {
		return fmt.Errorf("%w: cert_path and key_path are required", bifrosterr.ErrConfig)
	}
	if c.Server.MaxTransactionSize <= 0 {
		return fmt.Errorf("%w: max_transaction_size must be positive", bifrosterr.ErrConfig)
	}
	if c.RPC.URL == "" || c.RPC.WSURL == "" {
		return fmt.Errorf("%w: rpc_url and ws_rpc_url are required", bifrosterr.ErrConfig)
	}
	if c.Prewarm.Count < 0 {
		return fmt.Errorf("%w: prewarm_count must not be negative", bifrosterr.ErrConfig)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Package config loads and saves the gateway's TOML configuration file,
// following the same DefaultConfig/LoadConfig/SaveConfig shape the rest of
// the stack uses for its on-disk config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration tree, one struct per concern.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Models    ModelsConfig    `toml:"models"`
	Queue     QueueConfig     `toml:"queue"`
	Providers ProvidersConfig `toml:"providers"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Security  SecurityConfig  `toml:"security"`
	Logging   LoggingConfig   `toml:"logging"`
}

type NodeConfig struct {
	DataDir string `toml:"data_dir"`
	Threads int    `toml:"threads"`
}

type GatewayConfig struct {
	ListenAddr          string `toml:"listen_addr"`
	MaxBodyBytes        int64  `toml:"max_body_bytes"`
	LocalOnlyBypassAuth bool   `toml:"local_only_bypass_auth"`
}

type ModelsConfig struct {
	ModelRoot       string  `toml:"model_root"`
	MaxLoadedModels int     `toml:"max_loaded_models"`
	IdleTimeoutSecs int     `toml:"idle_timeout_secs"`
	MaxDiskGB       float64 `toml:"max_disk_gb"`
	MaxMemoryBytes  uint64  `toml:"max_memory_bytes"`
}

type QueueConfig struct {
	MaxQueueDepth                 int `toml:"max_queue_depth"`
	MaxConcurrentRequestsPerModel int `toml:"max_concurrent_requests_per_model"`
}

type ProvidersConfig struct {
	DefaultTTLSecs     int `toml:"default_ttl_secs"`
	RateLimitedTTLSecs int `toml:"rate_limited_ttl_secs"`
	ExhaustedTTLSecs   int `toml:"exhausted_ttl_secs"`
}

type ArtifactsConfig struct {
	ExpirySecs        int `toml:"expiry_secs"`
	InlineThresholdKB int `toml:"inline_threshold_kb"`
}

type SecurityConfig struct {
	CredentialSecret string `toml:"credential_secret"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	threads := runtime.NumCPU()
	return &Config{
		Node: NodeConfig{
			DataDir: defaultDataDir(),
			Threads: threads,
		},
		Gateway: GatewayConfig{
			ListenAddr:   "127.0.0.1:11535",
			MaxBodyBytes: 64 << 20,
		},
		Models: ModelsConfig{
			ModelRoot:       filepath.Join(defaultDataDir(), "models"),
			MaxLoadedModels: 3,
			IdleTimeoutSecs: 300,
			MaxDiskGB:       50,
			MaxMemoryBytes:  8 << 30,
		},
		Queue: QueueConfig{
			MaxQueueDepth:                 64,
			MaxConcurrentRequestsPerModel: 1,
		},
		Providers: ProvidersConfig{
			DefaultTTLSecs:     300,
			RateLimitedTTLSecs: 60,
			ExhaustedTTLSecs:   3600,
		},
		Artifacts: ArtifactsConfig{
			ExpirySecs:        24 * 3600,
			InlineThresholdKB: 64,
		},
		Security: SecurityConfig{
			CredentialSecret: "",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// GatewayHome returns the data directory, honoring the INFERENCEGATE_HOME
// override env var.
func GatewayHome() string {
	if v := os.Getenv("INFERENCEGATE_HOME"); v != "" {
		return v
	}
	return defaultDataDir()
}

func defaultDataDir() string {
	if v := os.Getenv("INFERENCEGATE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inferencegate"
	}
	return filepath.Join(home, ".inferencegate")
}

// LoadConfig reads <GatewayHome>/config.toml, returning defaults if absent.
func LoadConfig() (*Config, error) {
	path := filepath.Join(GatewayHome(), "config.toml")
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to <GatewayHome>/config.toml, creating the
// directory if necessary.
func SaveConfig(cfg *Config) error {
	dir := GatewayHome()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, "config.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// IdleTimeout converts the configured seconds to a time.Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Models.IdleTimeoutSecs) * time.Second
}

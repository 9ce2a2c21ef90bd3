package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultListen         = "127.0.0.1:8080"
	DefaultRPCURL         = "http://localhost:8545"
	DefaultBlockFrequency = 12
	DefaultRPCTimeout     = 10 * time.Second
	DefaultLogLevel       = "info"
)

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from a YAML file. An empty path yields Default().
// Keys absent from the file keep their defaults; keys present are taken as
// written, so an explicit zero is left for Validate to reject.
func Load(path string) (*AppConfig, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.RPC.HTTPURL == "" {
		cfg.RPC.HTTPURL = DefaultRPCURL
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = DefaultRPCTimeout
	}
	if cfg.Monitor.BlockFrequency == 0 {
		cfg.Monitor.BlockFrequency = DefaultBlockFrequency
	}
	if cfg.Subscriber.InitialBackoff == 0 {
		cfg.Subscriber.InitialBackoff = time.Second
	}
	if cfg.Subscriber.MaxBackoff == 0 {
		cfg.Subscriber.MaxBackoff = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
}

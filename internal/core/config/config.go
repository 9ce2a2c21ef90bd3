package config

import (
	"time"

	"github.com/vietddude/blockmon/internal/core/domain"
	redisclient "github.com/vietddude/blockmon/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	RPC        RPCConfig          `yaml:"rpc"`
	Monitor    MonitorConfig      `yaml:"monitor"`
	Subscriber SubscriberConfig   `yaml:"subscriber"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Tracing    TracingConfig      `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"` // host:port
}

// RPCConfig holds the node endpoints.
type RPCConfig struct {
	HTTPURL string        `yaml:"http_url"`
	WSURL   string        `yaml:"ws_url"` // optional; enables push mode
	Timeout time.Duration `yaml:"timeout"`
}

// MonitorConfig holds health evaluation settings.
type MonitorConfig struct {
	BlockFrequency uint64 `yaml:"block_frequency"` // seconds
}

// SubscriberConfig tunes the WebSocket reconnect loop.
type SubscriberConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxReconnects  int           `yaml:"max_reconnects"` // 0 = unlimited
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC host:port, "stdout", or empty for the OTEL_EXPORTER_OTLP_* defaults
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Mode returns push when a WebSocket endpoint is configured, poll otherwise.
func (c *AppConfig) Mode() domain.IngestMode {
	if c.RPC.WSURL != "" {
		return domain.IngestModePush
	}
	return domain.IngestModePoll
}

// RedisEnabled reports whether the head publisher should be started.
func (c *AppConfig) RedisEnabled() bool {
	return c.Redis.URL != ""
}

package ddapm

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Encoding selects the wire encoding and, with it, the agent endpoint.
type Encoding string

const (
	// EncodingMsgpack targets /v0.4/traces, the agent's preferred encoding.
	EncodingMsgpack Encoding = "msgpack"
	// EncodingJSON targets /v0.3/traces.
	EncodingJSON Encoding = "json"
)

// Config describes the agent connection and the client's buffering
// behavior. The zero value of any field falls back to its default, so
// callers only set what they need to change.
type Config struct {
	// AgentHost and AgentPort locate the local trace agent.
	AgentHost string `envconfig:"DD_AGENT_HOST" default:"localhost"`
	AgentPort int    `envconfig:"DD_TRACE_AGENT_PORT" default:"8126"`

	// ConnectTimeout and RequestTimeout bound each transmission. The agent
	// is local, so both default low.
	ConnectTimeout time.Duration `envconfig:"DD_TRACE_CONNECT_TIMEOUT" default:"100ms"`
	RequestTimeout time.Duration `envconfig:"DD_TRACE_REQUEST_TIMEOUT" default:"100ms"`

	// QueueSize caps pending traces. When full, the newest submission is
	// dropped and counted; Submit never blocks.
	QueueSize int `envconfig:"DD_TRACE_QUEUE_SIZE" default:"1000"`

	// BatchSize and FlushInterval bound batch accumulation: the worker
	// flushes at whichever threshold is reached first.
	BatchSize     int           `envconfig:"DD_TRACE_BATCH_SIZE" default:"100"`
	FlushInterval time.Duration `envconfig:"DD_TRACE_FLUSH_INTERVAL" default:"1s"`

	// CloseTimeout bounds the final flush on Close; traces still pending
	// afterwards are discarded.
	CloseTimeout time.Duration `envconfig:"DD_TRACE_CLOSE_TIMEOUT" default:"1s"`

	Encoding Encoding `envconfig:"DD_TRACE_ENCODING" default:"msgpack"`

	Logger *zap.Logger  `ignored:"true"`
	Clock  clockz.Clock `ignored:"true"`
}

// DefaultConfig returns the documented defaults: agent at localhost:8126,
// 100ms timeouts, 1000-trace queue, batches of 100 flushed every second,
// msgpack encoding. The environment is not consulted; see ConfigFromEnv.
func DefaultConfig() Config {
	return Config{
		AgentHost:      "localhost",
		AgentPort:      8126,
		ConnectTimeout: 100 * time.Millisecond,
		RequestTimeout: 100 * time.Millisecond,
		QueueSize:      1000,
		BatchSize:      100,
		FlushInterval:  time.Second,
		CloseTimeout:   time.Second,
		Encoding:       EncodingMsgpack,
	}
}

// ConfigFromEnv builds a Config from DD_* environment variables, using the
// documented defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("ddapm: config from environment: %w", err)
	}
	return cfg, nil
}

// EnvTagsFromEnv reads DD_ENV, DD_SERVICE and DD_VERSION.
func EnvTagsFromEnv() EnvTags {
	var tags EnvTags
	// Plain string fields; cannot fail.
	_ = envconfig.Process("", &tags)
	return tags
}

// withDefaults fills zero-valued fields so partially-populated literals
// behave like DefaultConfig with overrides.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AgentHost == "" {
		c.AgentHost = def.AgentHost
	}
	if c.AgentPort == 0 {
		c.AgentPort = def.AgentPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.QueueSize == 0 {
		c.QueueSize = def.QueueSize
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.Encoding == "" {
		c.Encoding = def.Encoding
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clockz.RealClock
	}
	return c
}

// validate fails fast on setup mistakes; this is the only error class the
// pipeline surfaces (everything at runtime degrades instead).
func (c Config) validate() error {
	if strings.TrimSpace(c.AgentHost) == "" {
		return fmt.Errorf("ddapm: agent host must not be empty")
	}
	if strings.ContainsAny(c.AgentHost, "/? ") {
		return fmt.Errorf("ddapm: invalid agent host %q", c.AgentHost)
	}
	if c.AgentPort < 1 || c.AgentPort > 65535 {
		return fmt.Errorf("ddapm: invalid agent port %d", c.AgentPort)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("ddapm: queue size must be positive, got %d", c.QueueSize)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("ddapm: batch size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("ddapm: flush interval must be positive, got %v", c.FlushInterval)
	}
	switch c.Encoding {
	case EncodingMsgpack, EncodingJSON:
	default:
		return fmt.Errorf("ddapm: unknown encoding %q", c.Encoding)
	}
	return nil
}

package config

import (
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. CHATLINK_ENDPOINT_HTTP.
const EnvPrefix = "CHATLINK_"

// Config represents a chatlink.yaml configuration file.
// All values are optional. Environment variables override the file and
// CLI flags override both.
type Config struct {
	Endpoint   EndpointConfig `yaml:"endpoint" envPrefix:"ENDPOINT_"`
	Auth       AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Request    RequestConfig  `yaml:"request" envPrefix:"REQUEST_"`
	Stream     StreamConfig   `yaml:"stream" envPrefix:"STREAM_"`
	Relay      RelayConfig    `yaml:"relay" envPrefix:"RELAY_"`
	Server     ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Transcript string         `yaml:"transcript" env:"TRANSCRIPT"`
	LogLevel   string         `yaml:"log_level" env:"LOG_LEVEL"`
}

// EndpointConfig holds the GraphQL endpoints.
type EndpointConfig struct {
	HTTP string `yaml:"http" env:"HTTP"`
	WS   string `yaml:"ws" env:"WS"`
}

// AuthConfig holds the access token source.
type AuthConfig struct {
	Token     string `yaml:"token" env:"TOKEN"`
	TokenFile string `yaml:"token_file" env:"TOKEN_FILE"`
	LoginURL  string `yaml:"login_url" env:"LOGIN_URL"`
}

// RequestConfig tunes the HTTP transport.
type RequestConfig struct {
	Timeout Duration          `yaml:"timeout" env:"TIMEOUT"`
	Headers map[string]string `yaml:"headers,omitempty" env:"HEADERS"`
}

// StreamConfig tunes the WebSocket transport.
type StreamConfig struct {
	ConnectTimeout   Duration        `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	KeepAliveTimeout Duration        `yaml:"keepalive_timeout" env:"KEEPALIVE_TIMEOUT"`
	WriteTimeout     Duration        `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Reconnect        ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
}

// ReconnectConfig is the reconnect backoff policy.
type ReconnectConfig struct {
	InitialInterval Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	Multiplier      float64  `yaml:"multiplier" env:"MULTIPLIER"`
	MaxElapsed      Duration `yaml:"max_elapsed" env:"MAX_ELAPSED"`
}

// RelayConfig selects the adapter that receives appended messages.
type RelayConfig struct {
	Type    string            `yaml:"type" env:"TYPE"`
	URL     string            `yaml:"url" env:"URL"`
	Channel string            `yaml:"channel,omitempty" env:"CHANNEL"`
	Headers map[string]string `yaml:"headers,omitempty" env:"HEADERS"`
	Timeout Duration          `yaml:"timeout,omitempty" env:"TIMEOUT"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ServerConfig holds dev server defaults for chatlink serve.
type ServerConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	Secret string `yaml:"secret" env:"SECRET"`
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	switch c.Relay.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("relay.type must be webhook or redis, got %q", c.Relay.Type)
	}
	if c.Relay.Type != "" && c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required for relay.type %q", c.Relay.Type)
	}
	if c.Relay.Retries != nil && *c.Relay.Retries < 0 {
		return fmt.Errorf("relay.retries must be >= 0, got %d", *c.Relay.Retries)
	}
	if c.Stream.Reconnect.Multiplier < 0 {
		return fmt.Errorf("stream.reconnect.multiplier must be >= 0, got %v", c.Stream.Reconnect.Multiplier)
	}
	return nil
}

// Duration wraps time.Duration for YAML and environment string parsing
// (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string. Empty means zero.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

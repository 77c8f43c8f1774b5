package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatlink/adapter"
	"github.com/pithecene-io/chatlink/adapter/redis"
	"github.com/pithecene-io/chatlink/adapter/webhook"
	"github.com/pithecene-io/chatlink/auth"
	"github.com/pithecene-io/chatlink/cli/config"
	"github.com/pithecene-io/chatlink/client"
	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/transport"
	"github.com/pithecene-io/chatlink/transport/request"
	"github.com/pithecene-io/chatlink/transport/stream"
	"github.com/pithecene-io/chatlink/types"
)

const (
	defaultHTTPEndpoint = "http://localhost:4000/graphql"
	defaultLogLevel     = "warn"
)

// DefaultTokenFile returns ~/.config/chatlink/token.
func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chatlink", "token")
	}
	return filepath.Join(home, ".config", "chatlink", "token")
}

// loadConfig resolves file, environment and flags, then fills defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}

	if v := c.String("http"); v != "" {
		cfg.Endpoint.HTTP = v
	}
	if v := c.String("ws"); v != "" {
		cfg.Endpoint.WS = v
	}
	if v := c.String("token"); v != "" {
		cfg.Auth.Token = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fillDefaults(cfg *config.Config) error {
	if cfg.Endpoint.HTTP == "" {
		cfg.Endpoint.HTTP = defaultHTTPEndpoint
	}
	if cfg.Endpoint.WS == "" {
		ws, err := deriveURL(cfg.Endpoint.HTTP, true, "")
		if err != nil {
			return fmt.Errorf("cannot derive WebSocket endpoint: %w", err)
		}
		cfg.Endpoint.WS = ws
	}
	if cfg.Auth.LoginURL == "" {
		login, err := deriveURL(cfg.Endpoint.HTTP, false, "/login")
		if err != nil {
			return fmt.Errorf("cannot derive login URL: %w", err)
		}
		cfg.Auth.LoginURL = login
	}
	if cfg.Auth.TokenFile == "" {
		cfg.Auth.TokenFile = DefaultTokenFile()
	} else if rest, ok := strings.CutPrefix(cfg.Auth.TokenFile, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Auth.TokenFile = filepath.Join(home, rest)
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	return nil
}

// deriveURL rewrites an HTTP endpoint: to ws/wss when ws is set, and to
// path when path is non-empty.
func deriveURL(httpURL string, ws bool, path string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if ws {
		u.Scheme = map[string]string{"http": "ws", "https": "wss"}[u.Scheme]
	}
	if path != "" {
		u.Path = path
		u.RawQuery = ""
	}
	return u.String(), nil
}

// session is one CLI invocation's client stack.
type session struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector
	tokens  *auth.MemoryProvider
	client  *client.Client
}

func newSession(cfg *config.Config) (*session, error) {
	id := uuid.NewString()
	logger, err := log.NewLoggerWithLevel(id, cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	tokens, err := tokenProvider(cfg.Auth)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCollector(id, cfg.Endpoint.HTTP, cfg.Endpoint.WS)
	rc := cfg.Stream.Reconnect
	cl, err := client.New(client.Config{
		ClientID: id,
		HTTPURL:  cfg.Endpoint.HTTP,
		WSURL:    cfg.Endpoint.WS,
		Tokens:   tokens,
		Request: request.Config{
			Headers: cfg.Request.Headers,
			Timeout: cfg.Request.Timeout.Duration,
		},
		Stream: stream.Config{
			ConnectTimeout:   cfg.Stream.ConnectTimeout.Duration,
			KeepAliveTimeout: cfg.Stream.KeepAliveTimeout.Duration,
			WriteTimeout:     cfg.Stream.WriteTimeout.Duration,
			Reconnect: stream.ReconnectPolicy{
				InitialInterval: rc.InitialInterval.Duration,
				MaxInterval:     rc.MaxInterval.Duration,
				Multiplier:      rc.Multiplier,
				MaxElapsedTime:  rc.MaxElapsed.Duration,
			},
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, metrics: m, tokens: tokens, client: cl}, nil
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("client close failed", map[string]any{"error": err.Error()})
	}
	_ = s.logger.Sync()
}

// tokenProvider prefers an explicit token over the token file.
func tokenProvider(cfg config.AuthConfig) (*auth.MemoryProvider, error) {
	if cfg.Token != "" {
		return auth.NewMemoryProvider(cfg.Token), nil
	}
	return auth.NewFileProvider(cfg.TokenFile)
}

// newRelay builds the configured relay, or nil when none is configured.
func newRelay(cfg config.RelayConfig) (adapter.Adapter, error) {
	retries := adapter.DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		a, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown relay type %q", cfg.Type)
	}
}

// exitFor maps an operation error to the CLI exit code: application
// errors exit 1, transport errors and an exhausted reconnect exit 2.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	var appErr *types.ApplicationError
	if errors.As(err, &appErr) {
		return cli.Exit(appErr.Error(), exitApplicationError)
	}
	if transport.IsTransportError(err) || errors.Is(err, stream.ErrReconnectExhausted) {
		return cli.Exit(err.Error(), exitTransportError)
	}
	return err
}

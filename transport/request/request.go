// Package request implements the request/response transport: one HTTP POST
// per operation, one envelope per response, no retries.
//
// A response whose body decodes to a GraphQL envelope is returned as an
// envelope even when it carries errors or a non-2xx status; callers branch
// on Envelope.Errors. Only network failures, timeouts and undecodable
// bodies are transport errors.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/chatlink/iox"
	"github.com/pithecene-io/chatlink/log"
	"github.com/pithecene-io/chatlink/metrics"
	"github.com/pithecene-io/chatlink/operation"
	"github.com/pithecene-io/chatlink/transport"
	"github.com/pithecene-io/chatlink/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// MaxResponseBytes bounds the size of a response body.
const MaxResponseBytes = 8 << 20

var errNotEnvelope = errors.New("response is not a GraphQL envelope")

// Config configures the request transport.
type Config struct {
	// URL is the GraphQL HTTP endpoint (required).
	URL string
	// Headers are static headers added to every request. Operation headers
	// take precedence.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Transport sends operations via HTTP POST.
type Transport struct {
	config  Config
	client  *http.Client
	logger  *log.Logger
	metrics *metrics.Collector
}

// body is the wire request.
type body struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

// New creates a request transport from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("request transport requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Transport{
		config:  cfg,
		client:  client,
		logger:  logger.Named("request"),
		metrics: cfg.Metrics,
	}, nil
}

// Send posts op and returns the response envelope.
// Errors are always *transport.Error.
func (t *Transport) Send(ctx context.Context, op *operation.Operation) (*types.Envelope, error) {
	vars := op.Variables()
	if vars == nil {
		vars = map[string]any{}
	}
	payload, err := json.Marshal(body{
		Query:         op.Document(),
		Variables:     vars,
		OperationName: op.Name(),
	})
	if err != nil {
		return nil, t.fail("marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, t.fail("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	for _, name := range op.HeaderNames() {
		req.Header.Set(name, op.Header(name))
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.fail("send", err)
	}
	defer iox.DrainClose(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, t.fail("read", err)
	}

	var env types.Envelope
	decodeErr := json.Unmarshal(raw, &env)
	isEnvelope := decodeErr == nil && (len(env.Data) > 0 || len(env.Errors) > 0)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if !isEnvelope {
			return nil, t.fail("status", &transport.StatusError{Code: resp.StatusCode})
		}
	} else if decodeErr != nil {
		return nil, t.fail("decode", decodeErr)
	} else if !isEnvelope {
		return nil, t.fail("decode", errNotEnvelope)
	}

	if env.HasErrors() {
		t.metrics.IncApplicationError()
	}
	t.logger.Debug("operation completed", map[string]any{
		"kind":        string(op.Kind()),
		"name":        op.Name(),
		"status":      resp.StatusCode,
		"errors":      len(env.Errors),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return &env, nil
}

func (t *Transport) fail(step string, err error) error {
	t.metrics.IncTransportError()
	t.logger.Warn("request transport error", map[string]any{
		"step":  step,
		"error": err.Error(),
	})
	return transport.Wrap(step, fmt.Errorf("%s: %w", t.config.URL, err))
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// Package postgrest implements ports.Caller against a PostgREST (Supabase) endpoint:
// each operation is a database function exposed at POST /rest/v1/rpc/{name}.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/stepflow/pkg/adapters/postgrest"

// maxErrorBody bounds how much of a non-JSON error body ends up in a message.
const maxErrorBody = 512

// Client calls remote procedures over HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithAccessToken authenticates calls as a signed-in user instead of the anonymous key.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = token
	}
}

// WithTracerProvider sets the provider spans are created from (default: the global one).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the project at baseURL (e.g. https://xyz.supabase.co).
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tracer:     otel.Tracer(tracerName),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithToken returns a copy of the client authenticated with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.accessToken = token
	return &cp
}

// errorBody is the error payload PostgREST returns for failed calls.
type errorBody struct {
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Code    string `json:"code"`
}

// Call implements ports.Caller. Failures are returned as *domain.RemoteError.
func (c *Client) Call(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "rpc "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", operation)),
	)
	defer span.End()

	out, err := c.do(ctx, operation, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("rpc failed", "operation", operation, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (c *Client) do(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &domain.RemoteError{Operation: operation, Err: fmt.Errorf("failed to encode params: %w", err)}
	}

	endpoint := c.baseURL + "/rest/v1/rpc/" + url.PathEscape(operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.RemoteError{Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	token := c.accessToken
	if token == "" {
		token = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteError{Operation: operation, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(operation, resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(data), nil
}

func decodeError(operation string, status int, data []byte) *domain.RemoteError {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return &domain.RemoteError{
			Operation: operation,
			Message:   body.Message,
			Details:   body.Details,
			Hint:      body.Hint,
			Code:      body.Code,
		}
	}

	text := strings.TrimSpace(string(data))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &domain.RemoteError{
		Operation: operation,
		Message:   fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Details:   text,
		Code:      fmt.Sprint(status),
	}
}

// Package gateway calls automation tools exposed by an integration gateway
// over HTTP, speaking either a bare JSON payload or JSON-RPC 2.0 tools/call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/hrygo/meetflow/ai/observability/logging"
	"github.com/hrygo/meetflow/ai/observability/tracing"
	"github.com/hrygo/meetflow/internal/retry"
	"github.com/hrygo/meetflow/internal/version"
)

const (
	maxResponseBytes = 1 << 20
	errorBodyBytes   = 200

	// directFormatMarker marks gateway URLs that accept the bare arguments
	// object before JSON-RPC.
	directFormatMarker = "agenthub_"
)

// Config configures a gateway Client.
type Config struct {
	URL string

	// Static bearer token.
	Token string

	// OAuth2 client credentials; take precedence over Token when complete.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Timeout    time.Duration // per attempt, default 60s
	MaxRetries int           // attempts per call, default 3
	RateLimit  float64       // requests per second, 0 disables

	// Transport overrides the base HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Configured reports whether cfg has a URL and usable credentials.
func (cfg Config) Configured() bool {
	if cfg.URL == "" {
		return false
	}
	return cfg.Token != "" || (cfg.TokenURL != "" && cfg.ClientID != "" && cfg.ClientSecret != "")
}

// Want selects which part of a tool result a call must produce.
type Want int

const (
	WantAny Want = iota
	WantTicketKey
	WantPageURL
)

func (w Want) satisfied(r ToolResult) bool {
	switch w {
	case WantTicketKey:
		return r.TicketKey != ""
	case WantPageURL:
		return r.PageURL != ""
	default:
		return !r.Empty()
	}
}

// Call is one tool invocation.
type Call struct {
	ID   int    // JSON-RPC request id
	Tool string // tool name
	Args any    // tool arguments, encoded as a JSON object
	Want Want
}

// Client is an integration gateway client.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	retries retry.Policy
}

// New creates a Client. It fails when cfg is not Configured.
func New(cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("gateway URL and credentials are required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, errors.Wrapf(err, "invalid gateway URL %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		url:     cfg.URL,
		http:    newHTTPClient(cfg.TokenSource(context.Background()), cfg.Transport),
		timeout: timeout,
		limiter: limiter,
		retries: retry.Default(attempts),
	}, nil
}

// SetRetryPolicy replaces the retry policy used by CallToolWithRetry.
func (c *Client) SetRetryPolicy(p retry.Policy) {
	c.retries = p
}

type rpcRequest struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      int                `json:"id"`
	Method  mcp.MCPMethod      `json:"method"`
	Params  mcp.CallToolParams `json:"params"`
}

func newRPCRequest(call Call) rpcRequest {
	return rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      call.ID,
		Method:  mcp.MethodToolsCall,
		Params:  mcp.CallToolParams{Name: call.Tool, Arguments: call.Args},
	}
}

// CallTool performs a single attempt of call. Gateways whose URL marks them
// as direct-format receive the bare arguments first; otherwise, or when that
// yields nothing, a JSON-RPC tools/call request is sent, falling back to GET
// with the request in the payload query parameter on 405.
func (c *Client) CallTool(ctx context.Context, call Call) (ToolResult, error) {
	ctx = logging.WithFields(ctx, logging.Fields{Component: "meetflow.gateway"})
	ctx, span := tracing.StartSpan(ctx, "gateway.call_tool",
		attribute.String("gateway.tool", call.Tool),
		attribute.Int("gateway.request_id", call.ID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.callTool(ctx, call)
	if err != nil {
		tracing.Fail(span, err)
		return ToolResult{}, err
	}
	span.SetAttributes(attribute.String("gateway.ticket_key", result.TicketKey))
	return result, nil
}

func (c *Client) callTool(ctx context.Context, call Call) (ToolResult, error) {
	if strings.Contains(c.url, directFormatMarker) {
		result, err := c.send(ctx, http.MethodPost, c.url, call.Args)
		if err == nil && call.Want.satisfied(result) {
			slog.DebugContext(ctx, "gateway direct call succeeded", "tool", call.Tool)
			return result, nil
		}
		slog.DebugContext(ctx, "gateway direct format failed, trying JSON-RPC", "tool", call.Tool, "error", err)
	}

	req := newRPCRequest(call)
	result, err := c.send(ctx, http.MethodPost, c.url, req)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusMethodNotAllowed {
		payload, marshalErr := json.Marshal(req)
		if marshalErr != nil {
			return ToolResult{}, errors.Wrap(marshalErr, "failed to encode JSON-RPC request")
		}
		u, parseErr := url.Parse(c.url)
		if parseErr != nil {
			return ToolResult{}, errors.Wrap(parseErr, "invalid gateway URL")
		}
		q := u.Query()
		q.Set("payload", string(payload))
		u.RawQuery = q.Encode()

		slog.DebugContext(ctx, "gateway rejected POST, trying GET", "tool", call.Tool)
		result, err = c.send(ctx, http.MethodGet, u.String(), nil)
	}
	if err != nil {
		return ToolResult{}, err
	}
	if !call.Want.satisfied(result) {
		return result, ErrNoResult
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, method, target string, payload any) (ToolResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ToolResult{}, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ToolResult{}, errors.Wrap(err, "failed to encode gateway request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return ToolResult{}, errors.Wrap(err, "failed to build gateway request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return ToolResult{}, errors.Wrap(err, "gateway request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ToolResult{}, errors.Wrap(err, "failed to read gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(data)
		if len(snippet) > errorBodyBytes {
			snippet = snippet[:errorBodyBytes]
		}
		return ToolResult{}, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return ParseResponse(data)
}

// CallToolWithRetry calls CallTool until it succeeds, fails permanently,
// or the attempt budget runs out.
func (c *Client) CallToolWithRetry(ctx context.Context, call Call) (ToolResult, error) {
	var result ToolResult
	err := retry.Do(ctx, c.retries, "gateway."+call.Tool, IsTransient, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.CallTool(ctx, call)
		return callErr
	})
	if err != nil {
		return ToolResult{}, err
	}
	return result, nil
}

// IsTransient reports whether a CallTool error may succeed on retry.
// Client errors other than 405, 408 and 429 are permanent, as are tool
// errors and cancellation of the caller's context. Per-attempt timeouts,
// network failures and empty results are transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusMethodNotAllowed,
			code == http.StatusRequestTimeout,
			code == http.StatusTooManyRequests:
			return true
		case code >= 400 && code < 500:
			return false
		}
		return true
	}
	return true
}

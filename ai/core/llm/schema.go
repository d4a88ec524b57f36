package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"
)

// ResponseSchema describes a structured-output constraint for ChatJSON.
// A nil Schema requests plain JSON-object mode.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      json.Marshaler
	Strict      bool
}

// GenerateSchema reflects a JSON schema for T suitable for strict structured output:
// no additional properties and no $ref indirection.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// IsRetryable classifies LLM errors: rate limits, server errors, network
// failures and per-request timeouts are transient while ctx is still live;
// cancellations and other client errors are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "llm request timed out, will retry", "error", err)
		return true
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		slog.WarnContext(ctx, "llm network error, will retry", "error", err)
		return true
	case status == http.StatusTooManyRequests:
		slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", status)
		return true
	case status >= 500:
		slog.WarnContext(ctx, "llm server error, will retry", "status_code", status)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", status)
		return false
	}
}

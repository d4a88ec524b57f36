// Package extraction turns raw meeting notes into a summary and a list of
// trackable issues using an LLM.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hrygo/meetflow/ai/core/llm"
	"github.com/hrygo/meetflow/ai/observability/logging"
	"github.com/hrygo/meetflow/ai/observability/tracing"
	"github.com/hrygo/meetflow/internal/retry"
)

var analysisSchema = llm.GenerateSchema[Analysis]()

// Extractor runs the extraction step.
type Extractor struct {
	llm     llm.Service
	prompt  *PromptConfig
	filter  *Filter
	retries retry.Policy
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPrompt replaces the built-in prompt.
func WithPrompt(p *PromptConfig) Option {
	return func(e *Extractor) {
		if p != nil {
			e.prompt = p
		}
	}
}

// WithFilter sets the issue selection filter.
func WithFilter(f *Filter) Option {
	return func(e *Extractor) { e.filter = f }
}

// WithRetry sets the retry policy for transient LLM failures.
func WithRetry(p retry.Policy) Option {
	return func(e *Extractor) { e.retries = p }
}

// NewExtractor creates an Extractor backed by svc.
func NewExtractor(svc llm.Service, opts ...Option) *Extractor {
	e := &Extractor{
		llm:     svc,
		prompt:  DefaultPrompt(),
		retries: retry.Default(3),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match reports whether issue passes the configured filter.
func (e *Extractor) Match(issue Issue) (bool, error) {
	return e.filter.Match(issue)
}

// Extract asks the model for a meeting summary and the issues to track.
// Output that is not the expected JSON does not fail the call: the raw
// content becomes the summary and no issues are returned.
func (e *Extractor) Extract(ctx context.Context, notes, title string) (*Analysis, *llm.LLMCallStats, error) {
	ctx = logging.WithFields(ctx, logging.Fields{Component: "meetflow.extraction"})
	ctx, span := tracing.StartSpan(ctx, "extraction.extract",
		attribute.String("llm.model", e.llm.Model()),
		attribute.Int("notes.bytes", len(notes)),
	)
	defer span.End()

	messages := []llm.Message{
		llm.SystemPrompt(e.prompt.SystemPrompt),
		llm.UserMessage(e.prompt.UserMessage(title, notes)),
	}
	format := llm.ResponseSchema{
		Name:        "meeting_analysis",
		Description: "Meeting summary and the issues that need tracking",
		Schema:      analysisSchema,
		Strict:      false,
	}

	var (
		content string
		stats   *llm.LLMCallStats
	)
	transient := func(err error) bool { return llm.IsRetryable(ctx, err) }
	err := retry.Do(ctx, e.retries, "llm.chat", transient, func(ctx context.Context) error {
		var callErr error
		content, stats, callErr = e.llm.ChatJSON(ctx, messages, format)
		return callErr
	})
	if err != nil {
		tracing.Fail(span, err)
		return nil, nil, fmt.Errorf("meeting analysis failed: %w", err)
	}

	if stats == nil {
		stats = &llm.LLMCallStats{}
	}
	analysis := Parse(content)
	span.SetAttributes(attribute.Int("issues.count", len(analysis.Issues)))
	slog.InfoContext(ctx, "meeting analysed",
		"issues", len(analysis.Issues),
		"summary", logging.Truncate(analysis.MeetingSummary, 120),
		"total_tokens", stats.TotalTokens,
	)
	return analysis, stats, nil
}

// Parse decodes model output into an Analysis. Issues are normalized and
// kept in order. Unparseable content becomes the summary verbatim.
func Parse(content string) *Analysis {
	var raw Analysis
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		slog.Warn("model output is not valid analysis JSON, using it as summary", "error", err)
		return &Analysis{MeetingSummary: strings.TrimSpace(content), Issues: []Issue{}}
	}

	issues := make([]Issue, 0, len(raw.Issues))
	for _, issue := range raw.Issues {
		issues = append(issues, Normalize(issue))
	}
	return &Analysis{MeetingSummary: strings.TrimSpace(raw.MeetingSummary), Issues: issues}
}

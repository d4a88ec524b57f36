// Package pipeline processes meeting notes end to end: extraction, issue
// selection, ticket and page dispatch, persistence and notification.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/meetflow/ai/core/llm"
	"github.com/hrygo/meetflow/ai/extraction"
	"github.com/hrygo/meetflow/ai/metrics"
	"github.com/hrygo/meetflow/ai/observability/logging"
	"github.com/hrygo/meetflow/ai/observability/tracing"
	"github.com/hrygo/meetflow/plugin/webhook"
	"github.com/hrygo/meetflow/store"
)

// Lifecycle events, logged and recorded on the run span.
const (
	EventWorkflowStart           = "workflow_start"
	EventLLMAnalysisComplete     = "llm_analysis_complete"
	EventGatewayCreationComplete = "gateway_creation_complete"
	EventWorkflowSuccess         = "workflow_success"
	EventWorkflowError           = "workflow_error"
)

// Extractor analyses meeting notes and selects issues for dispatch.
type Extractor interface {
	Extract(ctx context.Context, notes, title string) (*extraction.Analysis, *llm.LLMCallStats, error)
	Match(issue extraction.Issue) (bool, error)
}

// RunStore persists finished runs.
type RunStore interface {
	CreateRun(ctx context.Context, create *store.Run) (*store.Run, error)
}

// Config wires a Pipeline.
type Config struct {
	Extractor     Extractor
	Dispatcher    Dispatcher
	Store         RunStore         // optional
	Metrics       metrics.Recorder // optional
	WebhookURL    string           // optional
	Model         string           // LLM model label for metrics
	Concurrency   int              // default 4
	MaxNotesBytes int              // default DefaultMaxNotesBytes

	// Notify delivers webhooks; defaults to webhook.PostAsync.
	Notify func(*webhook.WebhookRequestPayload)
}

// Pipeline processes meetings.
type Pipeline struct {
	extractor     Extractor
	dispatcher    Dispatcher
	store         RunStore
	metrics       metrics.Recorder
	webhookURL    string
	model         string
	concurrency   int64
	maxNotesBytes int
	notify        func(*webhook.WebhookRequestPayload)
	now           func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		extractor:     cfg.Extractor,
		dispatcher:    cfg.Dispatcher,
		store:         cfg.Store,
		metrics:       cfg.Metrics,
		webhookURL:    cfg.WebhookURL,
		model:         cfg.Model,
		concurrency:   int64(cfg.Concurrency),
		maxNotesBytes: cfg.MaxNotesBytes,
		notify:        cfg.Notify,
		now:           time.Now,
	}
	if p.metrics == nil {
		p.metrics = metrics.Nop{}
	}
	if p.concurrency < 1 {
		p.concurrency = 4
	}
	if p.maxNotesBytes <= 0 {
		p.maxNotesBytes = DefaultMaxNotesBytes
	}
	if p.notify == nil {
		p.notify = webhook.PostAsync
	}
	return p
}

// Mode reports whether tickets are created live or mocked.
func (p *Pipeline) Mode() string {
	return p.dispatcher.Mode()
}

// Process runs the whole workflow for one meeting. It never returns nil:
// failures before dispatch produce an error result.
func (p *Pipeline) Process(ctx context.Context, req Request) *Result {
	result := &Result{
		RunID:        shortuuid.New(),
		MeetingTitle: req.MeetingTitle,
		Mode:         p.dispatcher.Mode(),
		StartedAt:    p.now().UTC(),
	}

	ctx = logging.WithFields(ctx, logging.Fields{RunID: result.RunID, Component: "meetflow.pipeline"})
	ctx, span := tracing.StartSpan(ctx, "pipeline.process",
		attribute.String("run.id", result.RunID),
		attribute.String("run.mode", result.Mode),
	)
	defer span.End()

	p.event(ctx, EventWorkflowStart,
		"notes_length", len(req.MeetingNotes),
		"preview", logging.Truncate(req.MeetingNotes, 100),
	)

	if err := p.run(ctx, req, result); err != nil {
		tracing.Fail(span, err)
		errorResult(result, err)
		p.event(ctx, EventWorkflowError, "error", err.Error())
	} else {
		result.Status = StatusSuccess
		p.event(ctx, EventWorkflowSuccess,
			"total_tickets", result.TotalTickets,
			"total_pages", result.TotalPages,
			"meeting_title", result.MeetingTitle,
		)
	}

	result.FinishedAt = p.now().UTC()
	status := "success"
	if !result.Succeeded() {
		status = "error"
	}
	p.metrics.RecordRun(status, result.Mode, result.FinishedAt.Sub(result.StartedAt))

	p.persist(ctx, result)
	p.announce(result)
	return result
}

func (p *Pipeline) run(ctx context.Context, req Request, result *Result) error {
	if err := req.Validate(p.maxNotesBytes); err != nil {
		return err
	}

	start := p.now()
	analysis, stats, err := p.extractor.Extract(ctx, req.MeetingNotes, req.MeetingTitle)
	if err != nil {
		return err
	}
	if stats != nil {
		p.metrics.RecordLLMCall(p.model, p.now().Sub(start), stats.PromptTokens, stats.CompletionTokens)
	}
	result.MeetingSummary = analysis.MeetingSummary
	result.ExtractedIssues = analysis.Issues
	p.event(ctx, EventLLMAnalysisComplete,
		"issues_found", len(analysis.Issues),
		"summary_length", len(analysis.MeetingSummary),
	)

	result.Outcomes = p.dispatchAll(ctx, analysis.Issues)

	result.JiraTickets = []string{}
	result.ConfluencePages = []string{}
	for _, o := range result.Outcomes {
		if o.Source == SourceSkipped {
			continue
		}
		result.JiraTickets = append(result.JiraTickets, o.TicketKey)
		if o.PageURL != "" {
			result.ConfluencePages = append(result.ConfluencePages, o.PageURL)
		}
	}
	result.TotalTickets = len(result.JiraTickets)
	result.TotalPages = len(result.ConfluencePages)

	p.event(ctx, EventGatewayCreationComplete,
		"tickets_created", result.TotalTickets,
		"pages_created", result.TotalPages,
		"ticket_keys", result.JiraTickets,
	)
	return nil
}

// dispatchAll dispatches selected issues with bounded concurrency. Outcomes
// are indexed like issues.
func (p *Pipeline) dispatchAll(ctx context.Context, issues []extraction.Issue) []Outcome {
	outcomes := make([]Outcome, len(issues))
	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup

	for i, issue := range issues {
		issueCtx := logging.WithIssue(ctx, i)

		matched, err := p.extractor.Match(issue)
		if err != nil {
			slog.WarnContext(issueCtx, "issue filter failed, dispatching anyway", "error", err)
			matched = true
		}
		if !matched {
			slog.InfoContext(issueCtx, "issue skipped by filter", "summary", issue.Summary)
			outcomes[i] = Outcome{Index: i, Source: SourceSkipped}
			p.metrics.RecordOutcome(SourceSkipped)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = FallbackOutcome(i, err)
			p.metrics.RecordOutcome(SourceFallback)
			continue
		}
		wg.Add(1)
		go func(i int, issue extraction.Issue) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = p.dispatcher.Dispatch(issueCtx, i, issue)
		}(i, issue)
	}

	wg.Wait()
	return outcomes
}

func (p *Pipeline) event(ctx context.Context, name string, args ...any) {
	slog.InfoContext(ctx, name, args...)
	tracing.Event(ctx, name)
}

func (p *Pipeline) persist(ctx context.Context, result *Result) {
	if p.store == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.WarnContext(ctx, "failed to encode run", "error", err)
		return
	}
	_, err = p.store.CreateRun(context.WithoutCancel(ctx), &store.Run{
		UID:         result.RunID,
		Title:       result.MeetingTitle,
		Status:      result.Status,
		Mode:        result.Mode,
		Summary:     result.MeetingSummary,
		TicketCount: result.TotalTickets,
		PageCount:   result.TotalPages,
		Payload:     string(payload),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to persist run", "error", err)
	}
}

func (p *Pipeline) announce(result *Result) {
	if p.webhookURL == "" {
		return
	}
	p.notify(&webhook.WebhookRequestPayload{
		URL:             p.webhookURL,
		ActivityType:    webhook.ActivityRunCompleted,
		RunID:           result.RunID,
		Status:          result.Status,
		MeetingTitle:    result.MeetingTitle,
		TotalTickets:    result.TotalTickets,
		TotalPages:      result.TotalPages,
		JiraTickets:     result.JiraTickets,
		ConfluencePages: result.ConfluencePages,
	})
}

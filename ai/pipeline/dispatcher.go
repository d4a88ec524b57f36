package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/meetflow/ai/extraction"
	"github.com/hrygo/meetflow/ai/metrics"
	"github.com/hrygo/meetflow/plugin/gateway"
	"github.com/hrygo/meetflow/plugin/markdown"
)

// Dispatcher creates the ticket and page for one issue. index is the
// issue's 0-based position in the extraction result.
type Dispatcher interface {
	Dispatch(ctx context.Context, index int, issue extraction.Issue) Outcome
	Mode() string
}

// ToolCaller is the part of the gateway client a dispatcher needs.
type ToolCaller interface {
	CallToolWithRetry(ctx context.Context, call gateway.Call) (gateway.ToolResult, error)
}

// FallbackKey is the placeholder key for an issue whose ticket could not be created.
func FallbackKey(index int) string {
	return fmt.Sprintf("MCP-FAIL-%03d", index+1)
}

// MockKey is the placeholder key for an issue processed in demo mode.
func MockKey(index int) string {
	return fmt.Sprintf("MCP-MOCK-%03d", index+1)
}

// FallbackOutcome marks an issue whose ticket could not be created.
func FallbackOutcome(index int, err error) Outcome {
	o := Outcome{Index: index, TicketKey: FallbackKey(index), Source: SourceFallback}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// GatewayConfig configures a GatewayDispatcher.
type GatewayConfig struct {
	TicketTool string   // default jIRA_IssueAutomation
	PageTool   string   // empty: the ticket tool also creates the page
	Project    string   // default "Jira-Test Project"
	Space      string   // page space key
	Labels     []string // extra page labels
}

// GatewayDispatcher creates tickets and pages through the integration gateway.
type GatewayDispatcher struct {
	caller  ToolCaller
	cfg     GatewayConfig
	metrics metrics.Recorder
}

// NewGatewayDispatcher creates a GatewayDispatcher. A nil recorder discards metrics.
func NewGatewayDispatcher(caller ToolCaller, cfg GatewayConfig, recorder metrics.Recorder) *GatewayDispatcher {
	if cfg.TicketTool == "" {
		cfg.TicketTool = "jIRA_IssueAutomation"
	}
	if cfg.Project == "" {
		cfg.Project = "Jira-Test Project"
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &GatewayDispatcher{caller: caller, cfg: cfg, metrics: recorder}
}

func (d *GatewayDispatcher) Mode() string { return ModeLive }

type ticketArgs struct {
	ProjectName string `json:"in_ProjectName"`
	IssueType   string `json:"in_IssueType"`
	Description string `json:"in_Description"`
	Summary     string `json:"in_Summary"`
}

type pageArgs struct {
	SpaceKey string   `json:"in_SpaceKey"`
	Title    string   `json:"in_Title"`
	Body     string   `json:"in_Body"`
	Labels   []string `json:"in_Labels"`
}

// Dispatch runs the ticket and page calls concurrently and waits for both.
func (d *GatewayDispatcher) Dispatch(ctx context.Context, index int, issue extraction.Issue) Outcome {
	var (
		ticket, page       gateway.ToolResult
		ticketErr, pageErr error
		g                  errgroup.Group
	)

	g.Go(func() error {
		ticket, ticketErr = d.call(ctx, gateway.Call{
			ID:   index + 1,
			Tool: d.cfg.TicketTool,
			Args: ticketArgs{
				ProjectName: d.cfg.Project,
				IssueType:   extraction.MapIssueType(issue.IssueType),
				Description: issue.Description,
				Summary:     issue.Summary,
			},
			Want: gateway.WantTicketKey,
		})
		return nil
	})

	if d.cfg.PageTool != "" {
		g.Go(func() error {
			body, err := markdown.RenderHTML(PageMarkdown(issue))
			if err != nil {
				pageErr = err
				return nil
			}
			page, pageErr = d.call(ctx, gateway.Call{
				ID:   index + 1,
				Tool: d.cfg.PageTool,
				Args: pageArgs{
					SpaceKey: d.cfg.Space,
					Title:    issue.Summary,
					Body:     body,
					Labels:   d.labels(issue),
				},
				Want: gateway.WantPageURL,
			})
			return nil
		})
	}
	_ = g.Wait()

	var outcome Outcome
	if ticketErr != nil {
		slog.WarnContext(ctx, "ticket creation failed, using fallback key",
			"key", FallbackKey(index), "error", ticketErr)
		outcome = FallbackOutcome(index, ticketErr)
	} else {
		outcome = Outcome{Index: index, TicketKey: ticket.TicketKey, Source: SourceCreated}
		slog.InfoContext(ctx, "ticket created", "key", ticket.TicketKey)
	}

	switch {
	case d.cfg.PageTool == "":
		outcome.PageURL = ticket.PageURL
	case pageErr != nil:
		slog.WarnContext(ctx, "page creation failed", "error", pageErr)
		if outcome.Error == "" {
			outcome.Error = "page: " + pageErr.Error()
		}
	default:
		outcome.PageURL = page.PageURL
	}

	d.metrics.RecordOutcome(outcome.Source)
	return outcome
}

func (d *GatewayDispatcher) call(ctx context.Context, call gateway.Call) (gateway.ToolResult, error) {
	start := time.Now()
	result, err := d.caller.CallToolWithRetry(ctx, call)
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordGatewayCall(call.Tool, status, time.Since(start))
	return result, err
}

func (d *GatewayDispatcher) labels(issue extraction.Issue) []string {
	labels := append([]string{}, d.cfg.Labels...)
	return append(labels,
		"meetflow",
		strings.ToLower(issue.IssueType),
		"priority-"+strings.ToLower(issue.Priority),
	)
}

// PageMarkdown renders the page body for an issue as Markdown.
func PageMarkdown(issue extraction.Issue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", issue.Summary)
	fmt.Fprintf(&sb, "**Type:** %s  \n**Priority:** %s\n\n", issue.IssueType, issue.Priority)
	sb.WriteString("## Description\n\n")
	sb.WriteString(issue.Description)
	sb.WriteString("\n")
	return sb.String()
}

// MockDispatcher fabricates keys and page URLs when no gateway is configured.
type MockDispatcher struct {
	pageBaseURL string
	metrics     metrics.Recorder
}

// NewMockDispatcher creates a MockDispatcher. An empty pageBaseURL yields no page URLs.
func NewMockDispatcher(pageBaseURL string, recorder metrics.Recorder) *MockDispatcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &MockDispatcher{pageBaseURL: strings.TrimRight(pageBaseURL, "/"), metrics: recorder}
}

func (d *MockDispatcher) Mode() string { return ModeDemo }

func (d *MockDispatcher) Dispatch(_ context.Context, index int, _ extraction.Issue) Outcome {
	key := MockKey(index)
	outcome := Outcome{Index: index, TicketKey: key, Source: SourceMock}
	if d.pageBaseURL != "" {
		outcome.PageURL = d.pageBaseURL + "/" + key
	}
	d.metrics.RecordOutcome(outcome.Source)
	return outcome
}

package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/meetflow/ai/core/llm"
	"github.com/hrygo/meetflow/ai/extraction"
	"github.com/hrygo/meetflow/plugin/gateway"
	"github.com/hrygo/meetflow/plugin/webhook"
	"github.com/hrygo/meetflow/store"
)

type fakeExtractor struct {
	analysis *extraction.Analysis
	err      error
	filter   *extraction.Filter
	calls    int32
}

func (f *fakeExtractor) Extract(context.Context, string, string) (*extraction.Analysis, *llm.LLMCallStats, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.analysis, &llm.LLMCallStats{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (f *fakeExtractor) Match(issue extraction.Issue) (bool, error) {
	return f.filter.Match(issue)
}

type fakeStore struct {
	mu   sync.Mutex
	runs []*store.Run
	err  error
}

func (s *fakeStore) CreateRun(_ context.Context, create *store.Run) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.runs = append(s.runs, create)
	return create, nil
}

// fakeCaller answers ticket calls with OPS-<id> unless the summary is listed in fail.
type fakeCaller struct {
	mu       sync.Mutex
	calls    []gateway.Call
	fail     map[string]bool
	pageFail bool
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (c *fakeCaller) CallToolWithRetry(_ context.Context, call gateway.Call) (gateway.ToolResult, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&c.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&c.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(c.delay)

	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()

	switch args := call.Args.(type) {
	case ticketArgs:
		if c.fail[args.Summary] {
			return gateway.ToolResult{}, &gateway.StatusError{StatusCode: 500}
		}
		return gateway.ToolResult{
			TicketKey: "OPS-" + strings.Repeat("1", call.ID),
			PageURL:   "https://wiki/ticket-page/" + args.Summary,
		}, nil
	case pageArgs:
		if c.pageFail {
			return gateway.ToolResult{}, gateway.ErrNoResult
		}
		return gateway.ToolResult{PageURL: "https://wiki/pages/" + args.Title}, nil
	}
	return gateway.ToolResult{}, errors.New("unexpected args")
}

func threeIssues() *extraction.Analysis {
	return &extraction.Analysis{
		MeetingSummary: "Weekly sync.",
		Issues: []extraction.Issue{
			{Summary: "a", Description: "first", IssueType: "Bug", Priority: "High"},
			{Summary: "b", Description: "second", IssueType: "Improvement", Priority: "Low"},
			{Summary: "c", Description: "third", IssueType: "Story", Priority: "Medium"},
		},
	}
}

func validRequest() Request {
	return Request{MeetingNotes: "We met and talked.", MeetingTitle: "Weekly"}
}

func TestProcess_DemoMode(t *testing.T) {
	st := &fakeStore{}
	var notified []*webhook.WebhookRequestPayload
	p := New(Config{
		Extractor:  &fakeExtractor{analysis: threeIssues()},
		Dispatcher: NewMockDispatcher("https://pages.example.invalid/", nil),
		Store:      st,
		WebhookURL: "https://hooks.example.invalid",
		Notify:     func(p *webhook.WebhookRequestPayload) { notified = append(notified, p) },
	})

	res := p.Process(context.Background(), validRequest())
	require.True(t, res.Succeeded())
	assert.Equal(t, "Success", res.Status)
	assert.Equal(t, ModeDemo, res.Mode)
	assert.Equal(t, "Weekly sync.", res.MeetingSummary)
	assert.Equal(t, []string{"MCP-MOCK-001", "MCP-MOCK-002", "MCP-MOCK-003"}, res.JiraTickets)
	assert.Equal(t, "https://pages.example.invalid/MCP-MOCK-002", res.ConfluencePages[1])
	assert.Equal(t, 3, res.TotalTickets)
	assert.Equal(t, 3, res.TotalPages)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	require.Len(t, st.runs, 1)
	assert.Equal(t, res.RunID, st.runs[0].UID)
	assert.Equal(t, 3, st.runs[0].TicketCount)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(st.runs[0].Payload), &payload))
	assert.Equal(t, "Success", payload["status"])

	require.Len(t, notified, 1)
	assert.Equal(t, webhook.ActivityRunCompleted, notified[0].ActivityType)
	assert.Equal(t, res.RunID, notified[0].RunID)
}

func TestProcess_LiveModeKeepsOrderAndFallsBack(t *testing.T) {
	caller := &fakeCaller{fail: map[string]bool{"b": true}, delay: 5 * time.Millisecond}
	p := New(Config{
		Extractor:   &fakeExtractor{analysis: threeIssues()},
		Dispatcher:  NewGatewayDispatcher(caller, GatewayConfig{}, nil),
		Concurrency: 2,
	})

	res := p.Process(context.Background(), validRequest())
	require.True(t, res.Succeeded())
	assert.Equal(t, ModeLive, res.Mode)
	assert.Equal(t, []string{"OPS-1", "MCP-FAIL-002", "OPS-111"}, res.JiraTickets)
	assert.Equal(t, []string{"https://wiki/ticket-page/a", "https://wiki/ticket-page/c"}, res.ConfluencePages)
	assert.Equal(t, 3, res.TotalTickets)
	assert.Equal(t, 2, res.TotalPages)

	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, SourceCreated, res.Outcomes[0].Source)
	assert.Equal(t, SourceFallback, res.Outcomes[1].Source)
	assert.NotEmpty(t, res.Outcomes[1].Error)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Index)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&caller.maxSeen), int32(2))

	for _, call := range caller.calls {
		args := call.Args.(ticketArgs)
		assert.Equal(t, "Jira-Test Project", args.ProjectName)
		if args.Summary == "b" {
			assert.Equal(t, "Task", args.IssueType, "Improvement maps to Task")
		}
	}
}

func TestProcess_FilterSkipsIssues(t *testing.T) {
	filter, err := extraction.NewFilter(`priority != "Low"`)
	require.NoError(t, err)
	p := New(Config{
		Extractor:  &fakeExtractor{analysis: threeIssues(), filter: filter},
		Dispatcher: NewMockDispatcher("", nil),
	})

	res := p.Process(context.Background(), validRequest())
	require.True(t, res.Succeeded())
	assert.Len(t, res.ExtractedIssues, 3)
	assert.Equal(t, []string{"MCP-MOCK-001", "MCP-MOCK-003"}, res.JiraTickets)
	assert.Empty(t, res.ConfluencePages)
	assert.Equal(t, SourceSkipped, res.Outcomes[1].Source)
	assert.Empty(t, res.Outcomes[1].TicketKey)
}

func TestProcess_ValidationErrors(t *testing.T) {
	ext := &fakeExtractor{analysis: threeIssues()}
	p := New(Config{Extractor: ext, Dispatcher: NewMockDispatcher("", nil), MaxNotesBytes: 10})

	res := p.Process(context.Background(), Request{MeetingNotes: "   \n"})
	require.NotNil(t, res)
	assert.False(t, res.Succeeded())
	assert.True(t, IsValidationError(res.Err()))
	assert.Equal(t, "Error: meeting notes are required", res.Status)
	assert.Equal(t, "Error processing meeting: meeting notes are required", res.MeetingSummary)
	assert.NotNil(t, res.JiraTickets)
	assert.Empty(t, res.JiraTickets)
	assert.Zero(t, res.TotalTickets)

	res = p.Process(context.Background(), Request{MeetingNotes: strings.Repeat("x", 11)})
	assert.ErrorIs(t, res.Err(), ErrNotesTooLong)
	assert.EqualValues(t, 0, atomic.LoadInt32(&ext.calls))
}

func TestProcess_ExtractionError(t *testing.T) {
	st := &fakeStore{}
	p := New(Config{
		Extractor:  &fakeExtractor{err: errors.New("llm unavailable")},
		Dispatcher: NewMockDispatcher("", nil),
		Store:      st,
	})

	res := p.Process(context.Background(), validRequest())
	require.NotNil(t, res)
	assert.False(t, IsValidationError(res.Err()))
	assert.Equal(t, "Error: llm unavailable", res.Status)
	assert.Empty(t, res.ExtractedIssues)
	assert.Empty(t, res.ConfluencePages)
	require.Len(t, st.runs, 1, "error runs are recorded too")
	assert.Equal(t, "Error: llm unavailable", st.runs[0].Status)
}

func TestProcess_StoreFailureDoesNotChangeResult(t *testing.T) {
	p := New(Config{
		Extractor:  &fakeExtractor{analysis: threeIssues()},
		Dispatcher: NewMockDispatcher("", nil),
		Store:      &fakeStore{err: errors.New("disk full")},
	})
	res := p.Process(context.Background(), validRequest())
	assert.True(t, res.Succeeded())
	assert.Equal(t, 3, res.TotalTickets)
}

func TestProcess_NoIssues(t *testing.T) {
	p := New(Config{
		Extractor:  &fakeExtractor{analysis: &extraction.Analysis{MeetingSummary: "nothing", Issues: []extraction.Issue{}}},
		Dispatcher: NewMockDispatcher("", nil),
	})
	res := p.Process(context.Background(), validRequest())
	require.True(t, res.Succeeded())
	assert.Empty(t, res.JiraTickets)
	assert.NotNil(t, res.Outcomes)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"jira_tickets":[]`)
	assert.Contains(t, string(data), `"outcomes":[]`)
}

func TestGatewayDispatcher_PageTool(t *testing.T) {
	caller := &fakeCaller{}
	d := NewGatewayDispatcher(caller, GatewayConfig{
		TicketTool: "create_ticket",
		PageTool:   "create_page",
		Project:    "OPS",
		Space:      "ENG",
		Labels:     []string{"weekly"},
	}, nil)

	issue := extraction.Issue{Summary: "Fix login", Description: "Users **cannot** log in.", IssueType: "Bug", Priority: "High"}
	o := d.Dispatch(context.Background(), 0, issue)
	assert.Equal(t, "OPS-1", o.TicketKey)
	assert.Equal(t, "https://wiki/pages/Fix login", o.PageURL)
	assert.Equal(t, SourceCreated, o.Source)

	require.Len(t, caller.calls, 2)
	var page pageArgs
	for _, call := range caller.calls {
		if call.Tool == "create_page" {
			page = call.Args.(pageArgs)
			assert.Equal(t, gateway.WantPageURL, call.Want)
		}
	}
	assert.Equal(t, "ENG", page.SpaceKey)
	assert.Equal(t, "Fix login", page.Title)
	assert.Contains(t, page.Body, "<strong>cannot</strong>")
	assert.Equal(t, []string{"weekly", "meetflow", "bug", "priority-high"}, page.Labels)
}

func TestGatewayDispatcher_PageFailureKeepsTicket(t *testing.T) {
	caller := &fakeCaller{pageFail: true}
	d := NewGatewayDispatcher(caller, GatewayConfig{PageTool: "create_page"}, nil)

	o := d.Dispatch(context.Background(), 4, extraction.Issue{Summary: "x", IssueType: "Task", Priority: "Low"})
	assert.Equal(t, SourceCreated, o.Source)
	assert.Equal(t, "OPS-11111", o.TicketKey)
	assert.Empty(t, o.PageURL)
	assert.Contains(t, o.Error, "page:")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "MCP-FAIL-001", FallbackKey(0))
	assert.Equal(t, "MCP-MOCK-012", MockKey(11))
	assert.Equal(t, "MCP-MOCK-1000", MockKey(999))
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, Request{MeetingNotes: "x"}.Validate(0))
	assert.ErrorIs(t, Request{}.Validate(0), ErrEmptyNotes)
	assert.ErrorIs(t, Request{MeetingNotes: strings.Repeat("x", DefaultMaxNotesBytes+1)}.Validate(0), ErrNotesTooLong)
}

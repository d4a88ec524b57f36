package pipeline

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/ai/extraction"
)

// DefaultMaxNotesBytes caps meeting notes when no limit is configured.
const DefaultMaxNotesBytes = 100_000

var (
	// ErrEmptyNotes is returned for blank meeting notes.
	ErrEmptyNotes = errors.New("meeting notes are required")
	// ErrNotesTooLong is returned when notes exceed the configured limit.
	ErrNotesTooLong = errors.New("meeting notes are too long")
)

// Request is one meeting to process.
type Request struct {
	MeetingNotes string `json:"meeting_notes"`
	MeetingTitle string `json:"meeting_title"`
}

// Validate checks the request against maxBytes (<= 0 uses the default).
func (r Request) Validate(maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNotesBytes
	}
	if strings.TrimSpace(r.MeetingNotes) == "" {
		return ErrEmptyNotes
	}
	if len(r.MeetingNotes) > maxBytes {
		return errors.Wrapf(ErrNotesTooLong, "%d bytes exceeds the %d byte limit", len(r.MeetingNotes), maxBytes)
	}
	return nil
}

// IsValidationError reports whether err came from Request.Validate.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyNotes) || errors.Is(err, ErrNotesTooLong)
}

// Outcome sources.
const (
	SourceCreated  = "created"
	SourceMock     = "mock"
	SourceFallback = "fallback"
	SourceSkipped  = "skipped"
)

// Outcome is what dispatching one issue produced.
type Outcome struct {
	Index     int    `json:"index"`
	TicketKey string `json:"ticket_key,omitempty"`
	PageURL   string `json:"page_url,omitempty"`
	Source    string `json:"source"`
	Error     string `json:"error,omitempty"`
}

// Modes.
const (
	ModeLive = "live"
	ModeDemo = "demo"
)

// StatusSuccess is the status of a run that completed.
const StatusSuccess = "Success"

// Result is the flat outcome of processing a meeting.
type Result struct {
	RunID           string             `json:"run_id"`
	MeetingTitle    string             `json:"meeting_title"`
	MeetingSummary  string             `json:"meeting_summary"`
	ExtractedIssues []extraction.Issue `json:"extracted_issues"`
	JiraTickets     []string           `json:"jira_tickets"`
	ConfluencePages []string           `json:"confluence_pages"`
	Outcomes        []Outcome          `json:"outcomes"`
	Status          string             `json:"status"`
	TotalTickets    int                `json:"total_tickets"`
	TotalPages      int                `json:"total_pages"`
	Mode            string             `json:"mode"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`

	err error
}

// Err returns the error that turned this result into an error result.
func (r *Result) Err() error {
	return r.err
}

// Succeeded reports whether the run completed.
func (r *Result) Succeeded() bool {
	return r.err == nil && r.Status == StatusSuccess
}

func errorResult(r *Result, err error) *Result {
	r.err = err
	r.MeetingSummary = "Error processing meeting: " + err.Error()
	r.ExtractedIssues = []extraction.Issue{}
	r.JiraTickets = []string{}
	r.ConfluencePages = []string{}
	r.Outcomes = []Outcome{}
	r.TotalTickets = 0
	r.TotalPages = 0
	r.Status = "Error: " + err.Error()
	return r
}

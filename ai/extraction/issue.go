package extraction

import (
	"strings"
)

// Issue is one trackable item extracted from meeting notes.
type Issue struct {
	Summary     string `json:"summary" jsonschema:"description=Brief title of the issue, at most 50 words"`
	Description string `json:"description" jsonschema:"description=Detailed description of the issue"`
	IssueType   string `json:"issue_type" jsonschema:"enum=Bug,enum=Task,enum=Story,enum=Epic,enum=Improvement"`
	Priority    string `json:"priority" jsonschema:"enum=Highest,enum=High,enum=Medium,enum=Low,enum=Lowest"`
}

// Analysis is the structured result of the extraction step.
type Analysis struct {
	MeetingSummary string  `json:"meeting_summary" jsonschema:"description=Concise summary of the meeting"`
	Issues         []Issue `json:"issues"`
}

// IssueTypes lists the types the model may produce.
var IssueTypes = []string{"Bug", "Task", "Story", "Epic", "Improvement"}

// Priorities lists the priorities the model may produce.
var Priorities = []string{"Highest", "High", "Medium", "Low", "Lowest"}

const (
	defaultIssueType = "Task"
	defaultPriority  = "Medium"
)

// Normalize trims an issue and coerces unknown types and priorities
// to Task and Medium. Matching is case-insensitive.
func Normalize(issue Issue) Issue {
	return Issue{
		Summary:     strings.TrimSpace(issue.Summary),
		Description: strings.TrimSpace(issue.Description),
		IssueType:   canonical(issue.IssueType, IssueTypes, defaultIssueType),
		Priority:    canonical(issue.Priority, Priorities, defaultPriority),
	}
}

func canonical(v string, allowed []string, fallback string) string {
	v = strings.TrimSpace(v)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	return fallback
}

// ticketTypes maps extracted issue types onto the ticketing system's types.
var ticketTypes = map[string]string{
	"Bug":         "Bug",
	"Task":        "Task",
	"Story":       "Story",
	"Epic":        "Epic",
	"Improvement": "Task",
}

// MapIssueType returns the ticket type for an extracted issue type.
// Anything unrecognised becomes Task.
func MapIssueType(t string) string {
	if mapped, ok := ticketTypes[strings.TrimSpace(t)]; ok {
		return mapped
	}
	return defaultIssueType
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

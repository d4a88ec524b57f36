package extraction

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/ai/configloader"
)

// PromptFile is the prompt override path relative to the prompt directory.
const PromptFile = "prompts/extraction.yaml"

// defaultTitle is used when a meeting has no title.
const defaultTitle = "Meeting"

const defaultSystemPrompt = `You are an expert meeting analyst. Analyze the meeting notes and provide:
1. A concise summary of the meeting
2. Extract any issues, action items, or problems that need tracking

For each issue found, provide:
- Summary: Brief title (max 50 words)
- Description: Detailed description of the issue
- Issue Type: Choose from (Bug, Task, Story, Epic, Improvement)
- Priority: Choose from (Highest, High, Medium, Low, Lowest)

Return the response in JSON format with this structure:
{
    "meeting_summary": "summary text",
    "issues": [
        {
            "summary": "issue title",
            "description": "detailed description",
            "issue_type": "Task/Bug/Story/etc",
            "priority": "Medium/High/etc"
        }
    ]
}`

const defaultUserTemplate = "Meeting Title: {{title}}\n\nMeeting Notes:\n{{notes}}"

// PromptConfig holds the extraction prompt and model parameters.
type PromptConfig struct {
	SystemPrompt string       `yaml:"system_prompt"`
	UserTemplate string       `yaml:"user_template"`
	Params       PromptParams `yaml:"params"`
}

// PromptParams are model parameters. A nil Temperature and a zero MaxTokens
// keep the client defaults.
type PromptParams struct {
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// DefaultPrompt returns the built-in prompt.
func DefaultPrompt() *PromptConfig {
	return &PromptConfig{
		SystemPrompt: defaultSystemPrompt,
		UserTemplate: defaultUserTemplate,
	}
}

// LoadPrompt returns the built-in prompt overlaid with PromptFile from dir.
// A missing file or empty dir is not an error.
func LoadPrompt(dir string) (*PromptConfig, error) {
	cfg := DefaultPrompt()
	if dir == "" {
		return cfg, nil
	}
	if _, err := configloader.NewLoader(dir).LoadOptional(PromptFile, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load extraction prompt")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if strings.TrimSpace(cfg.UserTemplate) == "" {
		cfg.UserTemplate = defaultUserTemplate
	}
	return cfg, nil
}

// UserMessage renders the user template. {{title}} and {{notes}} are
// substituted; an empty title becomes "Meeting".
func (p *PromptConfig) UserMessage(title, notes string) string {
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	return strings.NewReplacer("{{title}}", title, "{{notes}}", notes).Replace(p.UserTemplate)
}

package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the runtime configuration shared by the CLI and the server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider  string // openai, deepseek, openrouter, siliconflow, dashscope, zai, ollama
	LLMAPIKey    string
	LLMBaseURL   string // optional, has default per provider
	LLMModel     string
	LLMTimeout   int // seconds
	LLMMaxTokens int

	// Integration gateway configuration.
	GatewayURL          string
	GatewayToken        string
	GatewayTokenURL     string // OAuth2 client-credentials endpoint
	GatewayClientID     string
	GatewayClientSecret string
	GatewayScopes       []string
	GatewayTicketTool   string
	GatewayPageTool     string // empty: the ticket workflow also creates the page
	GatewayRateLimit    float64
	GatewayTimeout      int // seconds
	GatewayMaxRetries   int
	JiraProject         string
	ConfluenceSpace     string

	// Pipeline behaviour.
	IssueFilter     string // CEL expression
	Concurrency     int
	MockPageBaseURL string
	PromptDir       string
	MaxNotesBytes   int

	// Notifications & telemetry.
	WebhookURL   string
	OTelEndpoint string
	OTelHeaders  string

	// Server and run history.
	Mode    string
	Addr    string
	Data    string
	Driver  string
	DSN     string
	Version string
	Port    int
}

const (
	DefaultTicketTool  = "jIRA_IssueAutomation"
	DefaultJiraProject = "Jira-Test Project"
)

// Provider default configurations for LLM.
// Used when the base URL or model is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an LLM API key is configured.
// Local providers (ollama) do not need one.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// IsGatewayConfigured reports whether live ticket creation is possible.
// Without it the pipeline runs in demo mode.
func (p *Profile) IsGatewayConfigured() bool {
	if p.GatewayURL == "" {
		return false
	}
	if p.GatewayToken != "" {
		return true
	}
	return p.GatewayTokenURL != "" && p.GatewayClientID != "" && p.GatewayClientSecret != ""
}

// HasStore reports whether run history persistence is configured.
func (p *Profile) HasStore() bool {
	return p.Driver != "" && p.DSN != ""
}

// getEnvOrDefault returns the first non-empty environment variable among keys,
// or defaultValue.
func getEnvOrDefault(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvOrDefaultInt(defaultValue int, keys ...string) int {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if intVal, err := strconv.Atoi(value); err == nil {
				return intVal
			}
			slog.Warn("ignoring non-integer environment value", "key", key, "value", value)
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(defaultValue float64, keys ...string) float64 {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				return f
			}
			slog.Warn("ignoring non-numeric environment value", "key", key, "value", value)
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv loads configuration from environment variables.
// Legacy variable names are accepted as fallbacks.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("openai", "MEETFLOW_LLM_PROVIDER")
	p.LLMAPIKey = getEnvOrDefault("", "MEETFLOW_LLM_API_KEY", "OPENAI_API_KEY")
	p.LLMBaseURL = getEnvOrDefault("", "MEETFLOW_LLM_BASE_URL", "OPENAI_BASE_URL")
	p.LLMModel = getEnvOrDefault("", "MEETFLOW_LLM_MODEL")
	p.LLMTimeout = getEnvOrDefaultInt(120, "MEETFLOW_LLM_TIMEOUT_SECONDS")
	p.LLMMaxTokens = getEnvOrDefaultInt(4096, "MEETFLOW_LLM_MAX_TOKENS")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, treating as generic OpenAI-compatible endpoint", "provider", p.LLMProvider)
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.GatewayURL = getEnvOrDefault("", "MEETFLOW_GATEWAY_URL", "UIPATH_MCP_URL")
	p.GatewayToken = getEnvOrDefault("", "MEETFLOW_GATEWAY_TOKEN", "UIPATH_ACCESS_TOKEN")
	p.GatewayTokenURL = getEnvOrDefault("", "MEETFLOW_GATEWAY_TOKEN_URL")
	p.GatewayClientID = getEnvOrDefault("", "MEETFLOW_GATEWAY_CLIENT_ID")
	p.GatewayClientSecret = getEnvOrDefault("", "MEETFLOW_GATEWAY_CLIENT_SECRET")
	p.GatewayScopes = splitList(getEnvOrDefault("", "MEETFLOW_GATEWAY_SCOPES"))
	p.GatewayTicketTool = getEnvOrDefault(DefaultTicketTool, "MEETFLOW_GATEWAY_TICKET_TOOL")
	p.GatewayPageTool = getEnvOrDefault("", "MEETFLOW_GATEWAY_PAGE_TOOL")
	p.GatewayRateLimit = getEnvOrDefaultFloat(5, "MEETFLOW_GATEWAY_RATE_LIMIT")
	p.GatewayTimeout = getEnvOrDefaultInt(60, "MEETFLOW_GATEWAY_TIMEOUT_SECONDS", "TIMEOUT")
	p.GatewayMaxRetries = getEnvOrDefaultInt(3, "MEETFLOW_GATEWAY_MAX_RETRIES", "MAX_RETRIES")
	p.JiraProject = getEnvOrDefault(DefaultJiraProject, "MEETFLOW_JIRA_PROJECT", "DEFAULT_JIRA_PROJECT")
	p.ConfluenceSpace = getEnvOrDefault("", "MEETFLOW_CONFLUENCE_SPACE")

	p.IssueFilter = getEnvOrDefault("", "MEETFLOW_ISSUE_FILTER")
	p.Concurrency = getEnvOrDefaultInt(4, "MEETFLOW_CONCURRENCY")
	p.MockPageBaseURL = getEnvOrDefault("https://confluence.example.invalid/pages", "MEETFLOW_MOCK_PAGE_BASE_URL")
	p.PromptDir = getEnvOrDefault("", "MEETFLOW_PROMPT_DIR")
	p.MaxNotesBytes = getEnvOrDefaultInt(100_000, "MEETFLOW_MAX_NOTES_BYTES")

	p.WebhookURL = getEnvOrDefault("", "MEETFLOW_WEBHOOK_URL")
	p.OTelEndpoint = getEnvOrDefault("", "MEETFLOW_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	p.OTelHeaders = getEnvOrDefault("", "MEETFLOW_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalises the profile and rejects combinations that cannot run.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	switch p.Driver {
	case "":
	case "sqlite":
		if p.DSN == "" {
			if p.Data == "" {
				return errors.New("sqlite driver requires --dsn or --data")
			}
			dataDir, err := checkDataDir(p.Data)
			if err != nil {
				return err
			}
			p.Data = dataDir
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("meetflow_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres driver requires --dsn")
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.GatewayMaxRetries < 1 {
		p.GatewayMaxRetries = 1
	}
	if p.GatewayTimeout <= 0 {
		return errors.Errorf("gateway timeout must be positive, got %d", p.GatewayTimeout)
	}
	if p.LLMTimeout <= 0 {
		return errors.Errorf("llm timeout must be positive, got %d", p.LLMTimeout)
	}
	if p.MaxNotesBytes <= 0 {
		return errors.Errorf("max notes bytes must be positive, got %d", p.MaxNotesBytes)
	}

	return nil
}

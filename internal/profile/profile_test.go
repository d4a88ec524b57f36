package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"MEETFLOW_LLM_PROVIDER", "MEETFLOW_LLM_BASE_URL", "OPENAI_BASE_URL", "MEETFLOW_LLM_MODEL",
		"MEETFLOW_GATEWAY_URL", "UIPATH_MCP_URL", "MEETFLOW_GATEWAY_TICKET_TOOL",
		"MEETFLOW_GATEWAY_TIMEOUT_SECONDS", "TIMEOUT", "MEETFLOW_GATEWAY_MAX_RETRIES", "MAX_RETRIES",
		"MEETFLOW_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.LLMModel)
	assert.Equal(t, DefaultTicketTool, p.GatewayTicketTool)
	assert.Equal(t, 60, p.GatewayTimeout)
	assert.Equal(t, 3, p.GatewayMaxRetries)
	assert.Equal(t, 4, p.Concurrency)
	assert.False(t, p.IsGatewayConfigured())
}

func TestFromEnv_LegacyNames(t *testing.T) {
	t.Setenv("UIPATH_MCP_URL", "https://gateway.example.com/mcp")
	t.Setenv("UIPATH_ACCESS_TOKEN", "legacy-token")
	t.Setenv("DEFAULT_JIRA_PROJECT", "OPS")
	t.Setenv("TIMEOUT", "15")
	t.Setenv("MAX_RETRIES", "5")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://gateway.example.com/mcp", p.GatewayURL)
	assert.Equal(t, "legacy-token", p.GatewayToken)
	assert.Equal(t, "OPS", p.JiraProject)
	assert.Equal(t, 15, p.GatewayTimeout)
	assert.Equal(t, 5, p.GatewayMaxRetries)
	assert.True(t, p.IsGatewayConfigured())
}

func TestFromEnv_NewNamesWin(t *testing.T) {
	t.Setenv("UIPATH_ACCESS_TOKEN", "legacy-token")
	t.Setenv("MEETFLOW_GATEWAY_TOKEN", "new-token")
	t.Setenv("MEETFLOW_GATEWAY_SCOPES", "tickets.write, pages.write,,")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "new-token", p.GatewayToken)
	assert.Equal(t, []string{"tickets.write", "pages.write"}, p.GatewayScopes)
}

func TestIsGatewayConfigured_ClientCredentials(t *testing.T) {
	p := &Profile{
		GatewayURL:          "https://gateway.example.com/mcp",
		GatewayTokenURL:     "https://auth.example.com/token",
		GatewayClientID:     "id",
		GatewayClientSecret: "secret",
	}
	assert.True(t, p.IsGatewayConfigured())

	p.GatewayClientSecret = ""
	assert.False(t, p.IsGatewayConfigured())
}

func TestValidate(t *testing.T) {
	t.Run("unknown mode falls back to dev", func(t *testing.T) {
		p := validProfile()
		p.Mode = "staging"
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
	})

	t.Run("sqlite derives dsn from data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := validProfile()
		p.Driver = "sqlite"
		p.Data = dir
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "meetflow_dev.db"), p.DSN)
		assert.True(t, p.HasStore())
	})

	t.Run("sqlite without dsn or data", func(t *testing.T) {
		p := validProfile()
		p.Driver = "sqlite"
		assert.Error(t, p.Validate())
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := validProfile()
		p.Driver = "postgres"
		assert.Error(t, p.Validate())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		p := validProfile()
		p.Driver = "mysql"
		assert.Error(t, p.Validate())
	})

	t.Run("clamps concurrency and retries", func(t *testing.T) {
		p := validProfile()
		p.Concurrency = 0
		p.GatewayMaxRetries = -1
		require.NoError(t, p.Validate())
		assert.Equal(t, 1, p.Concurrency)
		assert.Equal(t, 1, p.GatewayMaxRetries)
	})

	t.Run("rejects zero timeout", func(t *testing.T) {
		p := validProfile()
		p.GatewayTimeout = 0
		assert.Error(t, p.Validate())
	})
}

func validProfile() *Profile {
	return &Profile{
		Mode:              "dev",
		LLMTimeout:        120,
		GatewayTimeout:    60,
		GatewayMaxRetries: 3,
		Concurrency:       4,
		MaxNotesBytes:     1000,
	}
}

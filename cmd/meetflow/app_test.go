package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysisJSON = `{"meeting_summary":"Release sync.","issues":[` +
	`{"summary":"Fix login","description":"Users are logged out.","issue_type":"Bug","priority":"High"}]}`

func newFakeLLM(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": analysisJSON},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func newProcessCmd(stdin string, out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().StringP("file", "f", "", "")
	cmd.Flags().StringP("title", "t", "", "")
	cmd.Flags().StringP("output", "o", "json", "")
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunProcess_DeliversWebhookBeforeReturning(t *testing.T) {
	llmSrv := newFakeLLM(t)
	defer llmSrv.Close()

	var hits atomic.Int32
	var runID atomic.Value
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		runID.Store(payload["run_id"])
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hookSrv.Close()

	t.Setenv("MEETFLOW_LLM_PROVIDER", "openai")
	t.Setenv("MEETFLOW_LLM_API_KEY", "test-key")
	t.Setenv("MEETFLOW_LLM_BASE_URL", llmSrv.URL)
	t.Setenv("MEETFLOW_WEBHOOK_URL", hookSrv.URL)
	for _, key := range []string{
		"MEETFLOW_GATEWAY_URL", "UIPATH_MCP_URL",
		"MEETFLOW_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"MEETFLOW_PROMPT_DIR", "MEETFLOW_ISSUE_FILTER",
	} {
		t.Setenv(key, "")
	}

	var out bytes.Buffer
	require.NoError(t, runProcess(newProcessCmd("Alice: login keeps failing.", &out), nil))

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "Success", result["status"])
	assert.Equal(t, []any{"MCP-MOCK-001"}, result["jira_tickets"])

	require.EqualValues(t, 1, hits.Load(), "webhook must be delivered before the command returns")
	assert.Equal(t, result["run_id"], runID.Load())
}

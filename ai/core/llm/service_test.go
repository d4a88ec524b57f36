package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_UnsupportedProvider(t *testing.T) {
	_, err := NewService(&Config{Provider: "unsupported", APIKey: "k"})
	if err == nil {
		t.Error("NewService() with unsupported provider and no base URL should return error")
	}
}

func TestNewService_GenericProviderWithBaseURL(t *testing.T) {
	svc, err := NewService(&Config{Provider: "custom", APIKey: "k", BaseURL: "http://localhost:9999/v1"})
	require.NoError(t, err)
	assert.Equal(t, defaultModel, svc.Model())
}

func TestNewService_RequiresAPIKey(t *testing.T) {
	_, err := NewService(&Config{Provider: "openai"})
	assert.Error(t, err)

	svc, err := NewService(&Config{Provider: "ollama", Model: "llama3.1"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", svc.Model())
}

type capturedRequest struct {
	Model          string          `json:"model"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat json.RawMessage `json:"response_format"`
	Messages       []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newFakeOpenAI(t *testing.T, content string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestChatJSON_SendsSchemaAndReturnsContent(t *testing.T) {
	var captured capturedRequest
	srv := newFakeOpenAI(t, `{"title":"ok"}`, &captured)
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	type out struct {
		Title string `json:"title"`
	}
	content, stats, err := svc.ChatJSON(context.Background(),
		[]Message{SystemPrompt("sys"), UserMessage("hello")},
		ResponseSchema{Name: "out", Schema: GenerateSchema[out](), Strict: true},
	)
	require.NoError(t, err)
	assert.Equal(t, `{"title":"ok"}`, content)
	require.NotNil(t, stats)
	assert.Equal(t, 20, stats.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.InDelta(t, 0.1, captured.Temperature, 0.0001)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Contains(t, string(captured.ResponseFormat), `"json_schema"`)
	assert.Contains(t, string(captured.ResponseFormat), `"title"`)
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Error(t, err)
}

func TestChat_ExplicitZeroTemperatureIsSent(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	zero := float32(0)
	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Temperature: &zero})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hello")})
	require.NoError(t, err)
	require.Contains(t, body, "temperature")
	assert.InDelta(t, 0, body["temperature"], 1e-6)
}

func TestIsRetryable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"request timeout", fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"request error 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"network", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(ctx, tt.err))
		})
	}
}

func TestIsRetryable_CallerContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, IsRetryable(ctx, fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(ctx, errors.New("connection reset by peer")))

	expired, cancelExpired := context.WithTimeout(context.Background(), -time.Second)
	defer cancelExpired()
	assert.False(t, IsRetryable(expired, context.DeadlineExceeded))
}

func TestChat_RequestTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	svc, err := NewService(&Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Timeout: 1})
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = svc.Chat(ctx, []Message{UserMessage("hello")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsRetryable(ctx, err))
}

func TestGenerateSchema_NoAdditionalProperties(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	type wrapper struct {
		Items []item `json:"items"`
	}
	raw, err := json.Marshal(GenerateSchema[wrapper]())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "$ref")
	assert.Contains(t, string(raw), `"additionalProperties":false`)
}

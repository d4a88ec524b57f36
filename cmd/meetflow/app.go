package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/meetflow/ai/core/llm"
	"github.com/hrygo/meetflow/ai/extraction"
	"github.com/hrygo/meetflow/ai/metrics"
	"github.com/hrygo/meetflow/ai/observability/tracing"
	"github.com/hrygo/meetflow/ai/pipeline"
	"github.com/hrygo/meetflow/internal/profile"
	"github.com/hrygo/meetflow/internal/retry"
	"github.com/hrygo/meetflow/internal/version"
	"github.com/hrygo/meetflow/plugin/gateway"
	"github.com/hrygo/meetflow/plugin/webhook"
	"github.com/hrygo/meetflow/store"
	"github.com/hrygo/meetflow/store/db"
)

// app holds the wired components shared by process and serve.
type app struct {
	pipeline        *pipeline.Pipeline
	store           *store.Store
	metrics         *metrics.PrometheusExporter
	webhooks        *webhook.Sender
	shutdownTracing func()
}

// webhookDrainTimeout bounds how long shutdown waits for run notifications.
const webhookDrainTimeout = 30 * time.Second

func (a *app) Close() {
	a.drainWebhooks()
	a.shutdownTracing()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}

func (a *app) drainWebhooks() {
	ctx, cancel := context.WithTimeout(context.Background(), webhookDrainTimeout)
	defer cancel()
	if err := a.webhooks.Wait(ctx); err != nil {
		slog.Warn("gave up waiting for webhook delivery", "error", err)
	}
}

func newStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

func newApp(ctx context.Context, p *profile.Profile) (*app, error) {
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       p.OTelEndpoint,
		Headers:        p.OTelHeaders,
		ServiceName:    "meetflow",
		ServiceVersion: version.String(),
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	a := &app{
		metrics:  metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		webhooks: &webhook.Sender{},
		shutdownTracing: func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("failed to flush traces", "error", err)
			}
		},
	}

	if !p.IsLLMEnabled() {
		a.Close()
		return nil, errors.Errorf("no API key configured for LLM provider %q; set MEETFLOW_LLM_API_KEY or OPENAI_API_KEY", p.LLMProvider)
	}

	prompt, err := extraction.LoadPrompt(p.PromptDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	llmCfg := &llm.Config{
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   p.LLMMaxTokens,
		Temperature: prompt.Params.Temperature,
		Timeout:     p.LLMTimeout,
	}
	if prompt.Params.MaxTokens > 0 {
		llmCfg.MaxTokens = prompt.Params.MaxTokens
	}
	llmService, err := llm.NewService(llmCfg)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to create LLM service")
	}

	filter, err := extraction.NewFilter(p.IssueFilter)
	if err != nil {
		a.Close()
		return nil, err
	}
	extractor := extraction.NewExtractor(llmService,
		extraction.WithPrompt(prompt),
		extraction.WithFilter(filter),
		extraction.WithRetry(retry.Default(p.GatewayMaxRetries)),
	)

	dispatcher, err := newDispatcher(p, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	if p.HasStore() {
		a.store, err = newStore(ctx, p)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "failed to open run history")
		}
	}

	cfg := pipeline.Config{
		Extractor:     extractor,
		Dispatcher:    dispatcher,
		Metrics:       a.metrics,
		WebhookURL:    p.WebhookURL,
		Model:         llmService.Model(),
		Concurrency:   p.Concurrency,
		MaxNotesBytes: p.MaxNotesBytes,
		Notify:        a.webhooks.Send,
	}
	if a.store != nil {
		cfg.Store = a.store
	}
	a.pipeline = pipeline.New(cfg)

	slog.Info("pipeline ready",
		"mode", dispatcher.Mode(),
		"llm_provider", p.LLMProvider,
		"llm_model", llmService.Model(),
		"issue_filter", filter.String(),
		"history", p.HasStore(),
	)
	return a, nil
}

func newDispatcher(p *profile.Profile, recorder metrics.Recorder) (pipeline.Dispatcher, error) {
	if !p.IsGatewayConfigured() {
		slog.Warn("integration gateway credentials not configured, creating mock tickets")
		return pipeline.NewMockDispatcher(p.MockPageBaseURL, recorder), nil
	}

	client, err := gateway.New(gateway.Config{
		URL:          p.GatewayURL,
		Token:        p.GatewayToken,
		TokenURL:     p.GatewayTokenURL,
		ClientID:     p.GatewayClientID,
		ClientSecret: p.GatewayClientSecret,
		Scopes:       p.GatewayScopes,
		Timeout:      time.Duration(p.GatewayTimeout) * time.Second,
		MaxRetries:   p.GatewayMaxRetries,
		RateLimit:    p.GatewayRateLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway client")
	}
	return pipeline.NewGatewayDispatcher(client, pipeline.GatewayConfig{
		TicketTool: p.GatewayTicketTool,
		PageTool:   p.GatewayPageTool,
		Project:    p.JiraProject,
		Space:      p.ConfluenceSpace,
	}, recorder), nil
}

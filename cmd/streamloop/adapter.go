package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/martinemde/streamloop/internal/config"
	"github.com/martinemde/streamloop/unifiedllm"
)

const gollmPrefix = "gollm:"

// compatBaseURLs are endpoints of OpenAI-compatible vendors.
var compatBaseURLs = map[string]string{
	"deepseek":   "https://api.deepseek.com",
	"openrouter": "https://openrouter.ai/api",
	"ollama":     "http://localhost:11434",
}

// newAdapter builds the protocol adapter named by cfg.Name.
func newAdapter(cfg config.ProviderConfig, agent config.AgentConfig, logger *slog.Logger) (unifiedllm.ProtocolAdapter, error) {
	if vendor, ok := strings.CutPrefix(cfg.Name, gollmPrefix); ok {
		adapter, err := unifiedllm.NewGollmAdapter(vendor, cfg.APIKey,
			unifiedllm.WithGollmModel(cfg.Model),
			unifiedllm.WithGollmMaxTokens(agent.MaxTokens),
			unifiedllm.WithGollmTemperature(agent.Temperature),
			unifiedllm.WithGollmLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create gollm adapter: %w", err)
		}
		return adapter, nil
	}

	opts := []unifiedllm.AdapterOption{
		unifiedllm.WithLogger(logger),
		unifiedllm.WithStrictParsing(cfg.Strict),
		unifiedllm.WithDefaultMaxTokens(agent.MaxTokens),
	}
	switch cfg.Name {
	case "", "anthropic":
		if cfg.BaseURL != "" {
			opts = append(opts, unifiedllm.WithBaseURL(cfg.BaseURL))
		}
		opts = append(opts, unifiedllm.WithArraySystemFormat(cfg.ArraySystemFormat))
		return unifiedllm.NewAnthropicAdapter(cfg.APIKey, opts...), nil
	default:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = compatBaseURLs[cfg.Name]
		}
		if baseURL != "" {
			opts = append(opts, unifiedllm.WithBaseURL(baseURL))
		}
		opts = append(opts, unifiedllm.WithProviderName(cfg.Name))
		return unifiedllm.NewOpenAIAdapter(cfg.APIKey, opts...), nil
	}
}

// newClient wraps the configured adapter with logging and, when enabled,
// retries of calls that failed before streaming started.
func newClient(app config.AppConfig, logger *slog.Logger) (*unifiedllm.Client, error) {
	adapter, err := newAdapter(app.Provider, app.Agent, logger)
	if err != nil {
		return nil, err
	}
	middleware := []unifiedllm.Middleware{unifiedllm.LoggingMiddleware(logger)}
	if app.Retry.MaxRetries > 0 {
		policy := unifiedllm.DefaultRetryPolicy()
		policy.MaxRetries = app.Retry.MaxRetries
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			logger.Warn("retrying model call", "attempt", attempt, "delay", delay, "error", err)
		}
		middleware = append(middleware, unifiedllm.RetryMiddleware(policy))
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(adapter.Name(), adapter),
		unifiedllm.WithDefaultProvider(adapter.Name()),
		unifiedllm.WithMiddleware(middleware...),
	), nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
)

// RetryBaseDelay is the wait before the first retried provider call. Tests
// override it.
var RetryBaseDelay = time.Second

// Chat is a Provider backed by a langchaingo chat model.
type Chat struct {
	name       string
	model      llms.Model
	maxRetries int
	log        *zap.Logger
}

// NewChat wraps an existing langchaingo model. maxRetries is the number of
// additional attempts made when the model call itself fails.
func NewChat(name string, model llms.Model, maxRetries int, log *zap.Logger) *Chat {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Chat{
		name:       name,
		model:      model,
		maxRetries: maxRetries,
		log:        logger.OrNop(log).With(zap.String("component", "llm"), zap.String("provider", name)),
	}
}

// NewProvider builds the chat provider selected by cfg.
func NewProvider(cfg types.AIConfig, log *zap.Logger) (*Chat, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Provider {
	case types.LLMAnthropic, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w: missing api key", ErrNotConfigured)
		}
		opts := []anthropic.Option{
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(orDefault(cfg.Model, defaultAnthropicModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		model, err = anthropic.New(opts...)

	case types.LLMOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w: missing api key", ErrNotConfigured)
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(orDefault(cfg.Model, defaultOpenAIModel)),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)

	case types.LLMLocal:
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("local: %w: base_url and model are required", ErrNotConfigured)
		}
		// Local OpenAI-compatible servers usually ignore the token.
		model, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(orDefault(cfg.APIKey, "none")),
			openai.WithModel(cfg.Model),
		)

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	name := string(cfg.Provider)
	if name == "" {
		name = string(types.LLMAnthropic)
	}
	return NewChat(name, model, cfg.MaxRetries, log), nil
}

// Name implements Provider.
func (c *Chat) Name() string { return c.name }

// Generate implements Provider. Failed model calls are retried with
// exponential backoff; an empty reply is not retried.
func (c *Chat) Generate(ctx context.Context, req Request) (string, error) {
	var content []llms.MessageContent
	if req.System != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(RetryBaseDelay << (attempt - 1)):
			}
		}

		resp, err := c.model.GenerateContent(ctx, content, opts...)
		if err != nil {
			lastErr = err
			c.log.Warn("generate content failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
		}

		text := strings.TrimSpace(resp.Choices[0].Content)
		if text == "" {
			return "", fmt.Errorf("%s: %w", c.name, ErrEmptyResponse)
		}
		return text, nil
	}
	return "", fmt.Errorf("%s: generate content: %w", c.name, lastErr)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

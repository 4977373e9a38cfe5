// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm wraps chat-completion providers behind a single Generate call
// and turns their loosely formatted replies into decoded JSON values.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when a provider produced no text.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrInvalidJSON is returned when a reply cannot be decoded after cleaning.
	ErrInvalidJSON = errors.New("llm: invalid JSON")

	// ErrNotConfigured is returned when a provider lacks its credentials or endpoint.
	ErrNotConfigured = errors.New("llm: provider not configured")
)

// Request is a single completion call.
type Request struct {
	// Prompt is the user message.
	Prompt string

	// System is an optional system message.
	System string

	// JSON asks the provider for a JSON reply where it supports a JSON mode.
	JSON bool

	Temperature float64
	MaxTokens   int
}

// Provider produces completion text for a request.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Name implements Provider.
func (f ProviderFunc) Name() string { return "func" }

// Generate implements Provider.
func (f ProviderFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// GenerateJSON calls p with JSON mode enabled, cleans the reply with
// CleanJSON, and decodes it into a generic value (map, slice, number,
// string, bool, or nil). Replies that still fail to decode are retried up to
// attempts times in total. Provider errors are returned immediately.
func GenerateJSON(ctx context.Context, p Provider, req Request, attempts int) (any, error) {
	if attempts < 1 {
		attempts = 1
	}
	req.JSON = true

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		text, err := p.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, fmt.Errorf("%s: %w", p.Name(), ErrEmptyResponse)
		}

		var v any
		if err := json.Unmarshal([]byte(CleanJSON(text)), &v); err != nil {
			lastErr = fmt.Errorf("%w: %v (response: %.200q)", ErrInvalidJSON, err, text)
			continue
		}
		return v, nil
	}
	return nil, lastErr
}

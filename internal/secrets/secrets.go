// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// Recognised key files.
const (
	PubMedAPIKey          = "pubmed-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	OpenAlexEmail         = "openalex-email"
	AnthropicAPIKey       = "anthropic-api-key"
	OpenAIAPIKey          = "openai-api-key"
	EmbeddingAPIKey       = "embedding-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged at warn level and skipped.
func Load(dir string, log *zap.Logger) (map[string]string, error) {
	log = logger.OrNop(log)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills empty credential fields of cfg from secrets. Values already
// set through the config file or environment take precedence.
func Apply(cfg *types.Config, secrets map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = secrets[key]
		}
	}

	fill(&cfg.Search.PubMedAPIKey, PubMedAPIKey)
	fill(&cfg.Search.SemanticScholarAPIKey, SemanticScholarAPIKey)
	fill(&cfg.Search.OpenAlexEmail, OpenAlexEmail)

	switch cfg.LLM.Provider {
	case types.LLMAnthropic:
		fill(&cfg.LLM.APIKey, AnthropicAPIKey)
	case types.LLMOpenAI, types.LLMLocal:
		fill(&cfg.LLM.APIKey, OpenAIAPIKey)
	}

	fill(&cfg.Embedding.APIKey, EmbeddingAPIKey)
	fill(&cfg.Embedding.APIKey, OpenAIAPIKey)
}

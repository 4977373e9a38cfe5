package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "litfunnel/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// FunnelConfig holds the retrieval funnel policy parameters.
type FunnelConfig struct {
	// MaxPapers is the default number of final papers (default 20).
	MaxPapers int `json:"max_papers" yaml:"max_papers" mapstructure:"max_papers"`

	// TitleSearchLimit is the default per-source result cap (default 500).
	TitleSearchLimit int `json:"title_search_limit" yaml:"title_search_limit" mapstructure:"title_search_limit"`

	// TitleRankLimit caps the survivors of the title similarity pass (default 50).
	TitleRankLimit int `json:"title_rank_limit" yaml:"title_rank_limit" mapstructure:"title_rank_limit"`

	// CandidateBuffer is how many candidates beyond MaxPapers the abstract
	// pass keeps for the validator to reject (default 10). Zero passes
	// exactly MaxPapers candidates; a negative value selects the default.
	CandidateBuffer int `json:"candidate_buffer" yaml:"candidate_buffer" mapstructure:"candidate_buffer"`

	// MinValidatedRatio is the fraction of MaxPapers the validator must keep
	// for its subset to be used (default 0.5).
	MinValidatedRatio float64 `json:"min_validated_ratio" yaml:"min_validated_ratio" mapstructure:"min_validated_ratio"`

	// YearMin is the earliest publication year searched (default 2020).
	YearMin int `json:"year_min" yaml:"year_min" mapstructure:"year_min"`

	// YearMax is the latest publication year searched. Zero means the
	// current year.
	YearMax int `json:"year_max" yaml:"year_max" mapstructure:"year_max"`
}

// SearchConfig holds settings for the bibliographic backends.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Sources lists the enabled backends in priority order.
	Sources []SourceID `json:"sources" yaml:"sources" mapstructure:"sources"`

	// PubMedAPIKey is an optional NCBI key for higher rate limits.
	PubMedAPIKey string `json:"pubmed_api_key,omitempty" yaml:"pubmed_api_key,omitempty" mapstructure:"pubmed_api_key"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// OpenAlexEmail is sent as mailto for the OpenAlex polite pool.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`
}

// LLMProvider selects the text generation backend.
type LLMProvider string

const (
	LLMAnthropic LLMProvider = "anthropic"
	LLMOpenAI    LLMProvider = "openai"
	LLMLocal     LLMProvider = "local"
)

// AIConfig holds settings for the text generation backend.
type AIConfig struct {
	// Provider is anthropic, openai, or local (any OpenAI-compatible server).
	Provider LLMProvider `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// BaseURL overrides the provider endpoint. Required for local.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the number of retry attempts for failed API calls (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// EmbeddingConfig holds settings for the embedding backend.
type EmbeddingConfig struct {
	// BaseURL is the OpenAI-compatible embeddings endpoint.
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is the embedding model identifier.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey authenticates against the embeddings endpoint.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// Dimensions requests a reduced vector size when the model supports it.
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty" mapstructure:"dimensions"`

	// BatchSize caps texts per embeddings request (default 128).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// CacheDir is the badger directory for cached vectors. Empty disables caching.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
}

// HistoryConfig holds settings for the run history store.
type HistoryConfig struct {
	// Enabled controls whether runs are recorded.
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Env is prod, dev, or local.
	Env string `json:"env" yaml:"env" mapstructure:"env"`

	// Level overrides the env default: debug, info, warn, error.
	Level string `json:"level,omitempty" yaml:"level,omitempty" mapstructure:"level"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Config groups all settings.
type Config struct {
	Funnel    FunnelConfig    `json:"funnel" yaml:"funnel" mapstructure:"funnel"`
	Search    SearchConfig    `json:"search" yaml:"search" mapstructure:"search"`
	LLM       AIConfig        `json:"llm" yaml:"llm" mapstructure:"llm"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	History   HistoryConfig   `json:"history" yaml:"history" mapstructure:"history"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging" mapstructure:"logging"`
	Server    ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
}

// DefaultFunnelConfig returns the funnel policy defaults.
func DefaultFunnelConfig() FunnelConfig {
	return FunnelConfig{
		MaxPapers:         20,
		TitleSearchLimit:  500,
		TitleRankLimit:    50,
		CandidateBuffer:   10,
		MinValidatedRatio: 0.5,
		YearMin:           2020,
	}
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Funnel: DefaultFunnelConfig(),
		Search: SearchConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "litfunnel/0.1",
			},
			Sources: append([]SourceID(nil), AllSources...),
		},
		LLM: AIConfig{
			Provider:   LLMAnthropic,
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 2,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			BatchSize: 128,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "litfunnel.db",
		},
		Logging: LoggingConfig{
			Env: "local",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// EffectiveYearMax resolves a zero YearMax to the current year.
func (c FunnelConfig) EffectiveYearMax(now time.Time) int {
	if c.YearMax > 0 {
		return c.YearMax
	}
	return now.Year()
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the litfunnel CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/logger"
	"github.com/pdiddy/litfunnel/internal/secrets"
	"github.com/pdiddy/litfunnel/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the resolved configuration: defaults, then the config file,
	// then environment, then .secrets/ for credentials still empty.
	cfg types.Config

	// log is the process logger built from cfg.Logging.
	log = zap.NewNop()
)

// envBound lists keys that can be set from the environment without
// appearing in a config file.
var envBound = []string{
	"llm.provider",
	"llm.model",
	"llm.base_url",
	"llm.api_key",
	"embedding.base_url",
	"embedding.model",
	"embedding.api_key",
	"embedding.cache_dir",
	"search.pubmed_api_key",
	"search.semantic_scholar_api_key",
	"search.openalex_email",
	"history.enabled",
	"history.path",
	"logging.env",
	"logging.level",
	"server.addr",
}

// rootCmd is the base command for the litfunnel CLI.
var rootCmd = &cobra.Command{
	Use:   "litfunnel",
	Short: "Find the papers most relevant to a research abstract",
	Long: `litfunnel takes a research abstract, extracts search terms from it, queries
PubMed, Semantic Scholar, OpenAlex, and arXiv in parallel, and narrows the
combined results through title and abstract similarity passes and a final
relevance check.

Run a search from the command line with "search", or expose the same funnel
over HTTP with "serve". Finished runs are kept in a local history database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			c.Logging.Level = lvl
		}

		l, err := logger.NewLogger(c.Logging.Env, c.Logging.Level)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		log = l

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, log)
		if err != nil {
			return err
		}
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			log.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		secrets.Apply(&c, s)
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./litfunnel.yaml or ~/.config/litfunnel/litfunnel.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of credential files")
	rootCmd.PersistentFlags().String("log-level", "", "log level override: debug, info, warn, error")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("litfunnel")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "litfunnel"))
		}
	}

	viper.SetEnvPrefix("LITFUNNEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range envBound {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes the viper state over the built-in defaults.
func loadConfig() (types.Config, error) {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/litfunnel/internal/funnel"
	"github.com/pdiddy/litfunnel/internal/report"
	"github.com/pdiddy/litfunnel/internal/search"
	"github.com/pdiddy/litfunnel/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [abstract]",
	Short: "Find the papers most relevant to an abstract",
	Long: `Search extracts terms from the abstract, queries every enabled source in
parallel, and narrows the merged results to the most relevant papers.

The abstract is taken from the arguments, from --file, or from stdin when
--file is "-". Progress is written to stderr; results go to stdout.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringP("file", "f", "", "read the abstract from a file (- for stdin)")
	searchCmd.Flags().Int("max-papers", 0, "number of papers to return (default from config)")
	searchCmd.Flags().Int("title-search-limit", 0, "results requested per source (default from config)")
	searchCmd.Flags().String("sources", "", "comma-separated sources: pubmed, semantic_scholar, openalex, arxiv")
	searchCmd.Flags().String("format", "table", "output format: table, json, csl")
	searchCmd.Flags().String("save", "", "write the run to a YAML file")
	searchCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	abstract, err := readAbstract(cmd, args)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	maxPapers, _ := cmd.Flags().GetInt("max-papers")
	titleLimit, _ := cmd.Flags().GetInt("title-search-limit")
	sourcesFlag, _ := cmd.Flags().GetString("sources")
	quiet, _ := cmd.Flags().GetBool("quiet")

	opts := funnel.RunOptions{
		MaxPapers:        maxPapers,
		TitleSearchLimit: titleLimit,
		Sources:          search.ParseSources(sourcesFlag),
	}
	if !quiet {
		opts.Progress = progressPrinter(cmd.ErrOrStderr())
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := runContext(cmd)
	defer stop()

	res, err := a.funnel.Run(ctx, abstract, opts)
	if err != nil {
		return err
	}
	for _, e := range res.SourceErrors {
		log.Warn("source error", zap.String("error", e))
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" {
		fileOpts := report.RunFileOptions{
			MaxPapers:        maxPapers,
			TitleSearchLimit: titleLimit,
			Sources:          opts.Sources,
		}
		if err := report.WriteRunFile(path, abstract, fileOpts, res); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Saved run to", path)
	}

	return render(cmd.OutOrStdout(), res, format)
}

// readAbstract resolves the abstract from --file or the arguments.
func readAbstract(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	var text string
	switch {
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading abstract file: %w", err)
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("an abstract is required: pass it as an argument or with --file")
	}
	return text, nil
}

// progressPrinter writes each event as "[ 35%] message".
func progressPrinter(w io.Writer) funnel.ProgressSink {
	return func(ev types.ProgressEvent) {
		fmt.Fprintf(w, "[%3d%%] %s\n", ev.Percent, ev.Message)
	}
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "csl":
		return nil
	}
	return fmt.Errorf("unknown format %q: want table, json, or csl", format)
}

// render writes res to w in the named format.
func render(w io.Writer, res types.RankingResult, format string) error {
	switch format {
	case "json":
		return report.FormatJSON(res, w)
	case "csl":
		return report.FormatCSL(res, w)
	case "table":
		return report.FormatTable(res, w)
	}
	return checkFormat(format)
}

// runContext returns a context cancelled on interrupt.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

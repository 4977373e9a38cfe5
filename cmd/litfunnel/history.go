// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/litfunnel/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past funnel runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the papers of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyListCmd.Flags().StringP("match", "m", "", "only runs whose abstract contains this text")
	historyListCmd.Flags().IntP("limit", "n", 20, "maximum number of runs")
	historyShowCmd.Flags().String("format", "table", "output format: table, json, csl")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("run history is disabled (history.enabled: false)")
	}
	return history.Open(cfg.History.Path)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	match, _ := cmd.Flags().GetString("match")
	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.List(cmd.Context(), match, limit)
	if err != nil {
		return err
	}
	formatRunList(cmd.OutOrStdout(), runs)
	return nil
}

func formatRunList(w io.Writer, runs []history.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-6s  %-16s  %6s  %6s  %5s  %s\n", "ID", "Created", "Found", "Ranked", "Sim", "Abstract")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range runs {
		fmt.Fprintf(w, "%-6d  %-16s  %6d  %6d  %5.2f  %s\n",
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.TotalFound,
			r.TotalRanked,
			r.AvgSimilarity,
			r.Abstract,
		)
	}
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), run.Result, format)
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %d\n", id)
	return nil
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/litfunnel/internal/report"
)

var formatCmd = &cobra.Command{
	Use:   "format <run-file>",
	Short: "Render a saved run in another format",
	Long: `Format reads a run written by "search --save" and prints it as a table,
JSON, or CSL-YAML without querying the sources again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		rf, err := report.ReadRunFile(args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), rf.Result, format)
	},
}

func init() {
	formatCmd.Flags().String("format", "table", "output format: table, json, csl")
	rootCmd.AddCommand(formatCmd)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// lex
	lexLimit  int
	lexTokens bool

	// query
	queryPredicate  string
	queryCategory   string
	queryAt         int64
	querySpan       string
	queryGeneration int64

	// edit
	editPatch string
	editWrite bool
	editWarm  bool

	// watch
	watchMetricsAddr string

	// config
	configForce bool

	rootCmd = &cobra.Command{
		Use:   "factctl",
		Short: "Derive and query facts over JSON and source files",
		Long: `factctl lexes or parses a document into facts about byte spans and
keeps those facts current as the document is edited.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}

	lexCmd = &cobra.Command{
		Use:   "lex FILE",
		Short: "Print every fact derived from FILE",
		Args:  cobra.ExactArgs(1),
		RunE:  runLex,
	}

	queryCmd = &cobra.Command{
		Use:   "query FILE",
		Short: "Print the facts of FILE matching all given filters",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}

	editCmd = &cobra.Command{
		Use:   "edit FILE",
		Short: "Apply a unified diff to FILE and report what was re-derived",
		Args:  cobra.ExactArgs(1),
		RunE:  runEdit,
	}

	watchCmd = &cobra.Command{
		Use:   "watch FILE...",
		Short: "Keep facts current while files change on disk",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch,
	}

	statsCmd = &cobra.Command{
		Use:   "stats FILE",
		Short: "Show store, cache and atom table statistics for FILE",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the factstream configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.factstream/factstream.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	lexCmd.Flags().IntVar(&lexLimit, "limit", 0, "print at most this many entries (0 = all)")
	lexCmd.Flags().BoolVar(&lexTokens, "tokens", false, "print lexer tokens instead of facts")

	queryCmd.Flags().StringVar(&queryPredicate, "predicate", "", "predicate name, e.g. is_string")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "predicate category, e.g. structural")
	queryCmd.Flags().Int64Var(&queryAt, "at", -1, "byte offset the fact must contain")
	queryCmd.Flags().StringVar(&querySpan, "span", "", "byte range START:END the fact must overlap")
	queryCmd.Flags().Int64Var(&queryGeneration, "generation", -1, "generation the fact must belong to")

	editCmd.Flags().StringVar(&editPatch, "patch", "", "unified diff to apply (required)")
	editCmd.Flags().BoolVar(&editWrite, "write", false, "write the patched content back to FILE")
	editCmd.Flags().BoolVar(&editWarm, "warm", true, "populate the query cache first so invalidations are visible")
	_ = editCmd.MarkFlagRequired("patch")

	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(lexCmd, queryCmd, editCmd, watchCmd, statsCmd, configCmd)
}

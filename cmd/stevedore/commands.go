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

// --- Global Command Variables ---
var (
	logLevel    string
	logJSON     bool
	outDir      string
	external    []string
	bundleAll   bool
	precompress bool
	watchMode   bool

	rootCmd = &cobra.Command{
		Use:   "stevedore",
		Short: "Package a compiled web application into a deployable unit",
		Long: `Stevedore turns a compiled web application into a directory that
runs with nothing but a platform runtime and an install step: bundled
server code, a package descriptor listing what must be installed, and
precompressed static assets.`,
		SilenceUsage: true,
	}

	buildCmd = &cobra.Command{
		Use:   "build [project-root]",
		Short: "Bundle the server, write the descriptor, and stage assets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBuild, // Defined in cmd_build.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Force JSON log output")

	buildCmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: <root>/build)")
	buildCmd.Flags().StringSliceVar(&external, "external", nil, "Dependencies to install separately instead of embedding")
	buildCmd.Flags().BoolVar(&bundleAll, "bundle-all", false, "Embed every dependency except platform built-ins")
	buildCmd.Flags().BoolVar(&precompress, "precompress", true, "Write .gz/.br variants of staged assets")
	buildCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Rebuild when source inputs change")

	rootCmd.AddCommand(buildCmd)
}

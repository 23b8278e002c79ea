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
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/stevedore/pkg/logging"
	"github.com/AleutianAI/stevedore/services/packager"
	"github.com/AleutianAI/stevedore/services/packager/watch"
)

// runBuild executes a single build, or a build-on-change loop with --watch.
func runBuild(cmd *cobra.Command, args []string) error {
	root, err := resolveProjectRoot(args)
	if err != nil {
		return err
	}

	opts, err := packager.LoadOptions(root)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &opts)

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "stevedore",
		JSON:    logJSON,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := packager.New(opts, nil, logger.Logger)

	if err := pipeline.Run(ctx); err != nil {
		if !watchMode {
			return err
		}
		// Watch mode stays alive across broken builds; the next change
		// retries.
		logger.Error("build failed", "error", err)
	}

	if !watchMode {
		return nil
	}

	watcher := watch.New(watchRoots(opts), watch.DefaultDebounce, pipeline.Run, logger.Logger)
	logger.Info("watching for changes", "project", root)
	return watcher.Run(ctx)
}

// resolveProjectRoot picks the positional argument or the working directory.
func resolveProjectRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", abs)
	}
	return abs, nil
}

// applyFlagOverrides layers explicitly set CLI flags over file config.
func applyFlagOverrides(cmd *cobra.Command, opts *packager.Options) {
	if cmd.Flags().Changed("out") {
		opts.OutDir = outDir
		if !filepath.IsAbs(opts.OutDir) {
			opts.OutDir = filepath.Join(opts.ProjectRoot, opts.OutDir)
		}
	}
	if cmd.Flags().Changed("external") {
		opts.External = external
	}
	if cmd.Flags().Changed("bundle-all") {
		opts.BundleAll = bundleAll
	}
	if cmd.Flags().Changed("precompress") {
		opts.Precompress = precompress
	}
}

// watchRoots lists the existing input directories worth watching. The
// output directory is excluded so builds do not retrigger themselves.
func watchRoots(opts packager.Options) []string {
	candidates := []string{
		filepath.Dir(opts.ServerEntry),
		filepath.Dir(opts.GlueEntry),
		opts.ClientAssetsDir,
		opts.PrerenderedDir,
	}
	seen := make(map[string]bool, len(candidates))
	var roots []string
	for _, dir := range candidates {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			roots = append(roots, dir)
		}
	}
	return roots
}

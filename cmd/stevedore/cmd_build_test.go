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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stevedore/services/packager"
)

func TestResolveProjectRoot(t *testing.T) {
	dir := t.TempDir()

	root, err := resolveProjectRoot([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	_, err = resolveProjectRoot([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = resolveProjectRoot([]string{file})
	assert.ErrorContains(t, err, "not a directory")
}

func TestApplyFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "")
	cmd.Flags().StringSliceVar(&external, "external", nil, "")
	cmd.Flags().BoolVar(&bundleAll, "bundle-all", false, "")
	cmd.Flags().BoolVar(&precompress, "precompress", true, "")

	opts := packager.DefaultOptions("/proj")
	original := opts

	// Nothing set: options unchanged.
	applyFlagOverrides(cmd, &opts)
	assert.Equal(t, original, opts)

	require.NoError(t, cmd.Flags().Set("out", "dist"))
	require.NoError(t, cmd.Flags().Set("external", "pino,sharp"))
	require.NoError(t, cmd.Flags().Set("precompress", "false"))
	applyFlagOverrides(cmd, &opts)

	assert.Equal(t, filepath.Join("/proj", "dist"), opts.OutDir)
	assert.Equal(t, []string{"pino", "sharp"}, opts.External)
	assert.False(t, opts.Precompress)
	assert.False(t, opts.BundleAll, "untouched flag stays at config value")
}

func TestWatchRootsSkipsMissingAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	serverDir := filepath.Join(dir, "server")
	clientDir := filepath.Join(dir, "client")
	require.NoError(t, os.MkdirAll(serverDir, 0o755))
	require.NoError(t, os.MkdirAll(clientDir, 0o755))

	opts := packager.Options{
		ServerEntry:     filepath.Join(serverDir, "index.js"),
		GlueEntry:       filepath.Join(serverDir, "glue.js"), // same dir
		ClientAssetsDir: clientDir,
		PrerenderedDir:  filepath.Join(dir, "prerendered"), // does not exist
	}

	roots := watchRoots(opts)
	assert.ElementsMatch(t, []string{serverDir, clientDir}, roots)
}

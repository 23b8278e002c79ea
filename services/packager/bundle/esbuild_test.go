// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputsFromMetafile(t *testing.T) {
	metafile := `{
		"inputs": {"src/index.js": {"bytes": 10}},
		"outputs": {
			"build/server/index.js": {"bytes": 120, "entryPoint": "src/index.js"},
			"build/server/index.js.map": {"bytes": 80},
			"build/server/chunks/dep-ABCD1234.js": {"bytes": 40}
		}
	}`

	files, err := outputsFromMetafile(metafile)
	require.NoError(t, err)
	require.Len(t, files, 3)

	// Absolute, sorted, and covering maps and chunks as well as entries.
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f), "path %s must be absolute", f)
	}
	assert.IsIncreasing(t, files)
	assert.Contains(t, files[2], filepath.Join("server", "index.js.map"))
}

func TestOutputsFromMetafile_Empty(t *testing.T) {
	files, err := outputsFromMetafile(`{"inputs": {}, "outputs": {}}`)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOutputsFromMetafile_Malformed(t *testing.T) {
	_, err := outputsFromMetafile(`not json`)
	assert.ErrorContains(t, err, "parse metafile")
}

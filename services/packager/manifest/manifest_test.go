// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"name": "demo-app",
		"version": "2.1.0",
		"type": "module",
		"dependencies": {"cookie": "^0.6.0", "devalue": "^5.0.0"},
		"devDependencies": {"@opentelemetry/api": "^1.9.0"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo-app", m.Name)
	assert.Equal(t, "2.1.0", m.Version)
	assert.Equal(t, "module", m.Type)
	assert.Equal(t, []string{"cookie", "devalue"}, m.ProductionDeps())
	assert.True(t, m.References("@opentelemetry/api"))
	assert.True(t, m.References("cookie"))
	assert.False(t, m.References("express"))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"name": `))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParse_EmptyManifest(t *testing.T) {
	m, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, m.Name)
	assert.NotNil(t, m.Dependencies)
	assert.NotNil(t, m.DevDependencies)
	assert.Empty(t, m.ProductionDeps())
}

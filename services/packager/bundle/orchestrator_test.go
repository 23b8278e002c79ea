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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/stevedore/services/packager/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBundler records passes and can be told to fail a named pass.
type fakeBundler struct {
	passes   []Unit
	failPass string
}

func (f *fakeBundler) Bundle(_ context.Context, u Unit) (*Result, error) {
	f.passes = append(f.passes, u)
	if u.Name == f.failPass {
		return nil, errors.New("synthetic failure")
	}
	// Simulate the write so ordering contracts are observable on disk.
	if err := os.MkdirAll(u.OutDir, 0o755); err != nil {
		return nil, err
	}
	res := &Result{EntryPoints: map[string]string{}}
	for name := range u.Entries {
		path := filepath.Join(u.OutDir, name+".js")
		if err := os.WriteFile(path, []byte("export {}\n"), 0o644); err != nil {
			return nil, err
		}
		res.EntryPoints[name] = path
		res.Files = append(res.Files, path)
	}
	return res, nil
}

func testRules(t *testing.T) *classify.RuleSet {
	t.Helper()
	set, err := classify.Compile(classify.Config{User: classify.ListRule{"cookie"}})
	require.NoError(t, err)
	return set
}

func testInputs(t *testing.T) Inputs {
	t.Helper()
	return Inputs{
		ServerEntry:   "gen/index.js",
		ManifestEntry: "gen/manifest.js",
		GlueEntry:     "gen/glue.js",
		StageDir:      filepath.Join(t.TempDir(), "stage"),
		Rules:         testRules(t),
	}
}

func TestOrchestrator_PassOrdering(t *testing.T) {
	fb := &fakeBundler{}
	o := NewOrchestrator(fb, nil)

	in := testInputs(t)
	art, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, fb.passes, 2)
	assert.Equal(t, "application", fb.passes[0].Name)
	assert.Equal(t, "runtime", fb.passes[1].Name)
	assert.Equal(t, filepath.Join(in.StageDir, "server"), art.ServerDir)
	assert.FileExists(t, art.ServerEntry)
	assert.FileExists(t, art.GlueEntry)
}

func TestOrchestrator_Pass2RulesAreSuperset(t *testing.T) {
	fb := &fakeBundler{}
	o := NewOrchestrator(fb, nil)

	in := testInputs(t)
	art, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, art.GlueRules.ContainsAll(in.Rules))
	assert.Greater(t, art.GlueRules.Len(), in.Rules.Len())
	assert.True(t, art.GlueRules.Matches(filepath.Join(art.ServerDir, "index.js")),
		"pass 2 must treat pass 1 output as external")
	assert.False(t, in.Rules.Matches(filepath.Join(art.ServerDir, "index.js")))
}

func TestOrchestrator_InstrumentationEntryIncluded(t *testing.T) {
	fb := &fakeBundler{}
	o := NewOrchestrator(fb, nil)

	in := testInputs(t)
	in.InstrumentationEntry = "gen/instrumentation.js"
	_, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, fb.passes, 2)
	assert.Contains(t, fb.passes[0].Entries, "instrumentation")
	assert.NotContains(t, fb.passes[1].Entries, "instrumentation")
}

func TestOrchestrator_AdapterDepsDirOnlyInPass2(t *testing.T) {
	fb := &fakeBundler{}
	o := NewOrchestrator(fb, nil)

	in := testInputs(t)
	in.AdapterDepsDir = "/opt/stevedore/node_modules"
	_, err := o.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Empty(t, fb.passes[0].NodePaths)
	assert.Equal(t, []string{"/opt/stevedore/node_modules"}, fb.passes[1].NodePaths)
}

func TestOrchestrator_FailureRemovesStage(t *testing.T) {
	tests := []struct {
		name       string
		failPass   string
		wantPasses int
	}{
		{name: "pass 1 fails", failPass: "application", wantPasses: 1},
		{name: "pass 2 fails", failPass: "runtime", wantPasses: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBundler{failPass: tt.failPass}
			o := NewOrchestrator(fb, nil)

			in := testInputs(t)
			_, err := o.Run(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBundling)

			var pe *PassError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.failPass, pe.Pass)
			assert.Len(t, fb.passes, tt.wantPasses)
			assert.NoDirExists(t, in.StageDir, "staging must be removed on failure")
		})
	}
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	fb := &fakeBundler{}
	o := NewOrchestrator(fb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, testInputs(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fb.passes)
}

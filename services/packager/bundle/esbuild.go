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
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// EsbuildBundler is the production Bundler, driving the esbuild API.
//
// Externalization is decided by the compiled rule set through an OnResolve
// plugin rather than esbuild's own external syntax, so the matcher
// abstraction stays the single source of truth for embed-vs-external.
type EsbuildBundler struct{}

// NewEsbuildBundler returns the production bundler.
func NewEsbuildBundler() *EsbuildBundler { return &EsbuildBundler{} }

// Bundle runs one esbuild build for the unit.
//
// Output is a standard module graph with external source maps and stable
// content-addressed chunk names; identifiers are left unminified so stack
// traces in production remain readable.
func (b *EsbuildBundler) Bundle(ctx context.Context, u Unit) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entryNames := make([]string, 0, len(u.Entries))
	for name := range u.Entries {
		entryNames = append(entryNames, name)
	}
	sort.Strings(entryNames)

	entries := make([]api.EntryPoint, 0, len(entryNames))
	for _, name := range entryNames {
		entries = append(entries, api.EntryPoint{
			InputPath:  u.Entries[name],
			OutputPath: name,
		})
	}

	format := api.FormatESModule
	if u.Format == FormatCommonJS {
		format = api.FormatCommonJS
	}

	result := api.Build(api.BuildOptions{
		EntryPointsAdvanced: entries,
		Outdir:              u.OutDir,
		Bundle:              true,
		Write:               true,
		Platform:            api.PlatformNode,
		Format:              format,
		Sourcemap:           api.SourceMapLinked,
		ChunkNames:          "chunks/[name]-[hash]",
		NodePaths:           u.NodePaths,
		LogLevel:            api.LogLevelSilent,
		Metafile:            true,
		Plugins:             []api.Plugin{externalPlugin(u.Rules, u.OutDir)},
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("esbuild: %s", formatMessages(result.Errors))
	}

	// With Write enabled esbuild leaves OutputFiles empty; the metafile is
	// the only record of what landed on disk.
	files, err := outputsFromMetafile(result.Metafile)
	if err != nil {
		return nil, fmt.Errorf("esbuild: %w", err)
	}

	out := &Result{EntryPoints: map[string]string{}, Files: files}
	for _, name := range entryNames {
		out.EntryPoints[name] = filepath.Join(u.OutDir, name+".js")
	}
	return out, nil
}

// outputsFromMetafile lists the written output paths recorded in an esbuild
// metafile. Paths come back absolute and sorted.
func outputsFromMetafile(metafile string) ([]string, error) {
	var meta struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(metafile), &meta); err != nil {
		return nil, fmt.Errorf("parse metafile: %w", err)
	}
	files := make([]string, 0, len(meta.Outputs))
	for path := range meta.Outputs {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		files = append(files, abs)
	}
	sort.Strings(files)
	return files, nil
}

// externalPlugin consults the compiled rule set for every resolution.
//
// Bare specifiers are offered to the rule set as written. Relative imports
// are resolved against the importer's directory first, so a path-prefix rule
// covering a previous pass's output directory takes effect regardless of how
// the glue code spells the import.
func externalPlugin(rules ExternalPolicy, outDir string) api.Plugin {
	return api.Plugin{
		Name: "stevedore-externals",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint {
					return api.OnResolveResult{}, nil
				}
				ref := args.Path
				if strings.HasPrefix(ref, ".") && args.ResolveDir != "" {
					ref = filepath.Join(args.ResolveDir, ref)
				}
				if rules.Matches(ref) {
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				}
				return api.OnResolveResult{}, nil
			})
		},
	}
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d: %s", m.Location.File, m.Location.Line, m.Text))
			continue
		}
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "; ")
}

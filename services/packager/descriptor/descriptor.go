// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package descriptor emits the deployable unit's package descriptor.
//
// The descriptor is a package.json a standard package manager can install
// with no further edits. Its dependency map is the install-time contract:
// every library the generated runtime imports at the top level must be
// resolvable from the descriptor alone, whether or not the source project
// ever declared it.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/stevedore/services/packager/manifest"
	"golang.org/x/mod/semver"
)

// Defaults used when the source project's manifest lacks name or version.
const (
	DefaultName    = "stevedore-app"
	DefaultVersion = "0.0.0"
)

// FileName of the emitted descriptor.
const FileName = "package.json"

// ErrBadPin is returned when a pinned library version is not valid semver.
// Pins are compiled into the binary, so this only fires on a bad edit here.
var ErrBadPin = errors.New("invalid pinned version")

// runtimeSupport pins the libraries the generated runtime glue imports
// directly. These are merged into every descriptor, overriding whatever
// range the source project declared.
var runtimeSupport = map[string]string{
	"polka":              "1.0.0-next.28",
	"sirv":               "3.0.0",
	"source-map-support": "0.5.21",
}

// observability pins the optional observability libraries. Merged only when
// the source project already references the observability API.
var observability = map[string]string{
	"@opentelemetry/api":      "1.9.0",
	"@opentelemetry/sdk-node": "0.203.0",
	"@opentelemetry/auto-instrumentations-node": "0.62.0",
}

// observabilityGate is the package whose presence in the project manifest
// opts the descriptor into the observability pins.
const observabilityGate = "@opentelemetry/api"

// RuntimeSupportNames returns the sorted names of the pinned runtime-support
// libraries. The classifier folds these into every rule set.
func RuntimeSupportNames() []string {
	return sortedKeys(runtimeSupport)
}

// Descriptor is the emitted package.json document.
type Descriptor struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Type         string            `json:"type"`
	Main         string            `json:"main"`
	Dependencies map[string]string `json:"dependencies"`
}

// Build assembles the descriptor for a deployable unit.
//
// The dependency map merges, later layers overriding earlier ones:
//
//  1. the source project's declared production dependencies,
//  2. pinned runtime-support libraries,
//  3. pinned observability libraries, only if the project references the
//     observability API itself.
func Build(m *manifest.Manifest, entryPath string) (*Descriptor, error) {
	if err := validatePins(); err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:         m.Name,
		Version:      m.Version,
		Type:         "module",
		Main:         entryPath,
		Dependencies: map[string]string{},
	}
	if d.Name == "" {
		d.Name = DefaultName
	}
	if d.Version == "" {
		d.Version = DefaultVersion
	}
	if m.Type == "commonjs" {
		d.Type = "commonjs"
	}

	for name, rng := range m.Dependencies {
		d.Dependencies[name] = rng
	}
	for name, pin := range runtimeSupport {
		d.Dependencies[name] = pin
	}
	if m.References(observabilityGate) {
		for name, pin := range observability {
			d.Dependencies[name] = pin
		}
	}
	return d, nil
}

// Write emits the descriptor into the given output directory.
func Write(d *Descriptor, outDir string) error {
	data, err := json.MarshalIndent(d, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(outDir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// validatePins guards the compiled-in pin tables.
func validatePins() error {
	for _, table := range []map[string]string{runtimeSupport, observability} {
		for name, pin := range table {
			if !semver.IsValid("v" + pin) {
				return fmt.Errorf("%w: %s@%s", ErrBadPin, name, pin)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

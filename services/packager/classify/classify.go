// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify decides which dependencies are embedded in the bundled
// artifact and which remain external, to be installed separately on the
// deployment target.
//
// Raw inputs (the platform built-in list, required runtime-support libraries,
// the project's declared dependencies, and an optional user rule) are
// normalized once into a RuleSet of compiled matchers. Downstream code only
// ever consults compiled matchers; the polymorphic user configuration (list
// vs. function) never leaks past Compile.
//
// # Matching Semantics
//
// A name rule "foo" matches the reference "foo" and any nested subpath
// "foo/sub/path", optionally carrying the "node:" scheme prefix. It never
// matches "foobar". A trailing "/*" restricts a rule to subpaths only.
//
// # Invariant
//
// Every compiled RuleSet is a superset of the platform built-in module list.
package classify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/stevedore/services/packager/manifest"
)

// schemePrefix is the runtime scheme tolerated on module references.
const schemePrefix = "node:"

// =============================================================================
// User Rules
// =============================================================================

// UserRule is the normalized form of the user's externalization
// configuration: either an explicit list or a function over the project
// manifest. Exactly one of the two concrete types is used.
type UserRule interface {
	resolve(m *manifest.Manifest) ([]string, error)
}

// ListRule externalizes an explicit list of package names or patterns.
type ListRule []string

func (r ListRule) resolve(*manifest.Manifest) ([]string, error) {
	return []string(r), nil
}

// FuncRule computes the externalized names from the project manifest.
//
// A nil result with a nil error is treated as an explicit empty list; an
// error aborts the build with ErrUserRule.
type FuncRule func(m *manifest.Manifest) ([]string, error)

func (r FuncRule) resolve(m *manifest.Manifest) ([]string, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: rule function is nil", ErrUserRule)
	}
	names, err := r(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserRule, err)
	}
	return names, nil
}

// =============================================================================
// Matchers
// =============================================================================

// Matcher reports whether a module reference should stay external.
type Matcher interface {
	// Matches tests a raw module reference as it appears in source.
	Matches(ref string) bool

	// Key is the canonical dedup key for the matcher.
	Key() string
}

// nameMatcher accepts an exact package name or that name plus any nested
// subpath, with an optional runtime-scheme prefix.
type nameMatcher struct {
	name        string
	subpathOnly bool
}

func (m nameMatcher) Matches(ref string) bool {
	ref = strings.TrimPrefix(ref, schemePrefix)
	if !m.subpathOnly && ref == m.name {
		return true
	}
	return strings.HasPrefix(ref, m.name+"/")
}

func (m nameMatcher) Key() string {
	if m.subpathOnly {
		return m.name + "/*"
	}
	return m.name
}

// pathPrefixMatcher accepts any reference that resolves under a directory.
// Used by the second bundling pass to keep the glue layer from re-embedding
// the already-bundled server output.
type pathPrefixMatcher struct {
	dir string
}

func (m pathPrefixMatcher) Matches(ref string) bool {
	ref = filepath.ToSlash(filepath.Clean(ref))
	return ref == m.dir || strings.HasPrefix(ref, m.dir+"/")
}

func (m pathPrefixMatcher) Key() string { return "dir:" + m.dir }

// compileName turns one raw pattern into a matcher.
//
// Accepted forms: "name", "@scope/name", and either with a trailing "/*".
// Anything else (empty, embedded wildcard, absolute path) is malformed.
func compileName(pattern string) (Matcher, error) {
	raw := pattern
	pattern = strings.TrimSpace(pattern)
	pattern = strings.TrimPrefix(pattern, schemePrefix)

	subpathOnly := false
	if strings.HasSuffix(pattern, "/*") {
		subpathOnly = true
		pattern = strings.TrimSuffix(pattern, "/*")
	}

	switch {
	case pattern == "":
		return nil, &RuleError{Pattern: raw, Reason: "empty package name"}
	case strings.Contains(pattern, "*"):
		return nil, &RuleError{Pattern: raw, Reason: "wildcard only allowed as trailing /*"}
	case strings.HasPrefix(pattern, "/") || strings.HasSuffix(pattern, "/"):
		return nil, &RuleError{Pattern: raw, Reason: "leading or trailing slash"}
	case strings.ContainsAny(pattern, " \t"):
		return nil, &RuleError{Pattern: raw, Reason: "whitespace in package name"}
	}
	return nameMatcher{name: pattern, subpathOnly: subpathOnly}, nil
}

// =============================================================================
// RuleSet
// =============================================================================

// RuleSet is a deduplicated set of compiled matchers. It is immutable after
// Compile; derived sets are produced by WithPathPrefix.
type RuleSet struct {
	matchers map[string]Matcher
}

// Matches reports whether the reference classifies as external.
func (s *RuleSet) Matches(ref string) bool {
	for _, m := range s.matchers {
		if m.Matches(ref) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct compiled rules.
func (s *RuleSet) Len() int { return len(s.matchers) }

// Keys returns the sorted canonical keys of all rules.
func (s *RuleSet) Keys() []string {
	keys := make([]string, 0, len(s.matchers))
	for k := range s.matchers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContainsAll reports whether every rule in other is present in s.
func (s *RuleSet) ContainsAll(other *RuleSet) bool {
	for k := range other.matchers {
		if _, ok := s.matchers[k]; !ok {
			return false
		}
	}
	return true
}

// WithPathPrefix returns a new RuleSet containing every rule in s plus a
// matcher treating the given directory as external.
func (s *RuleSet) WithPathPrefix(dir string) *RuleSet {
	out := &RuleSet{matchers: make(map[string]Matcher, len(s.matchers)+1)}
	for k, m := range s.matchers {
		out.matchers[k] = m
	}
	pm := pathPrefixMatcher{dir: filepath.ToSlash(filepath.Clean(dir))}
	out.matchers[pm.Key()] = pm
	return out
}

func (s *RuleSet) add(m Matcher) { s.matchers[m.Key()] = m }

// =============================================================================
// Compilation
// =============================================================================

// Config carries the raw classification inputs.
type Config struct {
	// RuntimeSupport lists the runtime-support libraries the generated unit
	// needs installed on the target. Ignored when BundleAll is set.
	RuntimeSupport []string

	// Manifest is the source project's manifest. Required when User is a
	// FuncRule or when User is nil (declared deps are the fallback).
	Manifest *manifest.Manifest

	// User is the optional user externalization rule. Nil means "use the
	// project's declared production dependencies".
	User UserRule

	// BundleAll embeds everything except platform built-ins.
	BundleAll bool
}

// Compile normalizes the configuration into a flat matcher set.
//
// Policy: with BundleAll the result is exactly the built-in list. Otherwise
// it is built-ins, runtime-support libraries, and either the user rule's
// result or the project's declared production dependencies.
//
// A malformed pattern or a failing FuncRule aborts with an error wrapping
// ErrMalformedRule or ErrUserRule respectively.
func Compile(cfg Config) (*RuleSet, error) {
	set := &RuleSet{matchers: map[string]Matcher{}}
	for _, name := range nodeBuiltins {
		set.add(nameMatcher{name: name})
	}
	if cfg.BundleAll {
		return set, nil
	}

	for _, name := range cfg.RuntimeSupport {
		m, err := compileName(name)
		if err != nil {
			return nil, fmt.Errorf("runtime-support list: %w", err)
		}
		set.add(m)
	}

	var extra []string
	if cfg.User != nil {
		names, err := cfg.User.resolve(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		extra = names
	} else if cfg.Manifest != nil {
		extra = cfg.Manifest.ProductionDeps()
	}

	for _, name := range extra {
		m, err := compileName(name)
		if err != nil {
			return nil, err
		}
		set.add(m)
	}
	return set, nil
}

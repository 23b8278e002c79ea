// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

// Builtins returns the fixed list of platform built-in module names.
//
// Every compiled rule set contains these regardless of configuration;
// built-ins are provided by the target runtime and can never be embedded.
// The returned slice is a fresh copy.
func Builtins() []string {
	out := make([]string, len(nodeBuiltins))
	copy(out, nodeBuiltins)
	return out
}

// nodeBuiltins mirrors the Node.js built-in module list. Entries are bare
// names; the matcher tolerates the "node:" scheme prefix on references.
var nodeBuiltins = []string{
	"assert",
	"async_hooks",
	"buffer",
	"child_process",
	"cluster",
	"console",
	"constants",
	"crypto",
	"dgram",
	"diagnostics_channel",
	"dns",
	"domain",
	"events",
	"fs",
	"http",
	"http2",
	"https",
	"inspector",
	"module",
	"net",
	"os",
	"path",
	"perf_hooks",
	"process",
	"punycode",
	"querystring",
	"readline",
	"repl",
	"stream",
	"string_decoder",
	"timers",
	"tls",
	"trace_events",
	"tty",
	"url",
	"util",
	"v8",
	"vm",
	"wasi",
	"worker_threads",
	"zlib",
}

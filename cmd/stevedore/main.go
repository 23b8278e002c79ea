// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stevedore packages a compiled web application into a
// self-contained deployable unit.
//
// Usage:
//
//	stevedore build [project-root]
//	stevedore build --bundle-all
//	stevedore build --watch
//
// The build command reads the project's package.json, bundles the compiled
// server output in two passes, writes the package descriptor, and stages
// client and prerendered assets. Per-project defaults can be overridden
// with a stevedore.yaml file at the project root.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

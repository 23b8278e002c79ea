// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Root is one static asset root.
type Root struct {
	// Dir is the filesystem directory backing the root.
	Dir string

	// Immutable marks content-addressed client assets, which get long-lived
	// cache headers. Prerendered pages leave this false and are revalidated.
	Immutable bool
}

// immutableCacheControl is one year, the conventional ceiling.
const immutableCacheControl = "public, max-age=31536000, immutable"

// Static serves files from the given roots in order; the first root with a
// matching file wins. GET and HEAD only; everything else falls through to
// the application.
//
// Precompressed .br/.gz variants written at build time are served by
// Accept-Encoding negotiation, brotli preferred.
func Static(roots ...Root) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}
		rel, ok := normalize(c.Request.URL.Path)
		if !ok {
			c.Next()
			return
		}
		for _, root := range roots {
			if root.Dir == "" {
				continue
			}
			if file, found := resolve(root.Dir, rel); found {
				serveFile(c, root, file)
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// normalize cleans the URL path and refuses traversal.
func normalize(urlPath string) (string, bool) {
	cleaned := path.Clean("/" + urlPath)
	if strings.Contains(cleaned, "..") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), true
}

// resolve maps a request path to a file under root, trying the prerendered
// page conventions for extensionless paths.
func resolve(root, rel string) (string, bool) {
	candidates := []string{rel}
	if rel == "" {
		candidates = []string{"index.html"}
	} else if path.Ext(rel) == "" {
		candidates = append(candidates, rel+".html", path.Join(rel, "index.html"))
	}
	for _, cand := range candidates {
		full := filepath.Join(root, filepath.FromSlash(cand))
		info, err := os.Stat(full)
		if err == nil && !info.IsDir() {
			return full, true
		}
	}
	return "", false
}

func serveFile(c *gin.Context, root Root, file string) {
	h := c.Writer.Header()
	if root.Immutable {
		h.Set("Cache-Control", immutableCacheControl)
	} else {
		h.Set("Cache-Control", "no-cache")
	}

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Negotiate a precompressed variant.
	accept := c.GetHeader("Accept-Encoding")
	for _, enc := range []struct{ name, ext string }{{"br", ".br"}, {"gzip", ".gz"}} {
		if !strings.Contains(accept, enc.name) {
			continue
		}
		variant := file + enc.ext
		info, err := os.Stat(variant)
		if err != nil {
			continue
		}
		h.Set("Content-Encoding", enc.name)
		h.Add("Vary", "Accept-Encoding")
		h.Set("Content-Type", contentType)
		h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		c.File(variant)
		return
	}

	h.Set("Content-Type", contentType)
	c.File(file)
}

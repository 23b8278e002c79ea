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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressEngine(minSize int) *gin.Engine {
	engine := gin.New()
	engine.Use(Compression(6, minSize))
	engine.GET("/big.txt", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain")
		c.String(http.StatusOK, strings.Repeat("compressible ", 200))
	})
	engine.GET("/small.txt", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain")
		c.String(http.StatusOK, "tiny")
	})
	engine.GET("/photo", func(c *gin.Context) {
		c.Header("Content-Type", "image/png")
		c.String(http.StatusOK, strings.Repeat("binary", 500))
	})
	engine.GET("/teapot", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain")
		c.String(http.StatusTeapot, strings.Repeat("short and stout ", 200))
	})
	return engine
}

func get(t *testing.T, engine *gin.Engine, path string, acceptGzip bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestCompression_LargeTextIsCompressed(t *testing.T) {
	w := get(t, compressEngine(512), "/big.txt", true)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("compressible ", 200), string(plain))
}

func TestCompression_StatusCodePreserved(t *testing.T) {
	w := get(t, compressEngine(512), "/teapot", true)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}

func TestCompression_BelowThresholdPassesThrough(t *testing.T) {
	w := get(t, compressEngine(512), "/small.txt", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "tiny", w.Body.String())
}

func TestCompression_MediaTypesSkipped(t *testing.T) {
	w := get(t, compressEngine(512), "/photo", true)
	assert.Empty(t, w.Header().Get("Content-Encoding"),
		"already-compressed media types must pass through")
}

func TestCompression_NoAcceptEncoding(t *testing.T) {
	w := get(t, compressEngine(512), "/big.txt", false)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, strings.Repeat("compressible ", 200), w.Body.String())
}

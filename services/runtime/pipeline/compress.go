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
	"bytes"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// skippedContentPrefixes are media types that carry their own compression.
var skippedContentPrefixes = []string{"image/", "video/", "audio/", "font/"}

// Compression compresses responses of at least minSize bytes at the given
// gzip level. The decision is deferred until the response either exceeds
// minSize or is flushed, because the outgoing Content-Type is only reliable
// once the handler has started writing.
func Compression(level, minSize int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		cw := &compressWriter{ResponseWriter: c.Writer, level: level, minSize: minSize}
		c.Writer = cw
		c.Next()
		cw.finish()
	}
}

// compressWriter buffers the response until it can decide whether to
// compress, then streams through a gzip writer or passes bytes unchanged.
type compressWriter struct {
	gin.ResponseWriter
	level   int
	minSize int

	status  int
	decided bool
	gz      *gzip.Writer
	buf     bytes.Buffer
}

func (w *compressWriter) WriteHeader(code int) {
	// Recorded, not forwarded: headers stay open until the decision.
	w.status = code
}

func (w *compressWriter) Write(p []byte) (int, error) {
	if w.decided {
		return w.sink(p)
	}
	w.buf.Write(p)
	if w.buf.Len() >= w.minSize {
		if err := w.decide(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *compressWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// WriteHeaderNow commits headers immediately, as gin does for bodyless
// responses.
func (w *compressWriter) WriteHeaderNow() {
	if !w.decided {
		_ = w.decide()
	}
}

// Flush forces the compression decision; a streaming handler that flushes
// early commits the response to whatever the headers say at that point.
func (w *compressWriter) Flush() {
	if !w.decided {
		if err := w.decide(); err != nil {
			return
		}
	}
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

// decide commits headers and the compression choice, then drains the buffer.
func (w *compressWriter) decide() error {
	w.decided = true
	h := w.ResponseWriter.Header()

	compress := w.buf.Len() >= w.minSize &&
		h.Get("Content-Encoding") == "" &&
		!skippedContentType(h.Get("Content-Type"))
	if compress {
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		gz, err := gzip.NewWriterLevel(w.ResponseWriter, w.level)
		if err != nil {
			return err
		}
		w.gz = gz
	}
	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
	buffered := w.buf.Bytes()
	w.buf = bytes.Buffer{}
	if len(buffered) > 0 {
		if _, err := w.sink(buffered); err != nil {
			return err
		}
	}
	return nil
}

func (w *compressWriter) sink(p []byte) (int, error) {
	if w.gz != nil {
		return w.gz.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

// finish commits an undecided (small) response and closes the gzip stream.
func (w *compressWriter) finish() {
	if !w.decided {
		_ = w.decide()
	}
	if w.gz != nil {
		_ = w.gz.Close()
	}
}

func skippedContentType(ct string) bool {
	for _, prefix := range skippedContentPrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

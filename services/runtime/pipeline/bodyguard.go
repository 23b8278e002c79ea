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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// ErrBodyTooLarge is returned by the capped reader the moment the
// accumulated size exceeds the configured limit.
var ErrBodyTooLarge = errors.New("request body exceeds configured limit")

// guardedContentTypes are the parseable content types the guard engages for.
var guardedContentTypes = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
}

// BodyGuard enforces the body size limit and validates parseability for
// mutating requests carrying JSON or form bodies.
//
// The body is streamed through a capped reader that stops consuming as soon
// as the limit is exceeded; the full payload is never read in that case.
// Oversized requests are answered with 413 and Connection: close — the
// unread remainder would desynchronize a kept-alive connection, so the
// exchange's connection is not reused. A complete body that fails to parse
// is answered with 400. Valid bodies are re-attached for the downstream
// application handler.
func BodyGuard(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || !mutating(c.Request.Method) || !guardedContentTypes[c.ContentType()] {
			c.Next()
			return
		}

		body, err := readCapped(c.Request.Body, limit)
		if errors.Is(err, ErrBodyTooLarge) {
			c.Header("Connection", "close")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":       "request body too large",
				"limit_bytes": limit,
			})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		if !parses(c.ContentType(), body) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request.ContentLength = int64(len(body))
		c.Next()
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// readCapped consumes at most limit+1 bytes from r. Reading that extra byte
// is how an over-limit stream is detected without draining it.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func parses(contentType string, body []byte) bool {
	switch contentType {
	case "application/json":
		return json.Valid(body)
	case "application/x-www-form-urlencoded":
		_, err := url.ParseQuery(string(body))
		return err == nil
	}
	return true
}

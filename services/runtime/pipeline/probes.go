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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newRequestID() string { return uuid.New().String() }

// Probe endpoint paths, fixed by contract with the orchestrating system.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
)

// Probes intercepts the two probe paths ahead of everything else in the
// chain. Probe answers depend only on the shutdown flag, never on any
// downstream state.
func Probes(status StatusReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case LivenessPath:
			if status.Draining() {
				c.String(http.StatusServiceUnavailable, "shutting down")
			} else {
				c.String(http.StatusOK, "ok")
			}
			c.Abort()
		case ReadinessPath:
			body := gin.H{"status": "ready", "time": time.Now().UTC().Format(time.RFC3339)}
			code := http.StatusOK
			if status.Draining() {
				body["status"] = "draining"
				code = http.StatusServiceUnavailable
			}
			c.JSON(code, body)
			c.Abort()
		default:
			c.Next()
		}
	}
}

// RequestID tags every request with a correlation id, honoring one supplied
// by a trusted front proxy.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

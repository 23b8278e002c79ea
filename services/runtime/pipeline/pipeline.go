// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline assembles the generated runtime's request handling chain.
//
// The order is fixed and the first match short-circuits:
//
//	probes -> compression -> body guard -> static assets -> application proxy
//
// plus the optional upgrade channel on its configured path. Handlers are
// stateless across requests; the only lifecycle state they touch is the
// coordinator's shutdown flag, read-only, to answer probes.
package pipeline

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/stevedore/services/runtime/config"
	"github.com/AleutianAI/stevedore/services/runtime/telemetry"
	"github.com/AleutianAI/stevedore/services/runtime/upgrade"
)

// StatusReader exposes the one bit of lifecycle state the pipeline may read.
type StatusReader interface {
	// Draining reports whether shutdown has started.
	Draining() bool
}

// New assembles the engine.
//
// The hub may be nil when the upgrade channel is disabled. Returns an error
// only when the application proxy target cannot be constructed.
func New(cfg config.Server, status StatusReader, hub *upgrade.Hub) (*gin.Engine, error) {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	if cfg.Observability.Enabled {
		engine.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	}

	engine.Use(Probes(status))
	if cfg.Observability.Enabled {
		engine.GET("/metrics", metricsEndpoint())
	}
	if cfg.Compress {
		engine.Use(Compression(cfg.CompressLevel, cfg.CompressMin))
	}
	engine.Use(BodyGuard(cfg.BodyLimit))
	engine.Use(Static(
		Root{Dir: cfg.ClientDir, Immutable: true},
		Root{Dir: cfg.PrerenderedDir},
	))

	if cfg.Upgrade {
		if hub == nil {
			return nil, fmt.Errorf("upgrade channel enabled but no hub provided")
		}
		engine.GET(cfg.UpgradePath, func(c *gin.Context) {
			hub.Serve(c.Writer, c.Request)
		})
	}

	proxy, err := NewProxy(cfg.UpstreamAddr, cfg.TrustProxy)
	if err != nil {
		return nil, fmt.Errorf("build application proxy: %w", err)
	}
	engine.NoRoute(gin.WrapH(proxy))
	return engine, nil
}

// metricsEndpoint looks the scrape handler up per request. The handler only
// exists once telemetry initialization has run, which happens after the
// engine is built; resolving it at assembly time would leave the route
// permanently empty.
func metricsEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		mh := telemetry.MetricsHandler()
		if mh == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		mh.ServeHTTP(c.Writer, c.Request)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stevedored serves a packaged web application.
//
// It fronts the bundled application server with a fixed request pipeline:
// health probes, response compression, a request body guard, static asset
// serving, and a reverse proxy to the application upstream, plus an
// optional WebSocket upgrade channel. Configuration comes entirely from
// environment variables; see services/runtime/config.
//
// Usage:
//
//	UPSTREAM_ADDR=127.0.0.1:3000 stevedored
//	PORT=8080 COMPRESS=true BODY_SIZE_LIMIT=1048576 stevedored
//
// The process exit code is 0 after a clean drain and 1 after a fault or a
// failed shutdown.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/stevedore/pkg/logging"
	"github.com/AleutianAI/stevedore/services/runtime/config"
	"github.com/AleutianAI/stevedore/services/runtime/lifecycle"
	"github.com/AleutianAI/stevedore/services/runtime/pipeline"
	"github.com/AleutianAI/stevedore/services/runtime/upgrade"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "stevedored",
		JSON:    true,
	})
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		fmt.Fprintf(os.Stderr, "stevedored: %v\n", err)
		return 1
	}

	gin.SetMode(gin.ReleaseMode)

	var hub *upgrade.Hub
	var closer lifecycle.ConnCloser
	if cfg.Upgrade {
		hub = upgrade.NewHub(nil, logger.Logger)
		closer = hub
	}

	// The pipeline reads drain state from the coordinator, so the
	// coordinator is built first and the handler installed after.
	coord := lifecycle.New(cfg, nil, closer, logger.Logger)
	engine, err := pipeline.New(cfg, coord, hub)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		return 1
	}
	coord.SetHandler(engine)

	return coord.Run(context.Background())
}

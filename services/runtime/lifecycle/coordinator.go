// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle owns the runtime's startup and shutdown state machine.
//
//	Starting -> Listening -> Draining -> Terminated
//
// The Coordinator exclusively owns the transport listener, the upgrade-channel
// hub, and the shutdown flag. Every termination signal and fault condition is
// funneled through one trigger channel into the state machine, so concurrent
// shutdown triggers cannot race: the first one starts the drain, every later
// one is a no-op.
//
// The drain sequence is strictly ordered: arm the hard deadline, stop
// accepting and wait out in-flight requests, close upgrade-channel
// connections (concurrently, joined), flush telemetry, disarm the deadline.
// The deadline timer is the only cancellation primitive; in-flight requests
// are never individually cancelled.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/AleutianAI/stevedore/services/runtime/config"
	"github.com/AleutianAI/stevedore/services/runtime/telemetry"
)

// State is the coordinator's lifecycle state.
type State int32

// Lifecycle states, in order.
const (
	StateStarting State = iota
	StateListening
	StateDraining
	StateTerminated
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// ConnCloser is the slice of the upgrade hub the coordinator drives during
// drain.
type ConnCloser interface {
	CloseAll(ctx context.Context) error
}

// trigger is one shutdown cause.
type trigger struct {
	reason string
	err    error
}

// Coordinator drives the runtime through its lifecycle.
type Coordinator struct {
	cfg     config.Server
	handler http.Handler
	hub     ConnCloser
	log     *slog.Logger

	// initTelemetry and forceExit are replaceable for tests. forceExit is
	// what the hard deadline does when the drain overruns.
	initTelemetry func(context.Context, config.Observability) (telemetry.ShutdownFunc, error)
	forceExit     func(code int)

	state    atomic.Int32
	draining atomic.Bool
	triggers chan trigger

	listener net.Listener
	server   *http.Server
}

// New builds a Coordinator. The hub may be nil when the upgrade channel is
// disabled; a nil logger falls back to slog.Default().
func New(cfg config.Server, handler http.Handler, hub ConnCloser, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:           cfg,
		handler:       handler,
		hub:           hub,
		log:           log,
		initTelemetry: telemetry.Init,
		forceExit:     func(code int) { os.Exit(code) },
		triggers:      make(chan trigger, 4),
	}
}

// SetHandler installs the request handler. The pipeline reads drain state
// from the Coordinator, so the Coordinator has to exist before the handler
// can be built; call this before Run.
func (c *Coordinator) SetHandler(handler http.Handler) { c.handler = handler }

// State reports the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Draining reports whether shutdown has started. This is the only lifecycle
// state the request pipeline may read.
func (c *Coordinator) Draining() bool { return c.draining.Load() }

// Fault funnels an uncaught fault into the state machine. The first fault
// (or signal) starts the drain; later ones are no-ops.
func (c *Coordinator) Fault(err error) {
	select {
	case c.triggers <- trigger{reason: "fault", err: err}:
	default:
	}
}

// Shutdown requests a graceful drain, exactly as a termination signal would.
func (c *Coordinator) Shutdown(reason string) {
	select {
	case c.triggers <- trigger{reason: reason}:
	default:
	}
}

// Run executes the full lifecycle and returns the process exit code.
func (c *Coordinator) Run(ctx context.Context) int {
	c.state.Store(int32(StateStarting))

	// Observability failures degrade to disabled-with-warning, never fatal.
	shutdownTelemetry, err := c.initTelemetry(ctx, c.cfg.Observability)
	if err != nil {
		c.log.Warn("observability disabled", "error", err)
		shutdownTelemetry = telemetry.NopShutdown
	}

	c.server = &http.Server{
		Handler:           limitRequestsPerConn(c.handler, c.cfg.MaxRequestsPerConn),
		IdleTimeout:       c.cfg.IdleTimeout,
		ReadHeaderTimeout: c.cfg.ReadHeaderTimeout,
		ConnContext:       connContext,
	}

	ln, err := net.Listen("tcp", c.cfg.Addr())
	if err != nil {
		// A bind failure is fatal: straight to Terminated, non-zero exit.
		c.log.Error("failed to bind listener", "addr", c.cfg.Addr(), "error", err)
		c.state.Store(int32(StateTerminated))
		return 1
	}
	c.listener = ln

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		select {
		case c.triggers <- trigger{reason: "signal:" + sig.String()}:
		default:
		}
	}()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Fault(err)
		}
	}()

	c.state.Store(int32(StateListening))
	c.log.Info("listening", "addr", ln.Addr().String())

	var cause trigger
	select {
	case cause = <-c.triggers:
	case <-ctx.Done():
		cause = trigger{reason: "context cancelled"}
	}
	return c.drain(cause, shutdownTelemetry)
}

// drain runs the ordered shutdown sequence exactly once.
func (c *Coordinator) drain(cause trigger, shutdownTelemetry telemetry.ShutdownFunc) int {
	c.draining.Store(true)
	c.state.Store(int32(StateDraining))
	c.log.Info("draining", "reason", cause.reason, "error", cause.err,
		"deadline", c.cfg.ShutdownDeadline)

	// Step 1: arm the hard deadline. If the remaining steps overrun it, the
	// process is force-terminated with a failure status.
	deadline := time.AfterFunc(c.cfg.ShutdownDeadline, func() {
		c.log.Error("shutdown deadline exceeded, forcing exit")
		c.forceExit(1)
	})
	defer deadline.Stop()

	failed := cause.err != nil

	// Step 2: stop accepting and wait for in-flight requests.
	if err := c.server.Shutdown(context.Background()); err != nil {
		c.log.Error("transport drain failed", "error", err)
		failed = true
	}

	// Step 3: close upgrade-channel connections; fan-out joined inside.
	if c.hub != nil {
		if err := c.hub.CloseAll(context.Background()); err != nil {
			c.log.Error("upgrade channel close failed", "error", err)
			failed = true
		}
	}

	// Step 4: flush and stop the observability subsystem.
	flushCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownDeadline)
	if err := shutdownTelemetry(flushCtx); err != nil {
		c.log.Error("telemetry flush failed", "error", err)
		failed = true
	}
	cancel()

	// Step 5: disarm the deadline and exit.
	deadline.Stop()
	c.state.Store(int32(StateTerminated))
	if failed {
		c.log.Error("shutdown completed with failures")
		return 1
	}
	c.log.Info("shutdown complete")
	return 0
}

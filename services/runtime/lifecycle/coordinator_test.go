// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stevedore/services/runtime/config"
)

// fakeHub counts CloseAll calls and can block until released.
type fakeHub struct {
	calls   atomic.Int32
	block   chan struct{}
	failure error
}

func (f *fakeHub) CloseAll(context.Context) error {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.failure
}

func testCoordinator(hub ConnCloser) *Coordinator {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ShutdownDeadline = 5 * time.Second
	c := New(cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), hub, nil)
	c.forceExit = func(int) {}
	return c
}

func waitForState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		5*time.Second, 5*time.Millisecond, "never reached state %s", want)
}

func TestCoordinator_CleanDrain(t *testing.T) {
	hub := &fakeHub{}
	c := testCoordinator(hub)

	exit := make(chan int, 1)
	go func() { exit <- c.Run(context.Background()) }()
	waitForState(t, c, StateListening)
	assert.False(t, c.Draining())

	c.Shutdown("test")

	select {
	case code := <-exit:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, StateTerminated, c.State())
	assert.True(t, c.Draining(), "shutdown flag stays set until process exit")
	assert.Equal(t, int32(1), hub.calls.Load())
}

func TestCoordinator_DoubleTriggerDrainsOnce(t *testing.T) {
	hub := &fakeHub{}
	c := testCoordinator(hub)

	exit := make(chan int, 1)
	go func() { exit <- c.Run(context.Background()) }()
	waitForState(t, c, StateListening)

	// Two termination triggers in quick succession.
	c.Shutdown("first")
	c.Shutdown("second")

	select {
	case code := <-exit:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, int32(1), hub.calls.Load(), "exactly one drain sequence must run")
}

func TestCoordinator_FaultDrainsWithFailureStatus(t *testing.T) {
	c := testCoordinator(&fakeHub{})

	exit := make(chan int, 1)
	go func() { exit <- c.Run(context.Background()) }()
	waitForState(t, c, StateListening)

	c.Fault(errors.New("unhandled"))

	select {
	case code := <-exit:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestCoordinator_DeadlineForcesExit(t *testing.T) {
	const deadline = 300 * time.Millisecond

	hub := &fakeHub{block: make(chan struct{}), failure: errors.New("stuck")}
	c := testCoordinator(hub)
	c.cfg.ShutdownDeadline = deadline

	var fired atomic.Int64
	armed := time.Now()
	c.forceExit = func(code int) {
		assert.Equal(t, 1, code)
		fired.Store(int64(time.Since(armed)))
		close(hub.block)
	}

	exit := make(chan int, 1)
	go func() { exit <- c.Run(context.Background()) }()
	waitForState(t, c, StateListening)
	armed = time.Now()
	c.Shutdown("test")

	select {
	case code := <-exit:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}

	elapsed := time.Duration(fired.Load())
	assert.GreaterOrEqual(t, elapsed, deadline, "force exit must not fire early")
	assert.Less(t, elapsed, deadline+time.Second, "force exit must fire near the deadline")
}

func TestCoordinator_BindFailureIsFatal(t *testing.T) {
	// Occupy a port, then ask the coordinator to bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	c := testCoordinator(&fakeHub{})
	c.cfg.Port = ln.Addr().(*net.TCPAddr).Port

	code := c.Run(context.Background())
	assert.Equal(t, 1, code)
	assert.Equal(t, StateTerminated, c.State())
}

func TestCoordinator_ContextCancelDrains(t *testing.T) {
	c := testCoordinator(&fakeHub{})

	ctx, cancel := context.WithCancel(context.Background())
	exit := make(chan int, 1)
	go func() { exit <- c.Run(ctx) }()
	waitForState(t, c, StateListening)

	cancel()
	select {
	case code := <-exit:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestCoordinator_ServesWhileListening(t *testing.T) {
	c := testCoordinator(&fakeHub{})

	exit := make(chan int, 1)
	go func() { exit <- c.Run(context.Background()) }()
	waitForState(t, c, StateListening)
	defer func() {
		c.Shutdown("test")
		<-exit
	}()

	resp, err := http.Get("http://" + c.listener.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

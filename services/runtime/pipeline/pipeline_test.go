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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stevedore/services/runtime/config"
	"github.com/AleutianAI/stevedore/services/runtime/telemetry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeStatus is a controllable StatusReader.
type fakeStatus struct{ draining bool }

func (f *fakeStatus) Draining() bool { return f.draining }

func testConfig() config.Server {
	cfg := config.Default()
	cfg.Compress = false
	cfg.Upgrade = false
	cfg.ClientDir = ""
	cfg.PrerenderedDir = ""
	return cfg
}

func TestNew_ProbesBeforeEverything(t *testing.T) {
	status := &fakeStatus{}
	engine, err := New(testConfig(), status, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, LivenessPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	status.draining = true
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, LivenessPath, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_ReadinessBody(t *testing.T) {
	engine, err := New(testConfig(), &fakeStatus{}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}

func TestNew_RequestIDAssigned(t *testing.T) {
	engine, err := New(testConfig(), &fakeStatus{}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, LivenessPath, nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, LivenessPath, nil)
	req.Header.Set("X-Request-Id", "edge-supplied")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "edge-supplied", w.Header().Get("X-Request-Id"))
}

func TestNew_UpgradeEnabledRequiresHub(t *testing.T) {
	cfg := testConfig()
	cfg.Upgrade = true
	_, err := New(cfg, &fakeStatus{}, nil)
	assert.Error(t, err)
}

func TestNew_MetricsServedAfterTelemetryInit(t *testing.T) {
	cfg := testConfig()
	cfg.Observability = config.Observability{
		Enabled:        true,
		ServiceName:    "stevedored",
		ServiceVersion: "test",
		Endpoint:       "127.0.0.1:4317",
		Protocol:       "grpc",
		SampleRate:     1,
	}

	// The engine is assembled before telemetry comes up, exactly as the
	// server does it.
	engine, err := New(cfg, &fakeStatus{}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "no scrape handler before init")

	shutdown, err := telemetry.Init(context.Background(), cfg.Observability)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdown(ctx) // exporter flush may fail without a collector
	}()

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

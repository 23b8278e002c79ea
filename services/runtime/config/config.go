// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config resolves the generated runtime's server configuration.
//
// Configuration is immutable: it is resolved exactly once at process start
// from build-time defaults plus environment overrides, validated, and then
// passed by value. Nothing re-reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is returned when the resolved configuration fails validation or
// an environment override cannot be parsed. Startup fails fast on it.
var ErrInvalid = errors.New("invalid server configuration")

// Server is the resolved runtime configuration.
type Server struct {
	// Host and Port are the bind address.
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`

	// UpstreamAddr is the embedded application server's address; unmatched
	// requests are proxied there.
	UpstreamAddr string `validate:"required,hostname_port"`

	// Compress enables response compression at Level for bodies of at
	// least MinSize bytes.
	Compress      bool
	CompressLevel int `validate:"min=1,max=9"`
	CompressMin   int `validate:"min=0"`

	// BodyLimit caps request body bytes for mutating requests. Zero
	// disables the guard.
	BodyLimit int64 `validate:"min=0"`

	// Upgrade enables the WebSocket upgrade channel on UpgradePath.
	Upgrade     bool
	UpgradePath string `validate:"required,startswith=/"`

	// TrustProxy controls whether inbound X-Forwarded-* headers are
	// honored or replaced.
	TrustProxy bool

	// IdleTimeout and ReadHeaderTimeout tune the transport.
	IdleTimeout       time.Duration `validate:"min=0"`
	ReadHeaderTimeout time.Duration `validate:"min=0"`

	// MaxRequestsPerConn closes a keep-alive connection after this many
	// requests. Zero means unlimited.
	MaxRequestsPerConn int `validate:"min=0"`

	// ShutdownDeadline bounds the entire drain sequence.
	ShutdownDeadline time.Duration `validate:"gt=0"`

	// Observability carries the telemetry settings.
	Observability Observability

	// ClientDir and PrerenderedDir are the static asset roots inside the
	// deployable unit.
	ClientDir      string
	PrerenderedDir string
}

// Observability is the telemetry slice of the configuration.
type Observability struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Protocol       string `validate:"oneof=grpc http"`
	Headers        string
	SampleRate     float64 `validate:"min=0,max=1"`
	Attributes     map[string]string
}

// Default returns the build-time defaults before environment overrides.
func Default() Server {
	return Server{
		Host:              "0.0.0.0",
		Port:              3000,
		UpstreamAddr:      "127.0.0.1:3001",
		Compress:          true,
		CompressLevel:     6,
		CompressMin:       1024,
		BodyLimit:         512 * 1024,
		UpgradePath:       "/ws",
		IdleTimeout:       75 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownDeadline:  30 * time.Second,
		ClientDir:         "client",
		PrerenderedDir:    "prerendered",
		Observability: Observability{
			ServiceName:    "stevedore-app",
			ServiceVersion: "0.0.0",
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			SampleRate:     1.0,
		},
	}
}

// Load resolves the configuration from defaults plus environment overrides
// and validates it. Any unparsable override or invalid combination returns
// an error wrapping ErrInvalid; the process must not start half-configured.
func Load() (Server, error) {
	cfg := Default()
	var errs []error

	cfg.Host = getEnvOr("HOST", cfg.Host)
	intEnv(&cfg.Port, "PORT", &errs)
	cfg.UpstreamAddr = getEnvOr("UPSTREAM_ADDR", cfg.UpstreamAddr)
	boolEnv(&cfg.Compress, "COMPRESS", &errs)
	intEnv(&cfg.CompressLevel, "COMPRESS_LEVEL", &errs)
	intEnv(&cfg.CompressMin, "COMPRESS_MIN_BYTES", &errs)
	int64Env(&cfg.BodyLimit, "BODY_SIZE_LIMIT", &errs)
	boolEnv(&cfg.Upgrade, "UPGRADE_ENABLED", &errs)
	cfg.UpgradePath = getEnvOr("UPGRADE_PATH", cfg.UpgradePath)
	boolEnv(&cfg.TrustProxy, "TRUST_PROXY", &errs)
	durationEnv(&cfg.IdleTimeout, "KEEPALIVE_TIMEOUT", &errs)
	durationEnv(&cfg.ReadHeaderTimeout, "HEADERS_TIMEOUT", &errs)
	intEnv(&cfg.MaxRequestsPerConn, "MAX_REQUESTS_PER_CONN", &errs)
	durationEnv(&cfg.ShutdownDeadline, "SHUTDOWN_TIMEOUT", &errs)
	cfg.ClientDir = getEnvOr("CLIENT_DIR", cfg.ClientDir)
	cfg.PrerenderedDir = getEnvOr("PRERENDERED_DIR", cfg.PrerenderedDir)

	obs := &cfg.Observability
	boolEnv(&obs.Enabled, "OTEL_ENABLED", &errs)
	obs.ServiceName = getEnvOr("OTEL_SERVICE_NAME", obs.ServiceName)
	obs.ServiceVersion = getEnvOr("OTEL_SERVICE_VERSION", obs.ServiceVersion)
	obs.Endpoint = getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", obs.Endpoint)
	obs.Protocol = getEnvOr("OTEL_EXPORTER_OTLP_PROTOCOL", obs.Protocol)
	obs.Headers = getEnvOr("OTEL_EXPORTER_OTLP_HEADERS", obs.Headers)
	floatEnv(&obs.SampleRate, "OTEL_TRACES_SAMPLER_ARG", &errs)
	if raw := os.Getenv("OTEL_RESOURCE_ATTRIBUTES"); raw != "" {
		attrs, err := parseAttributes(raw)
		if err != nil {
			errs = append(errs, err)
		} else {
			obs.Attributes = attrs
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, errors.Join(errs...))
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

// Addr returns the bind address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// =============================================================================
// Environment helpers
// =============================================================================

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(dst *int, key string, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, raw, err))
		return
	}
	*dst = v
}

func int64Env(dst *int64, key string, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, raw, err))
		return
	}
	*dst = v
}

func boolEnv(dst *bool, key string, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, raw, err))
		return
	}
	*dst = v
}

func floatEnv(dst *float64, key string, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, raw, err))
		return
	}
	*dst = v
}

// durationEnv accepts either a Go duration string or bare milliseconds, the
// form most deployment environments use.
func durationEnv(dst *time.Duration, key string, errs *[]error) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %v", key, raw, err))
		return
	}
	*dst = v
}

// parseAttributes decodes "k1=v1,k2=v2" resource attribute lists.
func parseAttributes(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("OTEL_RESOURCE_ATTRIBUTES: bad pair %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

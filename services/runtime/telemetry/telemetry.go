// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry initializes the runtime's observability subsystem.
//
// The lifecycle coordinator consumes this package through a narrow
// init/shutdown contract: Init returns a shutdown function that flushes
// buffered telemetry. An Init failure is never fatal to the server; the
// coordinator degrades to disabled-with-warning.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/stevedore/services/runtime/config"
)

// Sentinel errors for telemetry initialization.
var (
	// ErrNilContext is returned when Init is called without a context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownProtocol is returned for an unsupported exporter protocol.
	ErrUnknownProtocol = errors.New("telemetry: unknown exporter protocol")
)

// ShutdownFunc flushes buffered telemetry and releases exporter resources.
type ShutdownFunc func(context.Context) error

// NopShutdown is the shutdown contract when telemetry is disabled.
func NopShutdown(context.Context) error { return nil }

// Init initializes tracing and metrics from the observability configuration.
//
// Traces go to the OTLP gRPC endpoint (or stdout when no endpoint is
// configured); metrics are exposed through the Prometheus handler. The
// returned shutdown function must be called during drain; it flushes
// everything still buffered.
func Init(ctx context.Context, cfg config.Observability) (ShutdownFunc, error) {
	if ctx == nil {
		return NopShutdown, ErrNilContext
	}
	if !cfg.Enabled {
		return NopShutdown, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res := resource.NewWithAttributes("", attrs...)

	var shutdownFuncs []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("telemetry shutdown: %v", errs)
		}
		return nil
	}

	tp, err := initTracer(ctx, cfg, res)
	if err != nil {
		return NopShutdown, fmt.Errorf("init tracer: %w", err)
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	mp, err := initMeter(cfg, res)
	if err != nil {
		// Partial init must not leak the tracer.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
		return NopShutdown, fmt.Errorf("init meter: %w", err)
	}
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

	return shutdown, nil
}

// initTracer builds the TracerProvider with a parent-based ratio sampler.
func initTracer(ctx context.Context, cfg config.Observability, res *resource.Resource) (*trace.TracerProvider, error) {
	var exporter trace.SpanExporter
	var err error

	switch {
	case cfg.Endpoint == "":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case cfg.Protocol == "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		}
		if headers := parseHeaders(cfg.Headers); len(headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRate))),
	), nil
}

// initMeter builds the MeterProvider. With an endpoint configured the
// Prometheus exporter feeds the scrape handler; otherwise metrics go to
// stdout for development.
func initMeter(cfg config.Observability, res *resource.Resource) (*metric.MeterProvider, error) {
	if cfg.Endpoint == "" {
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil
	}

	exporter, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	prometheusHandlerMu.Lock()
	prometheusHandler = promhttp.Handler()
	prometheusHandlerMu.Unlock()

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	), nil
}

// prometheusHandler stores the scrape endpoint handler. Access via
// MetricsHandler().
var (
	prometheusHandler   http.Handler
	prometheusHandlerMu sync.RWMutex
)

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are disabled or exported elsewhere. Safe for concurrent use.
func MetricsHandler() http.Handler {
	prometheusHandlerMu.RLock()
	defer prometheusHandlerMu.RUnlock()
	return prometheusHandler
}

// parseHeaders decodes the "k1=v1,k2=v2" credential header list.
func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && k != "" {
			out[k] = v
		}
	}
	return out
}

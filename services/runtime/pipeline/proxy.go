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
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewProxy builds the application fallback: unmatched requests are delegated
// to the embedded application server at upstream.
//
// With trustProxy unset, inbound X-Forwarded-* headers are discarded and
// rewritten from the actual peer, so the application never sees spoofed
// forwarding metadata from an untrusted edge.
func NewProxy(upstream string, trustProxy bool) (http.Handler, error) {
	if _, _, err := net.SplitHostPort(upstream); err != nil {
		return nil, fmt.Errorf("upstream address %q: %w", upstream, err)
	}
	target := &url.URL{Scheme: "http", Host: upstream}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			if trustProxy {
				// Preserve the edge's forwarding headers, appending ourselves.
				pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
				pr.Out.Header["X-Forwarded-Proto"] = pr.In.Header["X-Forwarded-Proto"]
				pr.Out.Header["X-Forwarded-Host"] = pr.In.Header["X-Forwarded-Host"]
			}
			pr.SetXForwarded()
			if trustProxy {
				if proto := pr.In.Header.Get("X-Forwarded-Proto"); proto != "" {
					pr.Out.Header.Set("X-Forwarded-Proto", proto)
				}
				if host := pr.In.Header.Get("X-Forwarded-Host"); host != "" {
					pr.Out.Header.Set("X-Forwarded-Host", host)
				}
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("application upstream unreachable", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":"application unavailable"}`)
		},
	}
	return proxy, nil
}

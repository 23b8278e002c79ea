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
	"net"
	"net/http"
	"sync/atomic"
)

// connCounterKey carries the per-connection request counter.
type connCounterKey struct{}

// connContext seeds every accepted connection with a request counter.
func connContext(ctx context.Context, _ net.Conn) context.Context {
	return context.WithValue(ctx, connCounterKey{}, &atomic.Int64{})
}

// limitRequestsPerConn closes a keep-alive connection after max requests by
// answering the final one with Connection: close. Zero disables the limit.
func limitRequestsPerConn(next http.Handler, max int) http.Handler {
	if max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if counter, ok := r.Context().Value(connCounterKey{}).(*atomic.Int64); ok {
			if counter.Add(1) >= int64(max) {
				w.Header().Set("Connection", "close")
			}
		}
		next.ServeHTTP(w, r)
	})
}

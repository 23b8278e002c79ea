// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package upgrade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// First frame is always the session announcement.
	var hello Reply
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, "session_created", hello.Action)
	require.NotEmpty(t, hello.SessionID)
	return ws
}

func TestHub_EchoRoundTrip(t *testing.T) {
	h := NewHub(nil, nil)
	ws := dialHub(t, h)
	assert.Equal(t, 1, h.Len())

	require.NoError(t, ws.WriteJSON(Message{Action: "ping", Data: json.RawMessage(`{"n":1}`)}))

	var reply Reply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "ping", reply.Action)
	assert.JSONEq(t, `{"n":1}`, string(reply.Data))
	assert.Empty(t, reply.Error)
}

func TestHub_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	h := NewHub(nil, nil)
	ws := dialHub(t, h)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var reply Reply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Action)
	assert.Contains(t, reply.Error, "malformed")

	// The connection must still work afterwards.
	require.NoError(t, ws.WriteJSON(Message{Action: "ping"}))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "ping", reply.Action)
}

func TestHub_MissingActionIsMalformed(t *testing.T) {
	h := NewHub(nil, nil)
	ws := dialHub(t, h)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"data": {}}`)))

	var reply Reply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Action)
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(nil, nil)
	ws1 := dialHub(t, h)
	ws2 := dialHub(t, h)
	require.Equal(t, 2, h.Len())

	require.NoError(t, h.CloseAll(context.Background()))

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := ws.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
			websocket.IsUnexpectedCloseError(err),
			"peer should observe a going-away close, got %v", err)
	}
}

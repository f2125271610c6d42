// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

func TestWSHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Broadcast("test", map[string]string{"key": "value"})
	hub.BroadcastJob(Job{ID: "test123", Status: JobStatusRunning})
	hub.BroadcastEvent(JobEvent{JobID: "test123", Event: eventlogs.ProgressEvent{Event: "scan_start"}})

	assert.Equal(t, 0, hub.ClientCount())
}

func TestWSHub_StopsWithContext(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.False(t, hub.join(&WSClient{send: make(chan []byte, 1)}), "a stopped hub refuses clients")
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_StreamsJobUpdates(t *testing.T) {
	fp := newFakeParse(t, parseRow{GID: 2, EndingHash: hashOf("w")})
	dropbox := writeDropbox(t, map[string]string{"w.mdl": "w"})
	srv := newTestServer(t, dropbox, fp.settings(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.wsHub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, "init", hello.Type)
	assert.Equal(t, "1.2.3-test", hello.Data.(map[string]any)["version"])

	assert.Eventually(t, func() bool { return srv.wsHub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", strings.NewReader(`{"file":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var sawEvent bool
	for {
		msg := readMessage(t, conn)
		switch msg.Type {
		case "event":
			sawEvent = true
		case "job_update":
			data := msg.Data.(map[string]any)
			if data["status"] == string(JobStatusCompleted) {
				assert.True(t, sawEvent, "flow events are streamed before completion")
				return
			}
			require.NotEqual(t, string(JobStatusFailed), data["status"], data["error"])
		}
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	srv := New(Config{AllowedOrigins: []string{"http://ok.example"}, Settings: eventlogs.DefaultSettings()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.wsHub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

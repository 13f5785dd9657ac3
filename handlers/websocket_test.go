package handlers

import (
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

// TestWritePump_OneMessagePerFrame verifies that queued messages are written
// as individual frames. The frontend calls JSON.parse on each message, so
// coalescing two snapshots into one frame breaks every client.
func TestWritePump_OneMessagePerFrame(t *testing.T) {
	upgraded := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{
			hub:    NewHub(),
			conn:   conn,
			send:   make(chan []byte, 8),
			pollID: "poll-1",
			userID: "guest",
		}
		upgraded <- client
		client.writePump()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var client *Client
	select {
	case client = <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not upgraded")
	}
	defer close(client.send)

	// Two back-to-back broadcasts queue up before the pump drains them.
	client.send <- []byte(`{"update":true,"pollId":"p1"}`)
	client.send <- []byte(`{"update":true,"pollId":"p2"}`)

	seen := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		// Each frame must hold exactly one JSON object.
		var snap map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &snap), "frame is not a single JSON object: %q", data)
		seen = append(seen, snap["pollId"].(string))
	}

	assert.Equal(t, []string{"p1", "p2"}, seen)
}

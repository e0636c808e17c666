package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// mockJanus implements just enough of the Janus core API to exercise the
// client end to end: session and handle bookkeeping, keepalive acks, the
// echotest-style ack-then-event answer to message, and scripted failure
// modes for the teardown scenarios.
type mockJanus struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]map[uint64]bool

	// answerKeepalive=false swallows keepalives to provoke the probe miss
	answerKeepalive bool

	// errorOnMessage answers every message request with a plugin error
	errorOnMessage bool

	// push sends one unsolicited message to the connected client; set
	// once a client is attached
	push func(msg map[string]any)
}

func newMockJanus() *mockJanus {
	return &mockJanus{
		nextID:          100,
		sessions:        make(map[uint64]map[uint64]bool),
		answerKeepalive: true,
	}
}

func (m *mockJanus) allocate() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// handle answers one decoded request. Transport-agnostic: the WebSocket
// and datagram frontends both call it.
func (m *mockJanus) handle(req map[string]any) []map[string]any {
	tx := req["transaction"]
	sid := req["session_id"]

	switch req["janus"] {
	case "info":
		return []map[string]any{{"janus": "server_info", "transaction": tx, "name": "Janus Mock"}}
	case "create":
		id := m.allocate()
		m.mu.Lock()
		m.sessions[id] = make(map[uint64]bool)
		m.mu.Unlock()
		return []map[string]any{{"janus": "success", "transaction": tx, "data": map[string]any{"id": id}}}
	case "attach":
		id := m.allocate()
		m.mu.Lock()
		if handles, ok := m.sessions[toID(sid)]; ok {
			handles[id] = true
		}
		m.mu.Unlock()
		return []map[string]any{{"janus": "success", "transaction": tx, "session_id": sid, "data": map[string]any{"id": id}}}
	case "destroy":
		m.mu.Lock()
		delete(m.sessions, toID(sid))
		m.mu.Unlock()
		return []map[string]any{{"janus": "success", "transaction": tx, "session_id": sid}}
	case "detach", "hangup":
		return []map[string]any{{"janus": "success", "transaction": tx, "session_id": sid}}
	case "keepalive":
		if !m.answerKeepalive {
			return nil
		}
		return []map[string]any{{"janus": "ack", "transaction": tx, "session_id": sid}}
	case "trickle":
		return []map[string]any{{"janus": "ack", "transaction": tx, "session_id": sid}}
	case "message":
		if m.errorOnMessage {
			return []map[string]any{{
				"janus": "error", "transaction": tx, "session_id": sid, "sender": req["handle_id"],
				"error": map[string]any{"code": 432, "reason": "no such room"},
			}}
		}
		return []map[string]any{
			{"janus": "ack", "transaction": tx, "session_id": sid},
			{
				"janus": "event", "transaction": tx, "session_id": sid, "sender": req["handle_id"],
				"plugindata": map[string]any{
					"plugin": "janus.plugin.echotest",
					"data":   map[string]any{"echotest": "event", "result": "ok"},
				},
			},
		}
	default:
		return []map[string]any{{
			"janus": "error", "transaction": tx,
			"error": map[string]any{"code": 453, "reason": "unknown request"},
		}}
	}
}

func toID(v any) uint64 {
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case uint64:
		return n
	case json.Number:
		id, _ := n.Int64()
		return uint64(id)
	default:
		return 0
	}
}

// serveWS exposes the mock on an httptest WebSocket server and returns
// its ws:// URL.
func serveWS(t *testing.T, m *mockJanus) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"janus-protocol", "janus-admin-protocol"},
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var writeMu sync.Mutex
		send := func(msg map[string]any) {
			data, _ := json.Marshal(msg)
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		m.mu.Lock()
		m.push = send
		m.mu.Unlock()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			for _, reply := range m.handle(req) {
				send(reply)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// serveUnixDgram exposes the mock on a unix datagram socket and returns
// its file:// URL.
func serveUnixDgram(t *testing.T, m *mockJanus) string {
	t.Helper()
	path := filepath.Join(os.TempDir(), "janode-it-srv.sock")
	_ = os.Remove(path)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("binding mock socket: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		os.Remove(path)
	})

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, from, err := conn.ReadFromUnix(buf)
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(buf[:n], &req); err != nil {
				continue
			}
			m.mu.Lock()
			m.push = func(msg map[string]any) {
				data, _ := json.Marshal(msg)
				_, _ = conn.WriteToUnix(data, from)
			}
			push := m.push
			m.mu.Unlock()
			for _, reply := range m.handle(req) {
				push(reply)
			}
		}
	}()
	return "file://" + path
}

// pushToClient delivers one server-initiated message, waiting for a
// client to have connected first.
func (m *mockJanus) pushToClient(t *testing.T, msg map[string]any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		push := m.push
		m.mu.Unlock()
		if push != nil {
			push(msg)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no client connected to push to")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

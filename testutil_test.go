package janode

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/PedroDosS/janode/config"
	"github.com/PedroDosS/janode/protocol"
	"github.com/PedroDosS/janode/transport"
)

// fakeAdapter is a scripted in-memory transport. Tests inspect what was
// sent, inject inbound messages, and script auto-replies per request.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []protocol.Request
	opened   bool
	closed   bool
	sendErr  error
	remote   string
	respond  func(req protocol.Request) []map[string]any
	incoming chan protocol.Message
	disc     chan transport.DisconnectEvent
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		remote:   "fake",
		incoming: make(chan protocol.Message, 64),
		disc:     make(chan transport.DisconnectEvent, 1),
	}
}

func (f *fakeAdapter) Open(context.Context) error {
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Send(req protocol.Request) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrTransportClosed
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, req)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		// replies arrive asynchronously, like on a real socket
		go func() {
			for _, reply := range respond(req) {
				f.deliverMap(reply)
			}
		}()
	}
	return nil
}

func (f *fakeAdapter) Receive() <-chan protocol.Message               { return f.incoming }
func (f *fakeAdapter) Disconnected() <-chan transport.DisconnectEvent { return f.disc }
func (f *fakeAdapter) RemoteHostname() string                         { return f.remote }

func (f *fakeAdapter) Close() error {
	f.drop(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
	return nil
}

// drop simulates the transport going away.
func (f *fakeAdapter) drop(ev transport.DisconnectEvent) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	select {
	case f.disc <- ev:
	default:
	}
}

// deliver injects one raw inbound message.
func (f *fakeAdapter) deliver(t *testing.T, raw string) {
	t.Helper()
	msg, err := protocol.DecodeMessage([]byte(raw))
	if err != nil {
		t.Fatalf("bad test message %q: %v", raw, err)
	}
	f.incoming <- msg
}

func (f *fakeAdapter) deliverMap(reply map[string]any) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return
	}
	f.incoming <- msg
}

// sentRequests snapshots what went out.
func (f *fakeAdapter) sentRequests() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Request, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) lastSent(t *testing.T) protocol.Request {
	t.Helper()
	reqs := f.sentRequests()
	if len(reqs) == 0 {
		t.Fatal("nothing was sent")
	}
	return reqs[len(reqs)-1]
}

// newTestConnection wires a connection over a fake adapter.
func newTestConnection(t *testing.T, mutate func(cfg *config.Config)) (*Connection, *fakeAdapter) {
	t.Helper()
	cfg := &config.Config{
		Address: []config.ServerAddress{{URL: "ws://127.0.0.1:8188", APISecret: "supersecret"}},
	}
	cfg.WithDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	pool, err := config.NewAddressPool(cfg.Address)
	if err != nil {
		t.Fatalf("NewAddressPool failed: %v", err)
	}
	fa := newFakeAdapter()
	c := newConnection(cfg, pool, fa)
	if err := c.open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() {
		fa.drop(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
	})
	return c, fa
}

// janusResponder answers the core lifecycle verbs the way a Janus server
// does, assigning fresh ids for create and attach.
func janusResponder() func(req protocol.Request) []map[string]any {
	var mu sync.Mutex
	nextID := uint64(41)
	return func(req protocol.Request) []map[string]any {
		tx := req["transaction"]
		switch req.Verb() {
		case protocol.Create, protocol.Attach:
			mu.Lock()
			nextID++
			id := nextID
			mu.Unlock()
			reply := map[string]any{"janus": "success", "transaction": tx, "data": map[string]any{"id": id}}
			if req.Verb() == protocol.Attach {
				reply["session_id"] = req["session_id"]
			}
			return []map[string]any{reply}
		case protocol.Destroy:
			return []map[string]any{{"janus": "success", "transaction": tx, "session_id": req["session_id"]}}
		case protocol.Keepalive:
			return []map[string]any{{"janus": "ack", "transaction": tx, "session_id": req["session_id"]}}
		case protocol.Detach, protocol.Hangup:
			return []map[string]any{{"janus": "success", "transaction": tx, "session_id": req["session_id"]}}
		case protocol.Trickle:
			return []map[string]any{{"janus": "ack", "transaction": tx, "session_id": req["session_id"]}}
		case protocol.Info:
			return []map[string]any{{"janus": "server_info", "transaction": tx, "name": "Janus"}}
		default:
			return nil
		}
	}
}

// waitEvent subscribes to one event and returns a channel its payload
// lands on.
func waitEvent(e interface {
	Once(string, func(any)) func()
}, name string) <-chan any {
	ch := make(chan any, 1)
	e.Once(name, func(payload any) { ch <- payload })
	return ch
}

func recvTimeout[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Package websocket implements transport.Adapter over a WebSocket
// connection (nhooyr.io/websocket). The URL schemes ws and wss dial over
// TCP; ws+unix and wss+unix run the same handshake over a unix stream
// socket, the way Janus exposes its WebSocket transport on a local path.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/PedroDosS/janode/config"
	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
	"github.com/PedroDosS/janode/transport"
)

const (
	// Subprotocol and AdminSubprotocol are the subprotocols Janus expects
	// on its public and admin WebSocket endpoints.
	Subprotocol      = "janus-protocol"
	AdminSubprotocol = "janus-admin-protocol"

	// PingTime is the interval between liveness pings; PingWait bounds
	// the wait for the matching pong.
	PingTime = 10 * time.Second
	PingWait = 5 * time.Second

	writeTimeout = 10 * time.Second

	// readLimit allows large SDP blobs; nhooyr's default of 32KiB is too
	// small for real offers.
	readLimit = 1 << 20
)

// Adapter is the WebSocket transport.
type Adapter struct {
	cfg    *config.Config
	pool   *config.AddressPool
	logger zerolog.Logger

	incoming   chan protocol.Message
	disconnect chan transport.DisconnectEvent

	// lifeCtx spans the adapter lifetime: read loop, ping loop, in-flight
	// writes and the open retry wait all abort when Close cancels it.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	remote  string
	opened  bool
	closing bool
	closed  bool
}

// New builds an unopened adapter over the given pool.
func New(cfg *config.Config, pool *config.AddressPool) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:        cfg,
		pool:       pool,
		logger:     logging.New("transport.websocket"),
		incoming:   make(chan protocol.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
}

// Open dials the current pool address, failing over circularly until the
// retry budget is spent. Closing the adapter aborts a pending retry.
func (a *Adapter) Open(ctx context.Context) error {
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.lifeCtx, cancel)
	defer stop()
	return transport.OpenWithRetry(openCtx, a.pool, a.cfg.MaxRetries, a.cfg.RetryTime(), a.logger, a.dial)
}

func (a *Adapter) subprotocol() string {
	if a.cfg.IsAdmin {
		return AdminSubprotocol
	}
	return Subprotocol
}

func (a *Adapter) dial(ctx context.Context, addr config.ServerAddress) error {
	u, err := url.Parse(addr.URL)
	if err != nil {
		return fmt.Errorf("websocket: bad url %q: %w", addr.URL, err)
	}

	dialURL := addr.URL
	remote := u.Host
	client := &http.Client{}
	switch u.Scheme {
	case "ws", "wss":
	case "ws+unix", "wss+unix":
		socketPath := u.Path
		remote = socketPath
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		dialURL = strings.TrimSuffix(u.Scheme, "+unix") + "://janus"
	default:
		return fmt.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, dialURL, &websocket.DialOptions{
		Subprotocols: []string{a.subprotocol()},
		HTTPClient:   client,
	})
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", addr.URL, err)
	}
	conn.SetReadLimit(readLimit)

	a.mu.Lock()
	a.conn = conn
	a.remote = remote
	a.opened = true
	a.mu.Unlock()

	a.logger.Info().Str("remote", remote).Str("subprotocol", a.subprotocol()).Msg("websocket transport open")

	go a.readLoop(conn)
	go a.pingLoop(conn)
	return nil
}

// Send encodes req and writes one text frame.
func (a *Adapter) Send(req protocol.Request) error {
	a.mu.Lock()
	conn, ok := a.conn, a.opened && !a.closed
	a.mu.Unlock()
	if !ok || conn == nil {
		return transport.ErrTransportClosed
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("websocket: encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(a.lifeCtx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket: send: %w", err)
	}
	return nil
}

func (a *Adapter) Receive() <-chan protocol.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// RemoteHostname returns the host (or socket path) currently connected.
func (a *Adapter) RemoteHostname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote
}

// Close performs a graceful shutdown: the close handshake runs first so
// the read loop observes a clean status, then the lifetime context is
// cancelled to stop the ping loop and any pending retry wait.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.closing = true
	conn := a.conn
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
	} else {
		// never opened: nothing will signal, so do it here
		a.signalDisconnect(nil)
	}
	a.lifeCancel()
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	defer close(a.incoming)
	for {
		_, data, err := conn.Read(a.lifeCtx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}
		msg, derr := protocol.DecodeMessage(data)
		if derr != nil {
			a.logger.Warn().Err(derr).Msg("dropping undecodable message")
			continue
		}
		select {
		case a.incoming <- msg:
		case <-a.lifeCtx.Done():
			a.signalDisconnect(a.lifeCtx.Err())
			return
		}
	}
}

// pingLoop probes liveness. A missed pong terminates the socket without
// a close handshake, which the read loop observes as a network error and
// the connection layer turns into a cascading teardown.
func (a *Adapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(PingTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.lifeCtx, PingWait)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				if a.lifeCtx.Err() != nil {
					return
				}
				a.logger.Warn().Err(err).Msg("ping missed its deadline, terminating socket")
				_ = conn.CloseNow()
				return
			}
		case <-a.lifeCtx.Done():
			return
		}
	}
}

// signalDisconnect sends exactly one disconnect event. A close we
// initiated ourselves and the WebSocket clean-close statuses both count
// as graceful; everything else is a network error.
func (a *Adapter) signalDisconnect(err error) {
	a.mu.Lock()
	closing := a.closing
	a.closed = true
	a.opened = false
	a.mu.Unlock()

	event := transport.DisconnectEvent{}
	status := websocket.CloseStatus(err)
	switch {
	case err == nil, closing,
		status == websocket.StatusNormalClosure,
		status == websocket.StatusGoingAway:
		event.Reason = transport.ReasonClosedClean
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}

// Package unixdgram implements transport.Adapter over a connected unix
// datagram socket pair, the transport Janus exposes with its pfunix
// plugin. Datagrams already have message boundaries, so unlike a stream
// transport there is no framing to invent — one datagram is one JSON
// message.
//
// The client side must bind its own path to receive replies; each adapter
// instance binds a fresh one under the temp dir and unlinks it on close.
package unixdgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/config"
	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
	"github.com/PedroDosS/janode/transport"
)

// maxDatagram bounds one inbound message. Janus keeps its own datagrams
// well under this.
const maxDatagram = 64 * 1024

// Adapter is the unix datagram transport.
type Adapter struct {
	cfg    *config.Config
	pool   *config.AddressPool
	logger zerolog.Logger

	bindPath string

	incoming   chan protocol.Message
	disconnect chan transport.DisconnectEvent

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu      sync.Mutex
	conn    *net.UnixConn
	remote  string
	opened  bool
	closing bool
	closed  bool
}

// New builds an unopened adapter. The local bind path is fixed at
// construction so a failed open never leaves more than one stale socket
// file to clean up.
func New(cfg *config.Config, pool *config.AddressPool) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:        cfg,
		pool:       pool,
		logger:     logging.New("transport.unixdgram"),
		bindPath:   filepath.Join(os.TempDir(), ".janode-"+uuid.NewString()),
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

func (a *Adapter) dial(_ context.Context, addr config.ServerAddress) error {
	remotePath, err := socketPath(addr.URL)
	if err != nil {
		return err
	}

	// a previous instance may have died without unlinking
	_ = os.Remove(a.bindPath)

	laddr := &net.UnixAddr{Name: a.bindPath, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: remotePath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		_ = os.Remove(a.bindPath)
		return fmt.Errorf("unixdgram: dial %s: %w", remotePath, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.remote = remotePath
	a.opened = true
	a.mu.Unlock()

	a.logger.Info().Str("remote", remotePath).Str("local", a.bindPath).Msg("unix datagram transport open")

	go a.readLoop(conn)
	return nil
}

func socketPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("unixdgram: bad url %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unixdgram: unsupported scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("unixdgram: url %q carries no socket path", rawURL)
	}
	return path, nil
}

// Send encodes req and writes one datagram.
func (a *Adapter) Send(req protocol.Request) error {
	a.mu.Lock()
	conn, ok := a.conn, a.opened && !a.closed
	a.mu.Unlock()
	if !ok || conn == nil {
		return transport.ErrTransportClosed
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("unixdgram: encoding request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("unixdgram: send: %w", err)
	}
	return nil
}

func (a *Adapter) Receive() <-chan protocol.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

// RemoteHostname returns the server socket path currently connected.
func (a *Adapter) RemoteHostname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote
}

// Close shuts the socket, unlinks the bind path and aborts a pending
// open retry. Safe to call multiple times.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.closing = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	} else {
		a.signalDisconnect(nil)
	}
	_ = os.Remove(a.bindPath)
	a.lifeCancel()
	return nil
}

func (a *Adapter) readLoop(conn *net.UnixConn) {
	defer close(a.incoming)
	buf := make([]byte, maxDatagram)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			a.teardown(err)
			return
		}
		msg, derr := protocol.DecodeMessage(buf[:n])
		if derr != nil {
			a.logger.Warn().Err(derr).Msg("dropping undecodable datagram")
			continue
		}
		select {
		case a.incoming <- msg:
		case <-a.lifeCtx.Done():
			a.teardown(a.lifeCtx.Err())
			return
		}
	}
}

// teardown handles a fatal read error: close the socket, unlink the bind
// path, drop the reference, notify the connection.
func (a *Adapter) teardown(err error) {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	_ = os.Remove(a.bindPath)
	a.signalDisconnect(err)
}

// signalDisconnect sends exactly one disconnect event.
func (a *Adapter) signalDisconnect(err error) {
	a.mu.Lock()
	closing := a.closing
	a.closed = true
	a.opened = false
	a.mu.Unlock()

	event := transport.DisconnectEvent{}
	if err == nil || closing {
		event.Reason = transport.ReasonClosedClean
	} else {
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	select {
	case a.disconnect <- event:
	default:
	}
}

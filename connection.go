package janode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/config"
	"github.com/PedroDosS/janode/event"
	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
	"github.com/PedroDosS/janode/transport"
)

// Connection is the root of the hierarchy. It owns the transport, the
// transaction table and the session table, routes every inbound message
// and implements the admin API. Build one with Connect.
//
// Lifecycle events: EventConnectionClosed after a graceful Close,
// EventConnectionError after an unexpected transport drop. Either one is
// terminal and cascades: sessions destroy, handles detach, every pending
// request fails.
type Connection struct {
	*event.Emitter

	cfg     *config.Config
	pool    *config.AddressPool
	adapter transport.Adapter
	tm      *transactionManager
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[uint64]*Session
	closed   bool
}

func (c *Connection) isRequestOwner() {}

func newConnection(cfg *config.Config, pool *config.AddressPool, adapter transport.Adapter) *Connection {
	return &Connection{
		Emitter:  event.NewEmitter(),
		cfg:      cfg,
		pool:     pool,
		adapter:  adapter,
		tm:       newTransactionManager(cfg.DebugTx),
		logger:   logging.New("connection"),
		sessions: make(map[uint64]*Session),
	}
}

func (c *Connection) open(ctx context.Context) error {
	if err := c.adapter.Open(ctx); err != nil {
		c.tm.stop()
		return err
	}
	c.logger = c.logger.With().Str("remote", c.adapter.RemoteHostname()).Logger()
	go c.dispatchLoop()
	return nil
}

// Close shuts the transport down gracefully. EventConnectionClosed fires
// once the transport confirms the close.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.mu.Unlock()
	return c.adapter.Close()
}

// RemoteHostname names the server endpoint currently connected.
func (c *Connection) RemoteHostname() string {
	return c.adapter.RemoteHostname()
}

// GetInfo asks the server for its capabilities; the reply is the raw
// server_info message.
func (c *Connection) GetInfo(ctx context.Context) (*protocol.Message, error) {
	return c.SendRequest(ctx, protocol.NewRequest(protocol.Info))
}

// Create opens a new server session. keepAlive is the keepalive period;
// zero selects the default of 30 seconds. A keepalive miss destroys the
// session, so pick an interval well under the server's session timeout.
func (c *Connection) Create(ctx context.Context, keepAlive time.Duration) (*Session, error) {
	resp, err := c.SendRequest(ctx, protocol.NewRequest(protocol.Create))
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w to create request", ErrUnexpectedResponse)
	}

	s := newSession(c, resp.Data.ID, keepAlive)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.signalDestroy()
		return nil, ErrConnectionClosed
	}
	c.sessions[s.id] = s
	c.mu.Unlock()

	// the session subscribes two listeners back on this emitter; grow the
	// cap so a busy connection does not trip the leak warning
	c.GrowListenerCap(2)
	s.offConnClosed = c.Once(EventConnectionClosed, func(any) { s.signalDestroy() })
	s.offConnError = c.Once(EventConnectionError, func(any) { s.signalDestroy() })
	s.Once(EventSessionDestroyed, func(any) {
		c.mu.Lock()
		delete(c.sessions, s.id)
		c.mu.Unlock()
		c.GrowListenerCap(-2)
	})
	s.start()

	c.logger.Info().Uint64("session", s.id).Msg("session created")
	return s, nil
}

// SendRequest sends one request owned by the connection itself and waits
// for its definitive response. The request is stamped with a generated
// transaction id (if it has none) and the credentials of the address in
// use: admin_secret in admin mode, apisecret otherwise, plus the token.
func (c *Connection) SendRequest(ctx context.Context, req protocol.Request) (*protocol.Message, error) {
	return c.sendRequest(ctx, req, c, 0)
}

func (c *Connection) sendRequest(ctx context.Context, req protocol.Request, owner requestOwner, timeout time.Duration) (*protocol.Message, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrConnectionClosed
	}

	id := c.decorate(req)
	pr := c.tm.create(id, owner, req.Verb(), timeout)
	if pr == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, id)
	}

	// the owner may have been torn down between the liveness check and
	// the create; its teardown sweep cannot have seen this transaction,
	// so it must not be left waiting
	if err := ownerClosedErr(owner); err != nil {
		c.tm.closeWithError(id, owner, err)
		<-pr.ch
		return nil, err
	}

	if err := c.adapter.Send(req); err != nil {
		c.tm.closeWithError(id, owner, err)
		<-pr.ch
		return nil, err
	}

	select {
	case out := <-pr.ch:
		return out.msg, out.err
	case <-ctx.Done():
		c.tm.closeWithError(id, owner, ctx.Err())
		// the channel holds exactly one outcome: our cancellation, or a
		// response that won the race
		out := <-pr.ch
		return out.msg, out.err
	}
}

func (c *Connection) decorate(req protocol.Request) string {
	id, _ := req["transaction"].(string)
	if id == "" {
		id = nextTransactionID()
		req["transaction"] = id
	}
	addr := c.pool.Current()
	if addr.APISecret != "" {
		if c.cfg.IsAdmin {
			req["admin_secret"] = addr.APISecret
		} else {
			req["apisecret"] = addr.APISecret
		}
	}
	if addr.Token != "" {
		req["token"] = addr.Token
	}
	return id
}

func (c *Connection) dispatchLoop() {
	recv := c.adapter.Receive()
	disc := c.adapter.Disconnected()
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				recv = nil
				continue
			}
			c.dispatch(msg)
		case ev := <-disc:
			if ev.Clean() {
				c.logger.Info().Msg("transport closed")
			} else {
				c.logger.Error().Err(ev.Err).Msg("transport dropped")
			}
			c.signalClose(ev)
			return
		}
	}
}

// dispatch routes one inbound message:
//  1. a session_id (outside admin mode) routes to the session;
//  2. otherwise a transaction this connection owns settles on a
//     definitive response;
//  3. everything else is noise.
func (c *Connection) dispatch(msg protocol.Message) {
	if msg.SessionID != 0 && !c.cfg.IsAdmin {
		c.mu.Lock()
		sess := c.sessions[msg.SessionID]
		c.mu.Unlock()
		if sess == nil {
			c.logger.Warn().Uint64("session", msg.SessionID).Str("janus", msg.Janus).Msg("no session for message")
			return
		}
		sess.dispatch(msg)
		return
	}

	if msg.Transaction != "" {
		if !c.tm.owns(msg.Transaction, c) {
			c.logger.Warn().Str("transaction", msg.Transaction).Msg("response for a transaction this connection does not own")
			return
		}
		if protocol.IsResponse(msg.Janus) {
			if protocol.IsError(msg.Janus) {
				c.tm.closeWithError(msg.Transaction, c, protocolError(msg))
			} else {
				c.tm.closeWithSuccess(msg.Transaction, c, &msg)
			}
		}
		return
	}

	c.logger.Error().Str("janus", msg.Janus).Msg("unexpected message on connection")
}

// signalClose runs the terminal teardown exactly once: fail the
// connection's own transactions, let sessions and handles tear down
// through the lifecycle event, then sweep whatever is left.
func (c *Connection) signalClose(ev transport.DisconnectEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.tm.closeAllWithError(c, ErrConnectionClosed)

	if ev.Clean() {
		c.Emit(EventConnectionClosed, nil)
	} else {
		c.Emit(EventConnectionError, ev.Err)
	}

	// sessions closed their own transactions during the emit; anything
	// left has no live owner
	c.tm.closeAllWithError(nil, ErrConnectionClosed)
	c.tm.stop()

	c.mu.Lock()
	c.sessions = make(map[uint64]*Session)
	c.mu.Unlock()
	c.RemoveAll()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ownerClosedErr reports the teardown state of a transaction owner.
func ownerClosedErr(owner requestOwner) error {
	switch o := owner.(type) {
	case *Connection:
		if o.isClosed() {
			return ErrConnectionClosed
		}
	case *Session:
		if o.Destroyed() {
			return ErrSessionDestroyed
		}
	case *Handle:
		if o.Detached() {
			return ErrHandleDetached
		}
		if o.session.Destroyed() {
			return ErrSessionDestroyed
		}
	}
	return nil
}

func protocolError(msg protocol.Message) error {
	if msg.Error != nil {
		return msg.Error
	}
	return fmt.Errorf("janus error without error data")
}

package janode

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/event"
	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
)

// DefaultKeepAliveInterval is used when Create is given a zero interval.
const DefaultKeepAliveInterval = 30 * time.Second

// Session is one server-side context multiplexing plugin handles over
// the parent connection. It owns the handle table and keeps itself alive
// with periodic keepalives; a missed keepalive, a server timeout
// notification, or the connection going away all destroy it.
type Session struct {
	*event.Emitter

	connection *Connection
	id         uint64
	kaInterval time.Duration
	kaStop     chan struct{}
	logger     zerolog.Logger

	mu         sync.Mutex
	handles    map[uint64]*Handle
	destroying bool
	destroyed  bool

	offConnClosed func()
	offConnError  func()
}

func (s *Session) isRequestOwner() {}

func newSession(c *Connection, id uint64, keepAlive time.Duration) *Session {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAliveInterval
	}
	return &Session{
		Emitter:    event.NewEmitter(),
		connection: c,
		id:         id,
		kaInterval: keepAlive,
		kaStop:     make(chan struct{}),
		logger:     logging.New("session").With().Uint64("session", id).Logger(),
		handles:    make(map[uint64]*Handle),
	}
}

func (s *Session) start() {
	go s.keepAliveLoop()
}

// ID is the server-assigned session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Destroyed reports whether the session has been torn down. Once true it
// never becomes false again.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// SendRequest sends one session-owned request, stamping session_id so
// the server and the inbound routing both know where it belongs.
func (s *Session) SendRequest(ctx context.Context, req protocol.Request) (*protocol.Message, error) {
	return s.sendRequest(ctx, req, s, 0)
}

func (s *Session) sendRequest(ctx context.Context, req protocol.Request, owner requestOwner, timeout time.Duration) (*protocol.Message, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return nil, ErrSessionDestroyed
	}
	if _, ok := req["session_id"]; !ok {
		req["session_id"] = s.id
	}
	return s.connection.sendRequest(ctx, req, owner, timeout)
}

// Destroy tears the session down on the server, then locally. It rejects
// when a destroy is already in progress or done.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	if s.destroying {
		s.mu.Unlock()
		return ErrDestroyInProgress
	}
	s.destroying = true
	s.mu.Unlock()

	_, err := s.sendRequest(ctx, protocol.NewRequest(protocol.Destroy), s, 0)
	if err != nil {
		s.mu.Lock()
		s.destroying = false
		s.mu.Unlock()
		return err
	}
	s.signalDestroy()
	return nil
}

// AttachDescriptor names the plugin to attach and optionally supplies
// the plugin's message hook.
type AttachDescriptor struct {
	// Plugin is the plugin package name, e.g. "janus.plugin.echotest".
	Plugin string

	// Handler recognizes plugin-specific responses and events. Nil means
	// every plugin message is unmanaged.
	Handler Handler
}

// Attach creates a plugin handle within this session.
func (s *Session) Attach(ctx context.Context, descriptor AttachDescriptor) (*Handle, error) {
	if strings.TrimSpace(descriptor.Plugin) == "" {
		return nil, ErrMissingPlugin
	}

	req := protocol.NewRequest(protocol.Attach)
	req["plugin"] = descriptor.Plugin
	resp, err := s.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, ErrUnexpectedResponse
	}

	h := newHandle(s, resp.Data.ID, descriptor.Handler)
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		h.signalDetach()
		return nil, ErrSessionDestroyed
	}
	s.handles[h.id] = h
	s.mu.Unlock()

	// one handle listener lands back on this emitter
	s.GrowListenerCap(1)
	h.offSessionDestroyed = s.Once(EventSessionDestroyed, func(any) { h.signalDetach() })
	h.Once(EventHandleDetached, func(any) {
		s.mu.Lock()
		delete(s.handles, h.id)
		s.mu.Unlock()
		s.GrowListenerCap(-1)
	})

	s.logger.Info().Uint64("handle", h.id).Str("plugin", descriptor.Plugin).Msg("handle attached")
	return h, nil
}

// keepAliveLoop probes session liveness every kaInterval. Each probe
// races a deadline of half the period; a miss is fatal to the session
// but leaves the connection open for its other sessions.
func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.kaInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := s.kaInterval / 2
			ctx, cancel := context.WithTimeout(context.Background(), deadline)
			_, err := s.sendRequest(ctx, protocol.NewRequest(protocol.Keepalive), s, deadline)
			cancel()
			if err != nil {
				s.logger.Error().Err(err).Msg("keepalive failed, destroying session")
				s.signalDestroy()
				return
			}
			s.logger.Trace().Msg("keepalive ok")
		case <-s.kaStop:
			return
		}
	}
}

// dispatch routes one message delegated by the connection:
//  1. a sender routes to that handle;
//  2. a transaction routes to its owner: a handle of this session (the
//     trickle ack arrives with no sender), or the session itself for
//     definitive responses and keepalive acks;
//  3. a timeout verb means the server evicted us;
//  4. everything else is noise.
func (s *Session) dispatch(msg protocol.Message) {
	if msg.Sender != 0 {
		s.mu.Lock()
		h := s.handles[msg.Sender]
		s.mu.Unlock()
		if h == nil {
			// detached floods in during teardown, keep it out of the logs
			evt := s.logger.Warn()
			if msg.Janus == protocol.Detached {
				evt = s.logger.Debug()
			}
			evt.Uint64("sender", msg.Sender).Str("janus", msg.Janus).Msg("no handle for sender")
			return
		}
		h.dispatch(msg)
		return
	}

	if msg.Transaction != "" {
		owner, verb, ok := s.connection.tm.ownerOf(msg.Transaction)
		if ok {
			if h, isHandle := owner.(*Handle); isHandle && h.session == s {
				h.dispatch(msg)
				return
			}
			if sess, isSession := owner.(*Session); isSession && sess == s {
				if protocol.IsResponse(msg.Janus) || verb == protocol.Keepalive {
					if protocol.IsError(msg.Janus) {
						s.connection.tm.closeWithError(msg.Transaction, s, protocolError(msg))
					} else {
						s.connection.tm.closeWithSuccess(msg.Transaction, s, &msg)
					}
					return
				}
			}
		}
		s.logger.Error().Str("transaction", msg.Transaction).Str("janus", msg.Janus).Msg("unexpected response on session")
		return
	}

	if msg.Janus == protocol.Timeout {
		s.logger.Warn().Msg("session timed out on the server")
		s.signalDestroy()
		return
	}

	s.logger.Error().Str("janus", msg.Janus).Msg("unexpected message on session")
}

// signalDestroy runs the terminal teardown exactly once: stop the
// keepalive, drop the connection subscriptions, fail the session's
// transactions, detach the handles through the lifecycle event.
func (s *Session) signalDestroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.destroying = true
	s.handles = make(map[uint64]*Handle)
	s.mu.Unlock()

	close(s.kaStop)
	if s.offConnClosed != nil {
		s.offConnClosed()
	}
	if s.offConnError != nil {
		s.offConnError()
	}
	s.connection.tm.closeAllWithError(s, ErrSessionDestroyed)

	s.logger.Info().Msg("session destroyed")
	s.Emit(EventSessionDestroyed, SessionDestroyedEvent{ID: s.id})
	s.RemoveAll()
}

package janode

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/event"
	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
)

// PluginEvent is what a plugin's Handler derives from a raw message it
// recognized: an event name to publish on the handle's emitter and the
// payload to publish with it.
type PluginEvent struct {
	Event string
	Data  map[string]any
}

// Handler is the plugin hook. HandleMessage inspects a raw message and
// returns a PluginEvent when it recognizes a plugin-specific response or
// event, nil otherwise. Plugin packages implement this once per plugin;
// the base handle takes care of all the generic routing.
type Handler interface {
	HandleMessage(msg protocol.Message) *PluginEvent
}

// NewPluginEvent builds a PluginEvent for msg, pre-populating the data
// with the message's jsep and its e2ee flag when present.
func NewPluginEvent(msg protocol.Message, name string, data map[string]any) *PluginEvent {
	if data == nil {
		data = make(map[string]any)
	}
	if msg.JSEP != nil {
		data["jsep"] = msg.JSEP
		if e2ee, ok := msg.JSEP["e2ee"].(bool); ok {
			data["e2ee"] = e2ee
		}
	}
	return &PluginEvent{Event: name, Data: data}
}

// Handle is one plugin instance attached within a session. It relays
// plugin RPC and ICE messages and publishes the server's asynchronous
// notifications as HANDLE_* events.
type Handle struct {
	*event.Emitter

	session *Session
	id      uint64
	handler Handler
	logger  zerolog.Logger

	mu        sync.Mutex
	detaching bool
	detached  bool

	offSessionDestroyed func()
}

func (h *Handle) isRequestOwner() {}

func newHandle(s *Session, id uint64, handler Handler) *Handle {
	return &Handle{
		Emitter: event.NewEmitter(),
		session: s,
		id:      id,
		handler: handler,
		logger:  logging.New("handle").With().Uint64("session", s.id).Uint64("handle", id).Logger(),
	}
}

// ID is the server-assigned handle identifier.
func (h *Handle) ID() uint64 {
	return h.id
}

// Session returns the parent session.
func (h *Handle) Session() *Session {
	return h.session
}

// Detached reports whether the handle has been torn down. Once true it
// never becomes false again.
func (h *Handle) Detached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

// SendRequest sends one handle-owned request, stamping handle_id and
// session_id. A timeout > 0 bounds the wait for the response.
func (h *Handle) SendRequest(ctx context.Context, req protocol.Request, timeout time.Duration) (*protocol.Message, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	h.mu.Lock()
	detached := h.detached
	h.mu.Unlock()
	if detached {
		return nil, ErrHandleDetached
	}
	if _, ok := req["handle_id"]; !ok {
		req["handle_id"] = h.id
	}
	return h.session.sendRequest(ctx, req, h, timeout)
}

// Message sends a plugin RPC, optionally carrying a jsep offer/answer.
// It resolves with the plugin's definitive response, synchronous or
// asynchronous — acks along the way are absorbed by the routing.
func (h *Handle) Message(ctx context.Context, body map[string]any, jsep map[string]any) (*protocol.Message, error) {
	if body == nil {
		body = make(map[string]any)
	}
	req := protocol.NewRequest(protocol.MessageRequest)
	req["body"] = body
	if jsep != nil {
		req["jsep"] = jsep
	}
	return h.SendRequest(ctx, req, 0)
}

// Trickle relays ICE candidates: a slice is sent as candidates, a single
// object as candidate, and nil signals the end of candidates.
func (h *Handle) Trickle(ctx context.Context, candidate any) (*protocol.Message, error) {
	if candidate == nil {
		return h.TrickleComplete(ctx)
	}
	req := protocol.NewRequest(protocol.Trickle)
	if reflect.ValueOf(candidate).Kind() == reflect.Slice {
		req["candidates"] = candidate
	} else {
		req["candidate"] = candidate
	}
	return h.SendRequest(ctx, req, 0)
}

// TrickleComplete tells the server no more candidates are coming.
func (h *Handle) TrickleComplete(ctx context.Context) (*protocol.Message, error) {
	req := protocol.NewRequest(protocol.Trickle)
	req["candidate"] = map[string]any{"completed": true}
	return h.SendRequest(ctx, req, 0)
}

// Hangup tears down the handle's peer connection, leaving the handle
// attached.
func (h *Handle) Hangup(ctx context.Context) (*protocol.Message, error) {
	return h.SendRequest(ctx, protocol.NewRequest(protocol.Hangup), 0)
}

// Detach removes the handle from the server, then locally. The local
// teardown runs even when the server reports an error — a handle whose
// detach failed is of no further use — and the error is returned so the
// caller still sees what happened.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return ErrHandleDetached
	}
	if h.detaching {
		h.mu.Unlock()
		return ErrDetachInProgress
	}
	h.detaching = true
	h.mu.Unlock()

	_, err := h.SendRequest(ctx, protocol.NewRequest(protocol.Detach), 0)
	h.signalDetach()
	return err
}

func (h *Handle) handleMessage(msg protocol.Message) *PluginEvent {
	if h.handler == nil {
		return nil
	}
	return h.handler.HandleMessage(msg)
}

// dispatch routes one message delegated by the session. Transactions
// this handle owns settle on acks (trickle only) and definitive
// responses; everything else dispatches by verb, with plugin events
// offered to the Handler first.
func (h *Handle) dispatch(msg protocol.Message) {
	tm := h.session.connection.tm

	if msg.Transaction != "" {
		if owner, verb, ok := tm.ownerOf(msg.Transaction); ok {
			if hOwner, isHandle := owner.(*Handle); isHandle && hOwner == h {
				if protocol.IsAck(msg.Janus) {
					// only trickle resolves on its ack; for everything
					// else the ack is temporary
					if verb == protocol.Trickle {
						tm.closeWithSuccess(msg.Transaction, h, &msg)
					}
					return
				}
				if protocol.IsResponse(msg.Janus) {
					switch {
					case protocol.IsError(msg.Janus):
						tm.closeWithError(msg.Transaction, h, protocolError(msg))
					case verb == protocol.Hangup || verb == protocol.Detach:
						tm.closeWithSuccess(msg.Transaction, h, &msg)
					default:
						if pe := h.handleMessage(msg); pe == nil {
							h.logger.Debug().Str("janus", msg.Janus).Msg("response not recognized by plugin")
						}
						tm.closeWithSuccess(msg.Transaction, h, &msg)
					}
					return
				}
				// an owned transaction with an async verb (a plugin
				// event answering a message request) continues below
			}
		}
	}

	switch msg.Janus {
	case protocol.Event:
		pe := h.handleMessage(msg)
		if pe == nil {
			h.logger.Warn().Str("transaction", msg.Transaction).Msg("unmanaged plugin event")
			tm.closeWithError(msg.Transaction, h, ErrUnmanagedEvent)
			return
		}
		// resolves a pending message request; a no-op for unsolicited events
		tm.closeWithSuccess(msg.Transaction, h, &msg)
		if pe.Event != "" {
			h.Emit(pe.Event, pe.Data)
		}
	case protocol.Detached:
		h.signalDetach()
	case protocol.WebRTCUp:
		h.Emit(EventHandleWebRTCUp, nil)
	case protocol.Hangup:
		h.Emit(EventHandleHangup, HangupEvent{Reason: msg.Reason})
	case protocol.ICEFailed:
		h.Emit(EventHandleICEFailed, nil)
	case protocol.Media:
		receiving := msg.Receiving != nil && *msg.Receiving
		h.Emit(EventHandleMedia, MediaEvent{
			Type:      msg.Type,
			Receiving: receiving,
			Mid:       msg.Mid,
			Substream: msg.Substream,
			Seconds:   msg.Seconds,
		})
	case protocol.SlowLink:
		uplink := msg.Uplink != nil && *msg.Uplink
		lost := 0
		if msg.Lost != nil {
			lost = *msg.Lost
		}
		h.Emit(EventHandleSlowLink, SlowLinkEvent{
			Uplink: uplink,
			Media:  msg.Media,
			Mid:    msg.Mid,
			Lost:   lost,
		})
	case protocol.Trickle:
		if msg.Candidate == nil {
			h.logger.Warn().Msg("trickle without a candidate")
			return
		}
		if msg.Candidate.Completed {
			h.Emit(EventHandleTrickle, TrickleEvent{Completed: true})
		} else {
			h.Emit(EventHandleTrickle, TrickleEvent{
				SDPMid:        msg.Candidate.SDPMid,
				SDPMLineIndex: msg.Candidate.SDPMLineIndex,
				Candidate:     msg.Candidate.Candidate,
			})
		}
	default:
		h.logger.Warn().Str("janus", msg.Janus).Msg("unknown message for handle")
	}
}

// signalDetach runs the terminal teardown exactly once.
func (h *Handle) signalDetach() {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return
	}
	h.detached = true
	h.detaching = true
	h.mu.Unlock()

	if h.offSessionDestroyed != nil {
		h.offSessionDestroyed()
	}
	h.session.connection.tm.closeAllWithError(h, ErrHandleDetached)

	h.logger.Info().Msg("handle detached")
	h.Emit(EventHandleDetached, HandleDetachedEvent{ID: h.id})
	h.RemoveAll()
}

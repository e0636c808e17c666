package janode

// Event names published on the connection, session and handle emitters.
const (
	EventConnectionClosed = "connection_closed"
	EventConnectionError  = "connection_error"
	EventSessionDestroyed = "session_destroyed"
	EventHandleDetached   = "handle_detached"
	EventHandleWebRTCUp   = "handle_webrtcup"
	EventHandleHangup     = "handle_hangup"
	EventHandleMedia      = "handle_media"
	EventHandleSlowLink   = "handle_slowlink"
	EventHandleTrickle    = "handle_trickle"
	EventHandleICEFailed  = "handle_ice_failed"
)

// SessionDestroyedEvent is the payload of EventSessionDestroyed.
type SessionDestroyedEvent struct {
	ID uint64
}

// HandleDetachedEvent is the payload of EventHandleDetached.
type HandleDetachedEvent struct {
	ID uint64
}

// HangupEvent is the payload of EventHandleHangup.
type HangupEvent struct {
	Reason string
}

// MediaEvent is the payload of EventHandleMedia. Substream and Seconds
// are nil when the server omitted them.
type MediaEvent struct {
	Type      string
	Receiving bool
	Mid       string
	Substream *int
	Seconds   *int
}

// SlowLinkEvent is the payload of EventHandleSlowLink.
type SlowLinkEvent struct {
	Uplink bool
	Media  string
	Mid    string
	Lost   int
}

// TrickleEvent is the payload of EventHandleTrickle: either one remote
// candidate or the completed marker.
type TrickleEvent struct {
	Completed     bool
	SDPMid        string
	SDPMLineIndex int
	Candidate     string
}

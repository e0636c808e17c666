package janode

import "errors"

// Lifecycle and transaction errors. Checked with errors.Is; server-side
// protocol errors are *protocol.ErrorData and render as "<code> <reason>".
var (
	ErrConnectionClosed     = errors.New("connection closed")
	ErrSessionDestroyed     = errors.New("session destroyed")
	ErrDestroyInProgress    = errors.New("session destroy already in progress")
	ErrHandleDetached       = errors.New("handle detached")
	ErrDetachInProgress     = errors.New("handle detach already in progress")
	ErrTransactionTimeout   = errors.New("transaction timed out")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrUnmanagedEvent       = errors.New("unmanaged event")
	ErrInvalidRequest       = errors.New("request must be an object")
	ErrMissingPlugin        = errors.New("plugin identifier is required")
	ErrMissingSessionID     = errors.New("session id is required")
	ErrMissingHandleID      = errors.New("handle id is required")
	ErrMissingPcapTarget    = errors.New("pcap folder and filename are required")
	ErrUnexpectedResponse   = errors.New("unexpected response")
)

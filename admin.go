package janode

import (
	"context"
	"strings"

	"github.com/PedroDosS/janode/protocol"
)

// Admin API. These require a connection opened with IsAdmin set: the
// transport speaks the admin subprotocol and requests carry admin_secret
// instead of apisecret. Each call validates its arguments locally before
// touching the wire and resolves with the raw success message.

// ListSessions lists the session ids alive on the server.
func (c *Connection) ListSessions(ctx context.Context) (*protocol.Message, error) {
	return c.SendRequest(ctx, protocol.NewRequest(protocol.ListSessions))
}

// ListHandles lists the handle ids attached within one session.
func (c *Connection) ListHandles(ctx context.Context, sessionID uint64) (*protocol.Message, error) {
	if sessionID == 0 {
		return nil, ErrMissingSessionID
	}
	req := protocol.NewRequest(protocol.ListHandles)
	req["session_id"] = sessionID
	return c.SendRequest(ctx, req)
}

// HandleInfo returns the server's full state dump for one handle.
func (c *Connection) HandleInfo(ctx context.Context, sessionID, handleID uint64) (*protocol.Message, error) {
	if sessionID == 0 {
		return nil, ErrMissingSessionID
	}
	if handleID == 0 {
		return nil, ErrMissingHandleID
	}
	req := protocol.NewRequest(protocol.HandleInfo)
	req["session_id"] = sessionID
	req["handle_id"] = handleID
	return c.SendRequest(ctx, req)
}

// StartPcap starts a packet capture of one handle into folder/filename
// on the server. truncate > 0 caps the captured bytes per packet.
func (c *Connection) StartPcap(ctx context.Context, sessionID, handleID uint64, folder, filename string, truncate int) (*protocol.Message, error) {
	if sessionID == 0 {
		return nil, ErrMissingSessionID
	}
	if handleID == 0 {
		return nil, ErrMissingHandleID
	}
	if strings.TrimSpace(folder) == "" || strings.TrimSpace(filename) == "" {
		return nil, ErrMissingPcapTarget
	}
	req := protocol.NewRequest(protocol.StartPcap)
	req["session_id"] = sessionID
	req["handle_id"] = handleID
	req["folder"] = folder
	req["filename"] = filename
	if truncate > 0 {
		req["truncate"] = truncate
	}
	return c.SendRequest(ctx, req)
}

// StopPcap stops a running packet capture.
func (c *Connection) StopPcap(ctx context.Context, sessionID, handleID uint64) (*protocol.Message, error) {
	if sessionID == 0 {
		return nil, ErrMissingSessionID
	}
	if handleID == 0 {
		return nil, ErrMissingHandleID
	}
	req := protocol.NewRequest(protocol.StopPcap)
	req["session_id"] = sessionID
	req["handle_id"] = handleID
	return c.SendRequest(ctx, req)
}

// Package janode is a client adapter for the Janus WebRTC signaling
// server. It drives the JSON protocol over a WebSocket or unix datagram
// transport and models the server's three-level hierarchy: one Connection
// multiplexes Sessions, each session multiplexes plugin Handles, and one
// shared transaction table pairs every outbound request with its
// responses.
//
// The package only relays signaling: media, SDP parsing and ICE belong
// to the application and its WebRTC stack.
package janode

import (
	"context"
	"net/url"

	"github.com/PedroDosS/janode/config"
	"github.com/PedroDosS/janode/transport"
	"github.com/PedroDosS/janode/transport/unixdgram"
	"github.com/PedroDosS/janode/transport/websocket"
)

// Connect opens a connection to the configured server, walking the
// address list with retries, and returns it ready for Create and the
// admin API. The transport is chosen by the URL scheme of the first
// address: ws, wss, ws+unix and wss+unix select WebSocket, file selects
// unix datagrams.
func Connect(ctx context.Context, cfg config.Config) (*Connection, error) {
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := config.NewAddressPool(cfg.Address)
	if err != nil {
		return nil, err
	}

	c := newConnection(&cfg, pool, newAdapter(&cfg, pool))
	if err := c.open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newAdapter(cfg *config.Config, pool *config.AddressPool) transport.Adapter {
	scheme := ""
	if u, err := url.Parse(cfg.Address[0].URL); err == nil {
		scheme = u.Scheme
	}
	switch scheme {
	case "ws", "wss", "ws+unix", "wss+unix":
		return websocket.New(cfg, pool)
	case "file":
		return unixdgram.New(cfg, pool)
	default:
		return &transport.Unsupported{Scheme: scheme}
	}
}

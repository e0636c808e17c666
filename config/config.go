// Package config holds the connection configuration: the ordered list of
// server addresses, retry policy, and the circular iterator the transport
// walks on reconnect.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Defaults applied by WithDefaults.
const (
	DefaultRetryTimeSecs    = 10
	DefaultMaxRetries       = 5
	DefaultHandshakeTimeout = 5 * time.Second
)

var ErrNoAddresses = errors.New("config: at least one server address is required")

// ServerAddress is one endpoint of a Janus server plus the credentials
// stamped on every request sent to it.
type ServerAddress struct {
	URL       string `toml:"url"`
	APISecret string `toml:"apisecret"`
	Token     string `toml:"token"`
}

// Config describes one connection. The zero value is not usable — call
// WithDefaults and Validate, or go through Load.
type Config struct {
	// Address is the ordered, non-empty list of endpoints. The transport
	// walks it circularly when opening fails.
	Address []ServerAddress `toml:"address"`

	// RetryTimeSecs is the wait between open attempts, in seconds.
	// Zero means unset (the default applies); negative means no wait.
	RetryTimeSecs int `toml:"retry_time_secs"`

	// MaxRetries bounds the open attempts: maxRetries+1 in total.
	MaxRetries int `toml:"max_retries"`

	// IsAdmin switches the connection to the admin API: admin subprotocol
	// and admin_secret instead of apisecret.
	IsAdmin bool `toml:"is_admin"`

	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration `toml:"-"`

	// HandshakeTimeoutMS is the file-facing form of HandshakeTimeout.
	HandshakeTimeoutMS int `toml:"handshake_timeout_ms"`

	// DebugTx enables periodic transaction-table size logging, useful for
	// spotting leaked transactions. Normally set by the --debug-tx flag.
	DebugTx bool `toml:"-"`
}

// WithDefaults fills unset fields and returns the config for chaining.
func (c *Config) WithDefaults() *Config {
	if c.RetryTimeSecs == 0 {
		c.RetryTimeSecs = DefaultRetryTimeSecs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.HandshakeTimeout == 0 {
		if c.HandshakeTimeoutMS > 0 {
			c.HandshakeTimeout = time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
		} else {
			c.HandshakeTimeout = DefaultHandshakeTimeout
		}
	}
	return c
}

// Validate checks the invariants: a non-empty address list where every
// entry has a non-empty url.
func (c *Config) Validate() error {
	if len(c.Address) == 0 {
		return ErrNoAddresses
	}
	for i, addr := range c.Address {
		if strings.TrimSpace(addr.URL) == "" {
			return fmt.Errorf("config: address[%d] has an empty url", i)
		}
	}
	return nil
}

// RetryTime returns the retry wait as a duration.
func (c *Config) RetryTime() time.Duration {
	if c.RetryTimeSecs < 0 {
		return 0
	}
	return time.Duration(c.RetryTimeSecs) * time.Second
}

// AddressPool is the circular iterator over the configured addresses.
// The transport advances it between failed open attempts; the connection
// reads Current to stamp the secret of the endpoint actually in use.
// Both run concurrently, hence the mutex.
type AddressPool struct {
	mu    sync.Mutex
	addrs []ServerAddress
	idx   int
}

// NewAddressPool builds a pool over the given addresses.
func NewAddressPool(addrs []ServerAddress) (*AddressPool, error) {
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}
	pool := &AddressPool{addrs: make([]ServerAddress, len(addrs))}
	copy(pool.addrs, addrs)
	return pool, nil
}

// Current returns the address selected for the next open attempt.
func (p *AddressPool) Current() ServerAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addrs[p.idx]
}

// Next advances the iterator, wrapping modulo the list length, and
// returns the new current address.
func (p *AddressPool) Next() ServerAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.addrs)
	return p.addrs[p.idx]
}

// Len returns the number of configured addresses.
func (p *AddressPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.addrs)
}

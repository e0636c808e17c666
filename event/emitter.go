// Package event is a small typed publish/subscribe emitter. Connections,
// sessions and handles embed one and publish their lifecycle events on
// it; subscribers register plain callbacks, optionally one-shot.
package event

import (
	"sync"

	"github.com/PedroDosS/janode/logging"
)

// DefaultListenerCap is the subscriber count above which On logs a
// warning. Parent objects grow the cap when they hand out child objects
// that subscribe back, and shrink it when those children go away.
const DefaultListenerCap = 10

// Listener receives the event payload.
type Listener = func(payload any)

type registration struct {
	fn   Listener
	once bool
}

// Emitter dispatches payloads to subscribers by event name. Callbacks run
// synchronously on the emitting goroutine, in subscription order, outside
// the emitter lock so they may subscribe, unsubscribe or emit reentrantly.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	cap       int
	warned    bool
}

// NewEmitter returns an emitter with the default listener cap.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[string][]*registration),
		cap:       DefaultListenerCap,
	}
}

// On subscribes fn to the named event and returns its unsubscribe func.
// Unsubscribing twice is harmless.
func (e *Emitter) On(name string, fn Listener) func() {
	return e.subscribe(name, fn, false)
}

// Once subscribes fn for a single delivery. The subscription is removed
// before fn runs, so a reentrant emit cannot deliver it twice.
func (e *Emitter) Once(name string, fn Listener) func() {
	return e.subscribe(name, fn, true)
}

func (e *Emitter) subscribe(name string, fn Listener, once bool) func() {
	reg := &registration{fn: fn, once: once}

	e.mu.Lock()
	e.listeners[name] = append(e.listeners[name], reg)
	total := 0
	for _, regs := range e.listeners {
		total += len(regs)
	}
	warn := total > e.cap && !e.warned
	if warn {
		e.warned = true
	}
	e.mu.Unlock()

	if warn {
		logger := logging.New("event")
		logger.Warn().
			Int("listeners", total).
			Str("event", name).
			Msg("listener count exceeds cap, possible subscription leak")
	}

	return func() { e.remove(name, reg) }
}

func (e *Emitter) remove(name string, reg *registration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.listeners[name]
	for i, r := range regs {
		if r == reg {
			e.listeners[name] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// Emit delivers payload to every subscriber of name.
func (e *Emitter) Emit(name string, payload any) {
	e.mu.Lock()
	regs := e.listeners[name]
	fire := make([]Listener, 0, len(regs))
	kept := regs[:0:0]
	for _, reg := range regs {
		fire = append(fire, reg.fn)
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, name)
	} else {
		e.listeners[name] = kept
	}
	e.mu.Unlock()

	for _, fn := range fire {
		fn(payload)
	}
}

// RemoveAll drops every subscription. Called during teardown so no
// lifecycle event can be delivered after the terminal one.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]*registration)
}

// GrowListenerCap adjusts the warning threshold by delta, which may be
// negative. The cap never drops below the default.
func (e *Emitter) GrowListenerCap(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cap += delta
	if e.cap < DefaultListenerCap {
		e.cap = DefaultListenerCap
	}
}

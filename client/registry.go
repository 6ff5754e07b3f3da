package client

import (
	"sync"
)

// SELF is the reserved channel name under which handlers for messages sent
// directly to this client are registered.
const SELF = "SELF"

// Registry maps channel names to the handlers subscribed to them. It is
// shared between the application, which registers handlers, and the
// connection's read loop, which looks them up for every inbound event.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*MultiHandler

	// order remembers first registration order so resubscription after a
	// reconnect is deterministic.
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*MultiHandler),
	}
}

// Register adds handler to channel. created is true when this is the first
// handler on the channel. Adding the same handler twice means it is invoked
// twice.
func (r *Registry) Register(channel string, handler Handler) (created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if multi, ok := r.channels[channel]; ok {
		multi.Add(handler)
		return false
	}

	r.channels[channel] = NewMultiHandler(handler)
	r.order = append(r.order, channel)

	return true
}

// RegisterSelf registers handler for messages addressed to this client.
func (r *Registry) RegisterSelf(handler Handler) {
	r.Register(SELF, handler)
}

// Unregister is not supported yet.
func (r *Registry) Unregister(channel string) error {
	return ErrNotImplemented
}

// Get returns the handler registered on exactly channel.
func (r *Registry) Get(channel string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	multi, ok := r.channels[channel]
	if !ok {
		return nil, false
	}

	return multi, true
}

// Resolve finds the handler for an event on channel. A client receives
// messages addressed to its own name on its SELF handler unless a handler
// was registered on the literal name.
func (r *Registry) Resolve(channel, ownName string) (Handler, bool) {
	if handler, ok := r.Get(channel); ok {
		return handler, true
	}

	if channel != "" && channel == ownName {
		return r.Get(SELF)
	}

	return nil, false
}

// Channels returns the server-side channels with handlers, in first
// registration order. SELF is not a server channel and is left out.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.order))
	for _, channel := range r.order {
		if channel == SELF {
			continue
		}
		channels = append(channels, channel)
	}

	return channels
}

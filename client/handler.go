package client

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Handler receives the events published on a channel.
type Handler interface {
	Receive(event *Event) error
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(event *Event) error

func (f HandlerFunc) Receive(event *Event) error {
	return f(event)
}

// MultiHandler fans a single event out to every handler added to it, in the
// order they were added.
type MultiHandler struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewMultiHandler(handlers ...Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Add(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, handler)
}

func (m *MultiHandler) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.handlers)
}

// Receive invokes every handler, even when an earlier one failed or
// panicked. The returned error combines all failures.
func (m *MultiHandler) Receive(event *Event) (err error) {
	m.mu.RLock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for i, handler := range handlers {
		if herr := receiveIsolated(handler, event); herr != nil {
			err = multierr.Append(err, fmt.Errorf("handler %d on '%s': %w", i, event.Channel, herr))
		}
	}

	return err
}

func receiveIsolated(handler Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return handler.Receive(event)
}

var _ Handler = HandlerFunc(nil)
var _ Handler = (*MultiHandler)(nil)

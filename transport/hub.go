package transport

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/luma/oocsi/protocol"
)

var (
	ErrNameTaken   = errors.New("name already exists")
	ErrInvalidName = errors.New("invalid name")
)

// hub is the state shared by every connection of a server: who is connected
// and who listens on which channel.
type hub struct {
	mu            sync.RWMutex
	clients       map[string]*TCPConn
	subscriptions map[string]map[*TCPConn]struct{}
}

func newHub() *hub {
	return &hub{
		clients:       make(map[string]*TCPConn),
		subscriptions: make(map[string]map[*TCPConn]struct{}),
	}
}

func (h *hub) join(name string, conn *TCPConn) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") {
		return ErrInvalidName
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[name]; ok {
		return ErrNameTaken
	}

	h.clients[name] = conn
	return nil
}

// leave forgets conn and all of its subscriptions.
func (h *hub) leave(conn *TCPConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[conn.Name()]; ok && current == conn {
		delete(h.clients, conn.Name())
	}

	for channel, subscribers := range h.subscriptions {
		delete(subscribers, conn)

		if len(subscribers) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

func (h *hub) subscribe(channel string, conn *TCPConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.subscriptions[channel]
	if !ok {
		subscribers = make(map[*TCPConn]struct{})
		h.subscriptions[channel] = subscribers
	}

	subscribers[conn] = struct{}{}
}

func (h *hub) unsubscribe(channel string, conn *TCPConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.subscriptions[channel]
	if !ok {
		return
	}

	delete(subscribers, conn)

	if len(subscribers) == 0 {
		delete(h.subscriptions, channel)
	}
}

// publish delivers data to everyone subscribed to channel and to the client
// named channel, once each.
func (h *hub) publish(channel, sender string, data map[string]interface{}) (delivered int, err error) {
	line, err := protocol.EncodeEvent(channel, sender, time.Now().UnixNano()/int64(time.Millisecond), data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	recipients := make(map[*TCPConn]struct{}, len(h.subscriptions[channel])+1)
	for conn := range h.subscriptions[channel] {
		recipients[conn] = struct{}{}
	}

	if conn, ok := h.clients[channel]; ok {
		recipients[conn] = struct{}{}
	}
	h.mu.RUnlock()

	for conn := range recipients {
		if werr := conn.WriteLine(string(line)); werr != nil {
			err = multierr.Append(err, werr)
			continue
		}

		delivered++
	}

	return delivered, err
}

// Clients returns the names of all connected clients, sorted.
func (h *hub) Clients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.clients))
	for name := range h.clients {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Channels returns every channel with at least one subscriber, sorted.
func (h *hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make([]string, 0, len(h.subscriptions))
	for channel := range h.subscriptions {
		channels = append(channels, channel)
	}

	sort.Strings(channels)
	return channels
}

package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/oocsi/discovery"
	"github.com/luma/oocsi/internal/meta"
	"github.com/luma/oocsi/protocol"
)

// NamePrefix starts every generated client name.
const NamePrefix = "OOCSIGo_"

// Client is an OOCSI client. Handlers and subscriptions live on the Client
// and survive reconnects; each Connect starts a fresh Conn that replays them.
type Client struct {
	name string
	opts Options

	registry *Registry
	queue    *PollQueue

	mu   sync.Mutex
	conn *Conn

	// awaitMu allows a single synchronous request in flight, as replies are
	// matched to requests by arrival order only.
	awaitMu sync.Mutex

	log *zap.Logger
}

func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	name := opts.Name
	if name == "" {
		name = GenerateName()
	}

	if !validName(name) {
		return nil, fmt.Errorf("'%s': %w", name, ErrInvalidName)
	}

	opts.Name = name
	opts.Log = opts.Log.Named("oocsi").With(zap.String("client", name))

	c := &Client{
		name:     name,
		opts:     opts,
		registry: NewRegistry(),
		queue:    NewPollQueue(opts.PollQueueSize),
		log:      opts.Log,
	}

	c.log.Info("OOCSI client started", zap.String("version", meta.GetInfo().Version))

	return c, nil
}

// GenerateName returns a random client name.
func GenerateName() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return NamePrefix + id[:8]
}

func (c *Client) Name() string {
	return c.name
}

// Connect starts connecting to host:port in the background and blocks until
// the first round of attempts either connected or ran out of attempts, or
// until ctx is done. Any previous connection is disconnected first. The
// client keeps reconnecting afterwards when Options.Reconnect is set.
func (c *Client) Connect(ctx context.Context, host string, port int) bool {
	if port <= 0 {
		port = protocol.DefaultPort
	}

	c.mu.Lock()
	conn := newConn(c.name, host, port, c.registry, c.queue, c.opts)
	previous := c.conn
	c.conn = conn
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Disconnect(); err != nil {
			c.log.Debug("Previous connection did not close cleanly", zap.Error(err))
		}
	}

	c.log.Info("Connecting", zap.String("host", host), zap.Int("port", port))
	conn.start()

	select {
	case connected := <-conn.Outcome():
		return connected

	case <-ctx.Done():
		return conn.IsConnected()
	}
}

// ConnectHost connects to host on the default OOCSI port.
func (c *Client) ConnectHost(ctx context.Context, host string) bool {
	return c.Connect(ctx, host, protocol.DefaultPort)
}

// ConnectMulticast listens for a server announcement and connects to the
// first server found. It returns false when no server announced itself.
func (c *Client) ConnectMulticast(ctx context.Context, opts discovery.Options) bool {
	if opts.Log == nil {
		opts.Log = c.log
	}

	result, ok := discovery.Lookup(ctx, opts)
	if !ok {
		c.log.Warn("No OOCSI server announced itself")
		return false
	}

	return c.Connect(ctx, result.Host, result.Port)
}

// Disconnect says goodbye to the server and stops reconnecting. It is a no-op
// when the client never connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.log.Info("Disconnecting")
	return conn.Disconnect()
}

// Kill drops the connection without telling the server, which makes the
// client reconnect when reconnection is enabled.
func (c *Client) Kill() error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	return conn.Kill()
}

func (c *Client) SetReconnect(reconnect bool) {
	c.mu.Lock()
	c.opts.Reconnect = reconnect
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.SetReconnect(reconnect)
	}
}

func (c *Client) IsConnected() bool {
	conn := c.current()
	return conn != nil && conn.IsConnected()
}

func (c *Client) IsReconnecting() bool {
	conn := c.current()
	return conn != nil && conn.IsReconnecting()
}

func (c *Client) State() State {
	conn := c.current()
	if conn == nil {
		return Idle
	}

	return conn.State()
}

// RemainingAttempts reports what is left of the current session's attempt
// budget.
func (c *Client) RemainingAttempts() int {
	conn := c.current()
	if conn == nil {
		return 0
	}

	return conn.RemainingAttempts()
}

// Subscribe adds handler to channel. The server is only told about the first
// handler on a channel; later ones share that subscription.
func (c *Client) Subscribe(channel string, handler Handler) error {
	if !validName(channel) {
		return fmt.Errorf("'%s': %w", channel, ErrInvalidChannel)
	}

	if conn := c.current(); conn != nil {
		conn.Subscribe(channel, handler)
	} else {
		c.registry.Register(channel, handler)
	}

	c.log.Debug("Subscribed", zap.String("channel", channel))
	return nil
}

// SubscribeToSelf adds handler for messages sent directly to this client.
func (c *Client) SubscribeToSelf(handler Handler) {
	c.registry.RegisterSelf(handler)
}

// Unsubscribe is not supported yet.
func (c *Client) Unsubscribe(channel string) error {
	return c.registry.Unregister(channel)
}

// Register would attach a responder for calls named callName. Calls are not
// supported yet.
func (c *Client) Register(callName string, responder Handler) error {
	return ErrNotImplemented
}

// Unregister is not supported yet.
func (c *Client) Unregister(callName string) error {
	return ErrNotImplemented
}

// Send publishes a raw message on channel. It never fails: messages sent
// while disconnected are dropped, as are invalid channel names and messages
// that would not fit on a single line.
func (c *Client) Send(channel, message string) {
	if !validName(channel) {
		c.log.Debug("Invalid channel, dropping message", zap.String("channel", channel))
		return
	}

	if strings.ContainsAny(message, "\r\n") {
		c.log.Debug("Message contains a line break, dropping it", zap.String("channel", channel))
		return
	}

	conn := c.current()
	if conn == nil {
		c.log.Debug("Not connected, dropping message", zap.String("channel", channel))
		return
	}

	conn.SendRaw(channel, message)
}

// SendData publishes data on channel as a JSON object.
func (c *Client) SendData(channel string, data map[string]interface{}) error {
	payload, err := protocol.EncodePayload(data)
	if err != nil {
		return err
	}

	c.Send(channel, string(payload))
	return nil
}

// SendAndAwait sends command and waits up to timeout for the next reply line.
// Only one request may be in flight, concurrent callers wait their turn.
func (c *Client) SendAndAwait(command string, timeout time.Duration) (string, bool) {
	c.awaitMu.Lock()
	defer c.awaitMu.Unlock()

	c.queue.Clear()

	if conn := c.current(); conn != nil {
		conn.Send(command)
	}

	reply, ok := c.queue.Await(timeout)
	if !ok {
		c.log.Debug("No reply", zap.String("command", command), zap.Duration("timeout", timeout))
	}

	return reply, ok
}

// ListClients asks the server which clients are connected.
func (c *Client) ListClients(timeout time.Duration) (string, bool) {
	return c.SendAndAwait(string(protocol.CLIENTS), timeout)
}

// ListChannels asks the server which channels exist.
func (c *Client) ListChannels(timeout time.Duration) (string, bool) {
	return c.SendAndAwait(string(protocol.CHANNELS), timeout)
}

func (c *Client) current() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

func validName(name string) bool {
	return strings.TrimSpace(name) != "" && !strings.ContainsAny(name, " \t\r\n")
}

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/oocsi/protocol"
)

// State is a step in the lifecycle of a Conn.
type State int32

const (
	Idle State = iota
	Connecting
	Handshaking
	Active
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	errHandshake = errors.New("handshake failed")
	errStopped   = errors.New("connection was relinquished")
)

type delivery struct {
	handler Handler
	event   *Event
}

// Conn is a single logical session with one server. It owns the socket and
// drives the connect, handshake, read and reconnect cycle on its own
// goroutine until it is disconnected, after which it cannot be reused.
type Conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	name string
	addr string
	opts Options

	registry *Registry
	queue    *PollQueue

	// mu guards the socket and the connection flags. Every write holds it,
	// so a reconnect can never swap the socket out from under a write.
	mu              sync.Mutex
	conn            net.Conn
	state           State
	connected       bool
	shouldReconnect bool
	remaining       int
	relinquished    bool

	// reader is only touched by the run goroutine.
	reader *protocol.LineReader

	outcome     chan bool
	outcomeOnce sync.Once

	deliveries chan delivery
	done       chan struct{}

	log *zap.Logger
}

func newConn(
	name string,
	host string,
	port int,
	registry *Registry,
	queue *PollQueue,
	opts Options,
) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	return &Conn{
		ctx:             ctx,
		cancel:          cancel,
		name:            name,
		addr:            addr,
		opts:            opts,
		registry:        registry,
		queue:           queue,
		state:           Idle,
		shouldReconnect: opts.Reconnect,
		outcome:         make(chan bool, 1),
		deliveries:      make(chan delivery, opts.DispatchBuffer),
		done:            make(chan struct{}),
		log:             opts.Log.Named("conn").With(zap.String("addr", addr)),
	}
}

// start launches the connection and dispatch goroutines.
func (c *Conn) start() {
	go c.dispatchLoop()
	go c.run()
}

// Outcome yields once: true when the first session connected, false when it
// ran out of attempts or the connection was relinquished first.
func (c *Conn) Outcome() <-chan bool {
	return c.outcome
}

// Done is closed once the connection goroutine has exited for good.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// IsReconnecting is true while the connection is down but will be retried.
func (c *Conn) IsReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shouldReconnect && !c.connected && !c.relinquished
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RemainingAttempts is what is left of the current session's attempt budget.
func (c *Conn) RemainingAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remaining
}

func (c *Conn) SetReconnect(reconnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.relinquished {
		c.shouldReconnect = reconnect
	}
}

// Send writes a single line if the connection is active. Failures are only
// logged: sending is fire and forget.
func (c *Conn) Send(line string) {
	c.send(line, func(w io.Writer) error {
		return protocol.WriteLine(w, line)
	})
}

// SendRaw publishes message on channel. Both must already be known to fit on
// one line.
func (c *Conn) SendRaw(channel, message string) {
	c.send(string(protocol.SENDRAW), func(w io.Writer) error {
		return protocol.WriteSendRaw(w, channel, message)
	})
}

func (c *Conn) ack() {
	c.send(string(protocol.ACK), protocol.WriteAck)
}

func (c *Conn) send(what string, write func(w io.Writer) error) {
	if err := c.write(write); err != nil {
		c.log.Debug("Dropped outgoing line", zap.String("line", what), zap.Error(err))
	}
}

// Subscribe registers handler and, when this is the first handler on the
// channel and we are connected, tells the server. Registration and the
// subscribe command happen under the connection lock so they cannot
// interleave with the resubscription that follows a handshake.
func (c *Conn) Subscribe(channel string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	created := c.registry.Register(channel, handler)
	if !created || !c.connected {
		return
	}

	if err := c.writeLocked(subscribeTo(channel)); err != nil {
		c.log.Warn("Failed to subscribe", zap.String("channel", channel), zap.Error(err))
	}
}

// Kill drops the socket without saying goodbye, as if the network went away.
// The connection reconnects if it is configured to.
func (c *Conn) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	return c.conn.Close()
}

// Disconnect ends the connection for good. It sends a best effort quit,
// closes the socket and waits for the connection goroutine to exit. Events
// still waiting for their handlers are dropped. A handler that is already
// running is not waited for, so handlers may call Disconnect themselves.
func (c *Conn) Disconnect() (err error) {
	c.mu.Lock()
	c.shouldReconnect = false
	c.remaining = 0
	c.relinquished = true

	if c.conn != nil {
		if c.connected {
			err = multierr.Append(err, c.writeLocked(func(w io.Writer) error {
				return protocol.WriteCommand(w, protocol.QUIT)
			}))
		}

		err = multierr.Append(err, c.conn.Close())
		c.conn = nil
	}

	c.connected = false
	c.mu.Unlock()

	c.cancel()
	<-c.done

	return err
}

func (c *Conn) run() {
	log := c.log.Named("run")

	defer func() {
		if r := recover(); r != nil {
			log.Error("Connection goroutine panicked", zap.Any("panic", r), zap.Stack("stack"))
		}

		c.closeConn()
		c.relinquish()
		c.signalOutcome(false)

		close(c.deliveries)
		close(c.done)

		log.Info("Connection relinquished")
	}()

	for session := 1; ; session++ {
		if c.connectSession(session) {
			c.communicate()
			c.closeConn()

			if !c.keepGoing() {
				return
			}

			log.Info("Connection lost, reconnecting", zap.Duration("delay", c.opts.RetryDelay))

			if !c.sleep(c.opts.RetryDelay) {
				return
			}

			continue
		}

		c.signalOutcome(false)

		if !c.keepGoing() {
			log.Warn("Could not connect, giving up", zap.Int("session", session))
			return
		}

		log.Warn("Could not connect, backing off",
			zap.Int("session", session),
			zap.Duration("backoff", c.opts.SessionBackoff))

		if !c.sleep(c.opts.SessionBackoff) {
			return
		}
	}
}

// connectSession spends the attempt budget of one session trying to connect.
func (c *Conn) connectSession(session int) bool {
	log := c.log.Named("connect").With(zap.Int("session", session))

	c.mu.Lock()
	if c.relinquished {
		c.mu.Unlock()
		return false
	}
	c.remaining = c.opts.AttemptBudget
	c.mu.Unlock()

	for {
		if c.ctx.Err() != nil {
			return false
		}

		c.mu.Lock()
		if c.remaining <= 0 {
			c.mu.Unlock()
			return false
		}
		c.remaining--
		attempt := c.opts.AttemptBudget - c.remaining
		c.mu.Unlock()

		err := c.attempt()
		if err == nil {
			log.Info("Connected", zap.Int("attempt", attempt), zap.String("name", c.name))
			return true
		}

		if errors.Is(err, errStopped) {
			return false
		}

		log.Warn("Connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		// The server answered, so trying again straight away is reasonable.
		if errors.Is(err, errHandshake) {
			continue
		}

		if !c.sleep(c.opts.RetryDelay) {
			return false
		}
	}
}

func (c *Conn) attempt() error {
	c.setState(Connecting)

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}

	conn, err := dialer.DialContext(c.ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			c.log.Debug("Failed to disable send coalescing", zap.Error(err))
		}
	}

	c.mu.Lock()
	if c.relinquished {
		c.mu.Unlock()
		conn.Close()
		return errStopped
	}
	c.conn = conn
	c.state = Handshaking
	c.mu.Unlock()

	c.reader = protocol.NewLineReader()

	rest, err := c.handshake(conn)
	if err != nil {
		c.closeConn()
		return fmt.Errorf("%w: %v", errHandshake, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		c.closeConn()
		return fmt.Errorf("%w: %v", errHandshake, err)
	}

	if !c.activate(conn) {
		return errStopped
	}

	c.signalOutcome(true)

	for _, line := range rest {
		c.route(line)
	}

	return nil
}

// handshake identifies us and waits for the welcome. Lines that arrived
// after the welcome in the same read are returned for routing.
func (c *Conn) handshake(conn net.Conn) ([]string, error) {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := protocol.WriteHandshake(conn, c.name); err != nil {
		return nil, err
	}

	welcome := protocol.Welcome(c.name)
	buf := make([]byte, protocol.ReadBufferSize)

	for {
		lines, err := c.reader.ReadLines(conn, buf)

		for i, line := range lines {
			if strings.Contains(line, welcome) {
				return lines[i+1:], nil
			}

			c.log.Debug("Unexpected line during handshake", zap.String("line", line))
		}

		if err != nil {
			return nil, err
		}
	}
}

// activate marks the connection active and replays every subscription, all
// under the lock so a concurrent Subscribe is sent exactly once.
func (c *Conn) activate(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.relinquished || c.conn != conn {
		return false
	}

	c.connected = true
	c.state = Active

	for _, channel := range c.registry.Channels() {
		if err := c.writeLocked(subscribeTo(channel)); err != nil {
			c.log.Warn("Failed to resubscribe", zap.String("channel", channel), zap.Error(err))
		}
	}

	return true
}

// communicate is the read loop of an active connection. It returns once the
// connection is closed, broken or has been quiet for too long.
func (c *Conn) communicate() {
	log := c.log.Named("readLoop")

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	buf := make([]byte, protocol.ReadBufferSize)
	lastData := time.Now()
	pinged := false

	for {
		deadline := lastData.Add(c.opts.ReadTimeout)
		if !pinged && !c.opts.DisablePing {
			deadline = lastData.Add(c.opts.PingAfter)
		}

		if err := conn.SetReadDeadline(deadline); err != nil {
			log.Info("Connection closed", zap.Error(err))
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			lastData = time.Now()
			pinged = false

			lines, ferr := c.reader.Feed(buf[:n])
			for _, line := range lines {
				c.route(line)
			}

			if ferr != nil {
				log.Warn("Discarded oversized line", zap.Error(ferr))
			}
		}

		if err == nil {
			continue
		}

		if isTimeout(err) {
			if !pinged && !c.opts.DisablePing && time.Since(lastData) < c.opts.ReadTimeout {
				c.send(string(protocol.PING), func(w io.Writer) error {
					return protocol.WriteCommand(w, protocol.PING)
				})
				pinged = true
				continue
			}

			log.Warn("Connection went quiet, closing", zap.Duration("quiet", time.Since(lastData)))
			return
		}

		if c.ctx.Err() != nil {
			return
		}

		log.Info("Connection closed", zap.Error(err))
		return
	}
}

// route classifies one line and acts on it.
func (c *Conn) route(line string) {
	frame, err := protocol.Decode(line)
	if err != nil {
		c.log.Debug("Dropping frame", zap.String("line", line), zap.Error(err))
		return
	}

	switch f := frame.(type) {
	case *protocol.EventFrame:
		c.deliver(f.Recipient, &Event{
			Channel:   f.Recipient,
			Sender:    f.Sender,
			Data:      f.Data,
			Timestamp: f.Timestamp,
		})

	case *protocol.ReplyLine:
		if !c.opts.DisablePing {
			c.queue.Push(f.Line)
			c.ack()
			return
		}

		if legacy, ok := f.Legacy(); ok {
			c.deliverLegacy(legacy)
			return
		}

		c.log.Debug("Dropping unrecognised line", zap.String("line", line))

	case *protocol.LegacyFrame:
		c.deliverLegacy(f)

	case protocol.KeepAlive:
		if f.Probe {
			c.ack()
		}
	}
}

func (c *Conn) deliverLegacy(f *protocol.LegacyFrame) {
	event := &Event{
		Channel:   f.Channel,
		Sender:    f.Sender,
		Timestamp: f.Timestamp,
	}

	if data, ok := protocol.ParsePayload(f.Data); ok {
		event.Data = data
	} else {
		event.Data = map[string]interface{}{}
		event.Raw = f.Data
	}

	c.deliver(f.Channel, event)
}

// deliver hands the event to the dispatch goroutine so slow handlers do not
// hold up the read loop.
func (c *Conn) deliver(channel string, event *Event) {
	handler, ok := c.registry.Resolve(channel, c.name)
	if !ok {
		c.log.Debug("No handler for channel, dropping event", zap.String("channel", channel))
		return
	}

	select {
	case c.deliveries <- delivery{handler: handler, event: event}:
	case <-c.ctx.Done():
	}
}

func (c *Conn) dispatchLoop() {
	log := c.log.Named("dispatch")

	for d := range c.deliveries {
		if c.ctx.Err() != nil {
			continue
		}

		if err := receiveIsolated(d.handler, d.event); err != nil {
			log.Warn("Handler failed",
				zap.String("channel", d.event.Channel),
				zap.String("sender", d.event.Sender),
				zap.Error(err))
		}
	}
}

func (c *Conn) write(write func(w io.Writer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}

	return c.writeLocked(write)
}

// writeLocked must be called with mu held.
func (c *Conn) writeLocked(write func(w io.Writer) error) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}

	return write(c.conn)
}

func subscribeTo(channel string) func(w io.Writer) error {
	return func(w io.Writer) error {
		return protocol.WriteSubscribe(w, channel)
	}
}

func (c *Conn) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !isClosedErr(err) {
			c.log.Debug("Connection did not close cleanly", zap.Error(err))
		}
		c.conn = nil
	}

	c.connected = false

	if !c.relinquished {
		c.state = Disconnected
	}
}

func (c *Conn) relinquish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.relinquished = true
	c.shouldReconnect = false
	c.connected = false
	c.state = Idle
}

func (c *Conn) keepGoing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shouldReconnect && !c.relinquished
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}

func (c *Conn) signalOutcome(connected bool) {
	c.outcomeOnce.Do(func() {
		c.outcome <- connected
	})
}

// sleep waits for d, returning false if the connection was relinquished in
// the meantime.
func (c *Conn) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

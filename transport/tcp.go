package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultWriteQueueSize = 127

// TCP is a small OOCSI server. It is what the command line tool serves and
// what the client is tested against.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	reuseport    bool
	numListeners int
	listeners    []*TCPListener

	hub *hub

	writeQueueSize int

	log   *zap.Logger
	trace bool
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners
	if numListeners < 1 || !options.Reuseport {
		numListeners = 1
	}

	writeQueueSize := options.WriteQueueSize
	if writeQueueSize < 1 {
		writeQueueSize = DefaultWriteQueueSize
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:           net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:      options.Reuseport,
		numListeners:   numListeners,
		listeners:      make([]*TCPListener, 0, numListeners),
		hub:            newHub(),
		writeQueueSize: writeQueueSize,
		trace:          options.Trace,
		log:            log,
	}
}

// Start binds every listener and starts accepting clients. Binding errors are
// returned; once Start returned the server is reachable on Addr.
func (t *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.log.Info("Starting tcp listeners", zap.Int("count", t.numListeners))

	for i := 0; i < t.numListeners; i++ {
		if err := t.startListener(ctx); err != nil {
			cancel()
			return multierr.Append(err, t.closeListeners())
		}
	}

	return nil
}

// Addr is the address the server is bound to.
func (t *TCP) Addr() net.Addr {
	if len(t.listeners) == 0 {
		return nil
	}

	return t.listeners[0].Addr()
}

// Port is the port the server is bound to, or zero before Start.
func (t *TCP) Port() int {
	if addr, ok := t.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// Clients returns the names of the connected clients, sorted.
func (t *TCP) Clients() []string {
	return t.hub.Clients()
}

// Channels returns the channels that have subscribers, sorted.
func (t *TCP) Channels() []string {
	return t.hub.Channels()
}

// Publish sends data to channel on behalf of sender, as if a client had sent
// it. It returns how many clients it was delivered to.
func (t *TCP) Publish(channel, sender string, data map[string]interface{}) (int, error) {
	return t.hub.publish(channel, sender, data)
}

func (t *TCP) startListener(ctx context.Context) error {
	addr := t.addr

	// Further listeners must share the port the first one was given.
	if len(t.listeners) > 0 {
		addr = t.listeners[0].Addr().String()
	}

	listener := NewTCPListener(
		ctx,
		t,
		t.log.Named("listener").With(zap.Int("listener", len(t.listeners))),
	)

	if err := listener.Bind(addr, t.reuseport); err != nil {
		return err
	}

	t.listeners = append(t.listeners, listener)

	t.stopWaiter.Add(1)
	go func() {
		defer t.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			t.log.Error("Failed to listen", zap.Error(err))
		}
	}()

	return nil
}

// Close immediately closes all listeners and client connections.
func (t *TCP) Close() error {
	t.log.Info("Stopping TCP server")

	if t.cancel != nil {
		t.cancel()
	}

	err := t.closeListeners()

	t.stopWaiter.Wait()
	t.log.Info("Listeners stopped")

	return err
}

func (t *TCP) closeListeners() (err error) {
	for _, listener := range t.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx    context.Context
	server *TCP

	listener net.Listener
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	loopWaiter  sync.WaitGroup
}

func NewTCPListener(ctx context.Context, server *TCP, log *zap.Logger) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

func (t *TCPListener) Bind(addr string, reuse bool) (err error) {
	if reuse {
		t.listener, err = reuseport.Listen("tcp", addr)
	} else {
		t.listener, err = net.Listen("tcp", addr)
	}

	return err
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting and drops every connection this listener accepted.
func (t *TCPListener) Close() (err error) {
	if cerr := t.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

func (t *TCPListener) Listen() error {
	go func() {
		<-t.ctx.Done()

		if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	defer func() {
		t.log.Info("Waiting for Read/Write loops to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// Closed while we were waiting for new connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.server.hub, t.server.writeQueueSize, t.server.trace, t.log.Named("conn"))
		t.addConn(tcpConn)

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

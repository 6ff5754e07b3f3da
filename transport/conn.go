package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/oocsi/protocol"
)

var (
	ErrConnClosed = errors.New("Connection is closed")
	ErrSlowClient = errors.New("Client is not keeping up, dropping line")
)

// TCPConn is one client connected to the server. Its read loop handles the
// client's commands, its write loop drains the lines queued for it.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	conn net.Conn
	hub  *hub

	mu   sync.Mutex
	name string

	writeQueue chan []byte

	log   *zap.Logger
	trace bool
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	hub *hub,
	writeQueueSize int,
	trace bool,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		hub:        hub,
		writeQueue: make(chan []byte, writeQueueSize),
		trace:      trace,
		log:        log.With(zap.Stringer("remote", conn.RemoteAddr())),
	}
}

// Name is the name the client identified itself with, empty until the
// handshake completed.
func (t *TCPConn) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.name
}

// Close drops the connection. Start returns once both loops have exited.
func (t *TCPConn) Close() (err error) {
	t.closeOnce.Do(func() {
		t.cancel()

		if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})

	return err
}

// Start runs the read and write loops and blocks until the client is gone.
func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		defer t.cancel()

		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()

	t.hub.leave(t)

	if err := t.Close(); err != nil {
		t.log.Debug("Connection did not close cleanly", zap.Error(err))
	}

	t.log.Info("Client left", zap.String("client", t.Name()))
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	reader := protocol.NewLineReader()
	buf := make([]byte, protocol.ReadBufferSize)

	for {
		lines, err := reader.ReadLines(t.conn, buf)

		for _, line := range lines {
			if t.trace {
				log.Debug("Received", zap.String("line", line))
			}

			if !t.handle(line) {
				return
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, protocol.ErrLineTooLong) {
			log.Warn("Discarded oversized line", zap.Error(err))
			continue
		}

		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && t.ctx.Err() == nil {
			log.Warn("Failed to read from client", zap.Error(err))
		}

		return
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			// Unblocks the read loop when the server shuts down.
			if err := t.Close(); err != nil {
				log.Debug("Connection did not close cleanly", zap.Error(err))
			}

			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write to client", zap.Error(err))
				return
			}
		}
	}
}

// WriteLine queues line for the write loop. It never blocks: a client that
// does not keep up loses lines.
func (t *TCPConn) WriteLine(line string) error {
	if t.ctx.Err() != nil {
		return ErrConnClosed
	}

	data := make([]byte, 0, len(line)+len(protocol.Terminal))
	data = append(data, line...)
	data = append(data, protocol.Terminal...)

	select {
	case t.writeQueue <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

// handle acts on a single line from the client. It returns false when the
// connection should be closed.
func (t *TCPConn) handle(line string) bool {
	name := t.Name()
	if name == "" {
		return t.handshake(line)
	}

	log := t.log.With(zap.String("client", name))

	parts := strings.SplitN(line, " ", 2)
	command := protocol.Command(parts[0])

	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch command {
	case protocol.SUBSCRIBE:
		if channel := strings.TrimSpace(arg); channel != "" {
			t.hub.subscribe(channel, t)
		}

	case protocol.UNSUBSCRIBE:
		if channel := strings.TrimSpace(arg); channel != "" {
			t.hub.unsubscribe(channel, t)
		}

	case protocol.SENDRAW:
		t.sendRaw(name, arg, log)

	case protocol.CLIENTS:
		t.reply(strings.Join(t.hub.Clients(), ","), log)

	case protocol.CHANNELS:
		t.reply(strings.Join(t.hub.Channels(), ","), log)

	case protocol.PING:
		t.reply(string(protocol.ACK), log)

	case protocol.ACK:

	case protocol.QUIT:
		log.Info("Client quit")
		return false

	default:
		log.Debug("Ignoring unknown command", zap.String("line", line))
	}

	return true
}

// handshake registers the client under the name it sent. Rejections are
// written synchronously so they reach the client before it is dropped.
func (t *TCPConn) handshake(line string) bool {
	name := strings.TrimSuffix(strings.TrimSpace(line), protocol.HandshakeSuffix)

	if err := t.hub.join(name, t); err != nil {
		t.log.Info("Rejected client", zap.String("client", name), zap.Error(err))

		if werr := protocol.WriteLine(t.conn, "error ("+err.Error()+")"); werr != nil {
			t.log.Debug("Failed to send rejection", zap.Error(werr))
		}

		return false
	}

	t.mu.Lock()
	t.name = name
	t.mu.Unlock()

	t.log.Info("Client joined", zap.String("client", name))
	t.reply(protocol.Welcome(name), t.log)

	return true
}

// sendRaw publishes a sendraw payload. JSON objects are sent as they are,
// anything else is wrapped as {"data": message}.
func (t *TCPConn) sendRaw(sender, arg string, log *zap.Logger) {
	parts := strings.SplitN(arg, " ", 2)
	channel := strings.TrimSpace(parts[0])

	if channel == "" {
		log.Debug("Ignoring sendraw without a channel")
		return
	}

	message := ""
	if len(parts) > 1 {
		message = parts[1]
	}

	data, ok := protocol.ParsePayload(message)
	if !ok {
		data = map[string]interface{}{"data": message}
	}

	if _, err := t.hub.publish(channel, sender, data); err != nil {
		log.Warn("Failed to deliver to every recipient", zap.String("channel", channel), zap.Error(err))
	}
}

func (t *TCPConn) reply(line string, log *zap.Logger) {
	if err := t.WriteLine(line); err != nil {
		log.Warn("Failed to reply", zap.String("line", line), zap.Error(err))
	}
}

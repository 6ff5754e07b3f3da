package client

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAttemptBudget    = 100
	DefaultRetryDelay       = 1 * time.Second
	DefaultSessionBackoff   = 5 * time.Second
	DefaultDialTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultPingAfter        = 15 * time.Second
	DefaultReadTimeout      = 20 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultDispatchBuffer   = 256
)

type Options struct {
	// Name the client identifies itself with. A random name is generated
	// when empty.
	Name string

	// Reconnect keeps the client connecting again after the connection is
	// lost or a round of attempts failed.
	Reconnect bool

	// AttemptBudget is how many connection attempts a session gets before
	// the client backs off for SessionBackoff.
	AttemptBudget int

	// RetryDelay is the pause after a failed dial, and before reconnecting
	// once a connection was lost.
	RetryDelay time.Duration

	// SessionBackoff is the pause after a session ran out of attempts.
	SessionBackoff time.Duration

	DialTimeout time.Duration

	// HandshakeTimeout bounds how long we wait for the server's welcome.
	HandshakeTimeout time.Duration

	// PingAfter is how long the connection may be quiet before we probe it
	// with a ping.
	PingAfter time.Duration

	// ReadTimeout is how long the connection may be quiet before it is
	// considered dead.
	ReadTimeout time.Duration

	WriteTimeout time.Duration

	// DisablePing turns off idle probing and the acknowledgement of reply
	// lines. Reply lines are then only considered as positional frames.
	// Only useful in tests.
	DisablePing bool

	// DispatchBuffer is how many events may wait for their handlers before
	// the read loop blocks.
	DispatchBuffer int

	PollQueueSize int

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.AttemptBudget < 1 {
		o.AttemptBudget = DefaultAttemptBudget
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}

	if o.SessionBackoff <= 0 {
		o.SessionBackoff = DefaultSessionBackoff
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}

	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}

	if o.PingAfter <= 0 {
		o.PingAfter = DefaultPingAfter
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	if o.PingAfter > o.ReadTimeout {
		o.PingAfter = o.ReadTimeout
	}

	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}

	if o.DispatchBuffer < 1 {
		o.DispatchBuffer = DefaultDispatchBuffer
	}

	if o.PollQueueSize < 1 {
		o.PollQueueSize = DefaultPollQueueSize
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

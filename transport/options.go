package transport

import "go.uber.org/zap"

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr.
	Port int

	// Reuseport controls setting SO_REUSEPORT, which lets several listeners
	// share the port.
	Reuseport bool

	// Trace will log every line received. This is only useful in local
	// debugging
	Trace bool

	// NumListeners is how many accept loops share the port. Only honoured
	// with Reuseport.
	NumListeners int

	// WriteQueueSize is how many outbound lines may wait for a slow client
	// before further lines for it are dropped.
	WriteQueueSize int

	Log *zap.Logger
}

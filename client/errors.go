package client

import "errors"

var (
	// ErrNotImplemented is returned by operations the client exposes but does
	// not support yet, so callers can detect the gap instead of it failing
	// silently.
	ErrNotImplemented = errors.New("Not supported yet")

	ErrInvalidName    = errors.New("Client names cannot be empty or contain spaces")
	ErrInvalidChannel = errors.New("Channel names cannot be empty or contain spaces")
	ErrNotConnected   = errors.New("Client is not connected")
	ErrHandlerPanic   = errors.New("Handler panicked")
)

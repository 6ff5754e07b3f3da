package client

import "time"

// Event is a message delivered to a channel handler. Events are built fresh
// for every inbound frame and must not be modified by handlers, as every
// handler on a channel receives the same *Event.
type Event struct {
	Channel string
	Sender  string

	// Data is the decoded payload. Numbers decode as float64.
	Data map[string]interface{}

	// Raw holds the payload of a positional frame whose data was not a JSON
	// object. It is empty for JSON events.
	Raw string

	// Timestamp in milliseconds since the epoch, as sent by the server.
	Timestamp int64
}

// Get returns the payload value stored under key.
func (e *Event) Get(key string) (interface{}, bool) {
	value, ok := e.Data[key]
	return value, ok
}

// Time converts the event timestamp into a time.Time.
func (e *Event) Time() time.Time {
	return time.Unix(0, e.Timestamp*int64(time.Millisecond))
}

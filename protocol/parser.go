package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedFrame = errors.New("Frame is malformed and could not be parsed")
	ErrLineTooLong    = errors.New("Line exceeded the maximum length before a newline was received")
	ErrEmptyLine      = errors.New("Line is empty")

	// PrefixEvent starts every JSON event frame from the server
	PrefixEvent = "{"

	// PrefixEcho starts positional (legacy) frames, which echo the client
	// send command they originate from.
	PrefixEcho = "send"
)

// LegacyFrameTokens is the number of space separated tokens in a positional frame.
const LegacyFrameTokens = 5

// Frame is a single classified line received from a server. It is one of
// *EventFrame, *LegacyFrame, *ReplyLine or KeepAlive.
type Frame interface {
	frame()
}

// EventFrame is a JSON event. The reserved keys have been removed from Data.
type EventFrame struct {
	Recipient string
	Sender    string
	Timestamp int64
	Data      map[string]interface{}
}

// LegacyFrame is a positional event frame: `<tag> <channel> <data> <timestamp> <sender>`.
type LegacyFrame struct {
	Tag       string
	Channel   string
	Data      string
	Timestamp int64
	Sender    string
}

// ReplyLine is any line that is neither an event nor keep-alive traffic,
// typically the answer to a `clients` or `channels` request.
type ReplyLine struct {
	Line string
}

// KeepAlive is liveness traffic. Probe is true when the server sent `ping`
// and expects an acknowledgement, false for a bare `.`.
type KeepAlive struct {
	Probe bool
}

func (*EventFrame) frame()  {}
func (*LegacyFrame) frame() {}
func (*ReplyLine) frame()   {}
func (KeepAlive) frame()    {}

// Decode classifies a single protocol line, as produced by a LineReader.
func Decode(line string) (Frame, error) {
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyLine
	}

	switch {
	case strings.HasPrefix(line, PrefixEvent):
		frame, err := ParseEvent([]byte(line))
		if err != nil {
			return nil, err
		}

		return frame, nil

	case line == string(PING):
		return KeepAlive{Probe: true}, nil

	case line == string(ACK):
		return KeepAlive{}, nil

	case strings.HasPrefix(line, PrefixEcho):
		legacy, ok := parseLegacy(line)
		if !ok {
			return nil, fmt.Errorf("Failed to parse '%s': %w", line, ErrMalformedFrame)
		}

		return legacy, nil

	default:
		return &ReplyLine{Line: line}, nil
	}
}

// Legacy reads the reply line positionally. It only succeeds for lines made
// of exactly LegacyFrameTokens tokens.
func (r *ReplyLine) Legacy() (*LegacyFrame, bool) {
	return parseLegacy(r.Line)
}

func parseLegacy(line string) (*LegacyFrame, bool) {
	tokens := strings.Split(line, " ")
	if len(tokens) != LegacyFrameTokens {
		return nil, false
	}

	// An unparsable timestamp is not fatal, the event just has no time.
	timestamp, err := strconv.ParseInt(tokens[3], 10, 64)
	if err != nil {
		timestamp = 0
	}

	return &LegacyFrame{
		Tag:       tokens[0],
		Channel:   tokens[1],
		Data:      tokens[2],
		Timestamp: timestamp,
		Sender:    tokens[4],
	}, true
}

var (
	_ Frame = (*EventFrame)(nil)
	_ Frame = (*LegacyFrame)(nil)
	_ Frame = (*ReplyLine)(nil)
	_ Frame = KeepAlive{}
)

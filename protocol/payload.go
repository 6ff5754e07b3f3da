package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrPayloadNotObject = errors.New("Payload is not a JSON object")
	ErrEmptyPayloadKey  = errors.New("Payload keys cannot be empty")
)

// ParseEvent parses a JSON event frame, moving the reserved keys out of the
// payload and into the frame.
func ParseEvent(line []byte) (*EventFrame, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrMalformedFrame)
	}

	result := gjson.ParseBytes(line)
	if !result.IsObject() {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), ErrPayloadNotObject)
	}

	frame := &EventFrame{
		Recipient: result.Get(KeyRecipient).String(),
		Sender:    result.Get(KeySender).String(),
		Timestamp: result.Get(KeyTimestamp).Int(),
		Data:      payloadOf(result),
	}

	return frame, nil
}

// ParsePayload decodes raw as a JSON object. ok is false when raw is not one.
func ParsePayload(raw string) (data map[string]interface{}, ok bool) {
	if !gjson.Valid(raw) {
		return nil, false
	}

	result := gjson.Parse(raw)
	if !result.IsObject() {
		return nil, false
	}

	return payloadOf(result), true
}

func payloadOf(object gjson.Result) map[string]interface{} {
	data := make(map[string]interface{})

	object.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case KeyRecipient, KeySender, KeyTimestamp:
			// reserved, lifted into the frame
		default:
			data[key.String()] = value.Value()
		}

		return true
	})

	return data
}

// EncodePayload serialises data as a single-line JSON object. Keys are
// written in sorted order so the output is stable.
func EncodePayload(data map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := []byte("{}")

	for _, key := range keys {
		if key == "" {
			return nil, ErrEmptyPayloadKey
		}

		var err error
		out, err = sjson.SetBytes(out, EscapeKey(key), data[key])
		if err != nil {
			return nil, fmt.Errorf("Failed to encode key '%s': %w", key, err)
		}
	}

	return out, nil
}

// EscapeKey turns an arbitrary object key into an sjson path that addresses
// exactly that key at the top level of an object.
func EscapeKey(key string) string {
	var b strings.Builder

	// Numeric keys would otherwise be treated as array indexes.
	if isIndexLike(key) {
		b.WriteByte(':')
	}

	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '\\', '.', '*', '?', '|', '#', '@', '!':
			b.WriteByte('\\')
		}
		b.WriteByte(key[i])
	}

	return b.String()
}

func isIndexLike(key string) bool {
	if key == "-1" || strings.HasPrefix(key, ":") {
		return true
	}

	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}

	return true
}

package protocol

import (
	"fmt"
	"io"
	"strings"
)

var (
	Terminal = []byte("\n")
)

// WriteLine writes line followed by a single '\n' in one call.
func WriteLine(w io.Writer, line string) error {
	b := make([]byte, 0, len(line)+len(Terminal))
	b = append(b, line...)
	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

// WriteCommand writes a command and its space separated arguments as one line.
func WriteCommand(w io.Writer, cmd Command, args ...string) error {
	return WriteLine(w, FormatCommand(cmd, args...))
}

func WriteHandshake(w io.Writer, name string) error {
	return WriteLine(w, Handshake(name))
}

func WriteSubscribe(w io.Writer, channel string) error {
	return WriteCommand(w, SUBSCRIBE, channel)
}

func WriteSendRaw(w io.Writer, channel, message string) error {
	return WriteCommand(w, SENDRAW, channel, message)
}

func WriteAck(w io.Writer) error {
	return WriteCommand(w, ACK)
}

// WriteEvent writes data as a JSON event frame addressed to recipient.
func WriteEvent(w io.Writer, recipient, sender string, timestamp int64, data map[string]interface{}) error {
	line, err := EncodeEvent(recipient, sender, timestamp, data)
	if err != nil {
		return err
	}

	return WriteLine(w, string(line))
}

// EncodeEvent builds a JSON event frame. The reserved keys always win over
// payload keys of the same name.
func EncodeEvent(recipient, sender string, timestamp int64, data map[string]interface{}) ([]byte, error) {
	merged := make(map[string]interface{}, len(data)+3)
	for key, value := range data {
		merged[key] = value
	}

	merged[KeyRecipient] = recipient
	merged[KeySender] = sender
	merged[KeyTimestamp] = timestamp

	return EncodePayload(merged)
}

func FormatCommand(cmd Command, args ...string) string {
	if len(args) == 0 {
		return string(cmd)
	}

	return fmt.Sprintf("%s %s", cmd, strings.Join(args, " "))
}

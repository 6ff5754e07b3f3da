package protocol

import (
	"bytes"
	"io"
)

const (
	// ReadBufferSize is how many bytes are read from the socket at a time.
	ReadBufferSize = 1024

	// MaxLineLength bounds how much of an unterminated line we will buffer.
	MaxLineLength = 64 * 1024
)

// LineReader splits a stream of reads into complete protocol lines.
//
// Bytes after the last '\n' of a read are kept and prepended to the next
// read, so a line split across two socket reads is still delivered whole.
// A LineReader is not safe for concurrent use; the connection's read loop
// owns it.
type LineReader struct {
	residual []byte
}

func NewLineReader() *LineReader {
	return &LineReader{}
}

// Feed consumes data and returns every complete, non-blank line it
// terminated. ErrLineTooLong is returned (along with any complete lines) when
// the unterminated remainder grows past MaxLineLength, in which case the
// remainder is discarded.
func (l *LineReader) Feed(data []byte) ([]string, error) {
	l.residual = append(l.residual, data...)

	var lines []string

	for {
		idx := bytes.IndexByte(l.residual, '\n')
		if idx < 0 {
			break
		}

		line := RemoveTrailingCR(l.residual[:idx])
		l.residual = l.residual[idx+1:]

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		lines = append(lines, string(line))
	}

	if len(l.residual) > MaxLineLength {
		l.residual = nil
		return lines, ErrLineTooLong
	}

	// Drop the backing array once everything was consumed so a long-lived
	// reader does not pin a large buffer.
	if len(l.residual) == 0 {
		l.residual = nil
	}

	return lines, nil
}

// Pending reports how many bytes of an unterminated line are buffered.
func (l *LineReader) Pending() int {
	return len(l.residual)
}

// ReadLines performs a single read of up to ReadBufferSize bytes from r and
// feeds it through the LineReader. Lines are returned even when the read
// also returned an error.
func (l *LineReader) ReadLines(r io.Reader, buf []byte) ([]string, error) {
	if len(buf) == 0 {
		buf = make([]byte, ReadBufferSize)
	}

	n, readErr := r.Read(buf)

	var (
		lines   []string
		feedErr error
	)

	if n > 0 {
		lines, feedErr = l.Feed(buf[:n])
	}

	if readErr != nil {
		return lines, readErr
	}

	return lines, feedErr
}

func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		return data[:len(data)-1]
	}

	return data
}

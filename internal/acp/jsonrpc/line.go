package jsonrpc

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/kandev/acpgate/internal/common/logger"
	"go.uber.org/zap"
)

// truncatedField builds a zap field holding at most 200 bytes of line,
// matching spec.md §4.3's "trim to ≤200 chars" debug-logging rule for
// malformed stdout lines.
func truncatedField(line []byte) zap.Field {
	if len(line) > 200 {
		line = line[:200]
	}
	return zap.ByteString("line", line)
}

// WriteLine serializes v as one JSON document terminated by a newline and
// writes+flushes it to w. Spec invariant: between any two successfully sent
// JSON documents, no partial document appears on the wire, so the full
// encoded line (including its trailing newline) is written with a single
// Write call.
func WriteLine(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// LineReader reads newline-delimited JSON-RPC messages from a child
// process's stdout, skipping empty and malformed lines.
type LineReader struct {
	scanner *bufio.Scanner
	log     *logger.Logger
}

// NewLineReader wraps r with a scanner sized generously enough for large
// tool outputs (agents can emit multi-megabyte rawOutput payloads).
func NewLineReader(r io.Reader, log *logger.Logger) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &LineReader{scanner: scanner, log: log}
}

// ReadMessage returns the next well-formed JSON-RPC message, skipping empty
// and malformed lines along the way. It returns io.EOF when the underlying
// reader is exhausted.
func (lr *LineReader) ReadMessage() (Message, error) {
	for lr.scanner.Scan() {
		line := lr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			if lr.log != nil {
				lr.log.Debug("skipping non-JSON line from agent stdout", truncatedField(line))
			}
			continue
		}
		return msg, nil
	}
	if err := lr.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

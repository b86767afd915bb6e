package connection

import (
	"bufio"
	"io"

	"github.com/kandev/acpgate/internal/common/logger"
	"go.uber.org/zap"
)

// drainStderr reads the child's stderr line by line, forwarding non-empty
// lines to the debug log, until EOF or a read error. It runs for the
// lifetime of the process and is not itself part of the JSON-RPC transport,
// so it needs no synchronization with the connection mutex.
func drainStderr(r io.Reader, agentName string, log *logger.Logger) {
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if log != nil {
				log.Debug("agent stderr", zap.String("agent", agentName), zap.String("line", line))
			}
		}
	}()
}

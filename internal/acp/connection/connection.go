// Package connection implements one spawned agent child process and its
// transport (C5): the stdin writer, the stdout line reader, the monotonic
// request id counter, the initialize handshake, and the three operations
// exposed to the session manager (send_request, send_notification,
// prompt_streaming). The prompt aggregator (C6) lives in aggregator.go.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/kandev/acpgate/internal/acp/acperrors"
	"github.com/kandev/acpgate/internal/acp/jsonrpc"
	"github.com/kandev/acpgate/internal/acp/spawn"
	"github.com/kandev/acpgate/internal/common/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/kandev/acpgate/internal/acp/connection")

// lineResult is one item produced by the background pump goroutine that
// performs the actual blocking OS read off the child's stdout. It carries no
// routing decision of its own — it is pure byte/line plumbing, never a
// dispatcher: exactly one caller (whichever operation currently holds the
// connection mutex) drains it at a time, preserving the single-reader
// invariant of spec.md §5.
type lineResult struct {
	msg jsonrpc.Message
	err error
}

// Connection owns one spawned child process and its transport. All writes
// and the blocking read of responses/notifications are serialized by mu,
// held for the duration of each operation — never two interleaved JSON
// documents reach stdin, and only one RPC or prompt is ever outstanding.
type Connection struct {
	AgentName string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  <-chan lineResult
	nextID int64

	requestTimeout time.Duration
	log            *logger.Logger
}

// Options configures Spawn.
type Options struct {
	ClientName     string
	ClientVersion  string
	RequestTimeout time.Duration
}

// Spawn starts the child process described by desc, wires up its stdio, and
// performs the ACP initialize handshake before returning. On any hard
// failure the child is killed and the spawn fails.
func Spawn(ctx context.Context, agentName string, desc spawn.Descriptor, opts Options, log *logger.Logger) (*Connection, error) {
	cmd := desc.Cmd()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, acperrors.Wrap(acperrors.SpawnError, err, "failed to open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, acperrors.Wrap(acperrors.SpawnError, err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, acperrors.Wrap(acperrors.SpawnError, err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, acperrors.Wrap(acperrors.SpawnError, err, fmt.Sprintf("failed to start agent %q", agentName))
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	conn := newConnection(agentName, cmd, stdin, stdout, requestTimeout, log)
	drainStderr(stderr, agentName, log)

	if err := conn.initialize(ctx, opts); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return conn, nil
}

// newConnection wires a Connection around an already-started child's stdio,
// without performing the handshake. Exposed for tests that substitute
// in-process pipes for a real subprocess.
func newConnection(agentName string, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, requestTimeout time.Duration, log *logger.Logger) *Connection {
	lr := jsonrpc.NewLineReader(stdout, log)
	ch := make(chan lineResult)
	go pump(lr, ch)

	return &Connection{
		AgentName:      agentName,
		cmd:            cmd,
		stdin:          stdin,
		lines:          ch,
		nextID:         1,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// pump performs the blocking reads off the child's stdout and forwards each
// parsed message (or terminal error) to ch. It never inspects method/id —
// all classification happens in the caller, under the connection mutex.
func pump(lr *jsonrpc.LineReader, ch chan<- lineResult) {
	defer close(ch)
	for {
		msg, err := lr.ReadMessage()
		ch <- lineResult{msg: msg, err: err}
		if err != nil {
			return
		}
	}
}

// readDeadline waits for the next line from the pump. It returns
// context.DeadlineExceeded once deadline has passed and io.EOF once the pump
// has closed; callers map these to Timeout and ConnectionClosed errors.
func (c *Connection) readDeadline(deadline time.Time) (jsonrpc.Message, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res, ok := <-c.lines:
		if !ok {
			return jsonrpc.Message{}, io.EOF
		}
		return res.msg, res.err
	case <-timer.C:
		return jsonrpc.Message{}, context.DeadlineExceeded
	}
}

func (c *Connection) writeLine(v interface{}) error {
	return jsonrpc.WriteLine(c.stdin, v)
}

// initialize performs the handshake described by spec.md §4.3.
func (c *Connection) initialize(ctx context.Context, opts Options) error {
	ctx, span := tracer.Start(ctx, "acp.initialize")
	defer span.End()
	_ = ctx

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	req := jsonrpc.Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  jsonrpc.MethodInitialize,
		Params: jsonrpc.InitializeParams{
			ProtocolVersion: jsonrpc.ProtocolVersion,
			ClientCapabilities: jsonrpc.ClientCapabilities{
				Fs:       jsonrpc.FsCapabilities{ReadTextFile: false, WriteTextFile: false},
				Terminal: false,
			},
			ClientInfo: jsonrpc.ClientInfo{Name: opts.ClientName, Version: opts.ClientVersion},
		},
	}
	if err := c.writeLine(req); err != nil {
		return acperrors.Wrap(acperrors.HandshakeError, err, "failed to write initialize request")
	}

	deadline := time.Now().Add(c.requestTimeout)
	result, err := c.awaitResponse(id, deadline, jsonrpc.MethodInitialize)
	if err != nil {
		return acperrors.Wrap(acperrors.HandshakeError, err, "initialize handshake failed")
	}

	var initResult jsonrpc.InitializeResult
	if len(result) > 0 {
		_ = json.Unmarshal(result, &initResult)
	}
	identity := initResult.ServerInfo
	if identity == nil {
		identity = initResult.AgentInfo
	}
	if identity != nil && c.log != nil {
		c.log.Info("agent identified itself", zap.String("agent", c.AgentName), zap.String("name", identity.Name), zap.String("version", identity.Version))
	}

	notif := jsonrpc.Notification{JSONRPC: "2.0", Method: jsonrpc.NotificationInitialized}
	if err := c.writeLine(notif); err != nil {
		if c.log != nil {
			c.log.Debug("notifications/initialized not acknowledged by transport, continuing", zap.Error(err))
		}
	}

	return nil
}

// awaitResponse loops reading lines until the response with id arrives, a
// deadline expires, or the stream ends. Callers must already hold c.mu.
func (c *Connection) awaitResponse(id int64, deadline time.Time, method string) (json.RawMessage, error) {
	idBytes, _ := json.Marshal(id)

	for {
		msg, err := c.readDeadline(deadline)
		if err == context.DeadlineExceeded {
			return nil, acperrors.NewTimeout(method, c.requestTimeout)
		}
		if err == io.EOF {
			return nil, acperrors.New(acperrors.ConnectionClose, "agent closed stdout")
		}
		if err != nil {
			return nil, acperrors.Wrap(acperrors.IoError, err, "failed reading agent stdout")
		}

		switch jsonrpc.Classify(msg) {
		case jsonrpc.KindNotification:
			if c.log != nil {
				c.log.Debug("discarding notification during simple RPC", zap.String("method", msg.Method))
			}
			continue
		case jsonrpc.KindRequest:
			if c.log != nil {
				c.log.Debug("ignoring agent-originated request during simple RPC", zap.String("method", msg.Method))
			}
			continue
		case jsonrpc.KindResponse:
			if string(msg.ID) != string(idBytes) {
				continue
			}
			if msg.Error != nil {
				return nil, acperrors.NewAgentError(msg.Error.Code, msg.Error.Message)
			}
			if len(msg.Result) == 0 {
				return json.RawMessage("null"), nil
			}
			return msg.Result, nil
		default:
			continue
		}
	}
}

// SendRequest issues method with params and waits for its matching response
// under the short per-RPC deadline.
func (c *Connection) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "acp.request."+method, trace.WithAttributes())
	defer span.End()
	_ = ctx

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	req := jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeLine(req); err != nil {
		return nil, acperrors.Wrap(acperrors.IoError, err, "failed to write request")
	}

	deadline := time.Now().Add(c.requestTimeout)
	return c.awaitResponse(id, deadline, method)
}

// SendNotification writes method with params without waiting for any reply.
func (c *Connection) SendNotification(method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: params}
	if err := c.writeLine(n); err != nil {
		return acperrors.Wrap(acperrors.IoError, err, "failed to write notification")
	}
	return nil
}

// Shutdown best-effort asks the agent to shut down, then kills the child.
// Idempotent at the manager level: the manager removes the session before
// calling Shutdown, so it is never invoked twice for the same connection.
func (c *Connection) Shutdown(ctx context.Context) {
	_, _ = c.SendRequest(ctx, jsonrpc.MethodShutdown, nil)
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

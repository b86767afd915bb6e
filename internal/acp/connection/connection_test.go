package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/kandev/acpgate/internal/acp/jsonrpc"
)

// newTestConnection wires a Connection around in-process pipes and returns
// it alongside a scanner/writer pair playing the agent side, so tests can
// script agent responses without spawning a real subprocess.
func newTestConnection(t *testing.T) (*Connection, *bufio.Scanner, io.Writer, func()) {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	conn := newConnection("mock", nil, stdinW, stdoutR, 2*time.Second, nil)
	agentScanner := bufio.NewScanner(stdinR)
	agentScanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	cleanup := func() {
		_ = stdinW.Close()
		_ = stdoutW.Close()
	}
	return conn, agentScanner, stdoutW, cleanup
}

func readRequest(t *testing.T, scanner *bufio.Scanner) jsonrpc.Message {
	t.Helper()
	if !scanner.Scan() {
		t.Fatalf("expected a request line, scanner stopped: %v", scanner.Err())
	}
	var msg jsonrpc.Message
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		t.Fatalf("failed to parse agent-observed request: %v", err)
	}
	return msg
}

func writeLine(t *testing.T, w io.Writer, v interface{}) {
	t.Helper()
	if err := jsonrpc.WriteLine(w, v); err != nil {
		t.Fatalf("failed to write scripted agent line: %v", err)
	}
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal raw content fixture: %v", err)
	}
	return data
}

// TestPromptStreaming_S1_AggregatesTextAndToolCall exercises scenario S1:
// a text chunk followed by a tool_call, then a completion response.
func TestPromptStreaming_S1_AggregatesTextAndToolCall(t *testing.T) {
	conn, agent, agentOut, cleanup := newTestConnection(t)
	defer cleanup()

	done := make(chan struct{})
	var result PromptResult
	var resultErr error
	go func() {
		result, resultErr = conn.PromptStreaming(context.Background(), "s-1", "write hello world", true, time.Second)
		close(done)
	}()

	req := readRequest(t, agent)
	if req.Method != jsonrpc.MethodSessionPrompt {
		t.Fatalf("expected session/prompt, got %q", req.Method)
	}

	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  jsonrpc.NotificationSessionUpdate,
		"params": jsonrpc.SessionUpdateParams{
			SessionID: "s-1",
			Update: jsonrpc.SessionUpdate{
				SessionUpdate: jsonrpc.UpdateAgentMessageChunk,
				Content:       rawJSON(t, jsonrpc.UpdateContent{Text: "Working on: write hello world"}),
			},
		},
	})
	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  jsonrpc.NotificationSessionUpdate,
		"params": jsonrpc.SessionUpdateParams{
			SessionID: "s-1",
			Update: jsonrpc.SessionUpdate{
				SessionUpdate: jsonrpc.UpdateToolCall,
				Title:         "bash",
				RawInput:      json.RawMessage(`{"command":"ls"}`),
			},
		},
	})
	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  jsonrpc.SessionPromptResult{StopReason: "end_turn"},
	})

	<-done
	if resultErr != nil {
		t.Fatalf("expected no error, got %v", resultErr)
	}
	if !result.Completed {
		t.Fatal("expected completed=true")
	}
	if len(result.Messages) != 1 || result.Messages[0] != "Working on: write hello world" {
		t.Fatalf("unexpected messages: %v", result.Messages)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "bash" {
		t.Fatalf("unexpected tool calls: %v", result.ToolCalls)
	}
}

// TestPromptStreaming_ToolCallUpdate_ContentArrayAndRawOutput exercises a
// tool_call_update notification carrying both a rawOutput and a content
// array, the two shapes session/update's overloaded "content" field takes
// (an object for agent_message_chunk/agent_thought_chunk, an array here).
func TestPromptStreaming_ToolCallUpdate_ContentArrayAndRawOutput(t *testing.T) {
	conn, agent, agentOut, cleanup := newTestConnection(t)
	defer cleanup()

	done := make(chan struct{})
	var result PromptResult
	var resultErr error
	go func() {
		result, resultErr = conn.PromptStreaming(context.Background(), "s-1", "run ls", true, time.Second)
		close(done)
	}()

	req := readRequest(t, agent)

	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  jsonrpc.NotificationSessionUpdate,
		"params": jsonrpc.SessionUpdateParams{
			SessionID: "s-1",
			Update: jsonrpc.SessionUpdate{
				SessionUpdate: jsonrpc.UpdateToolCallUpdate,
				ToolCallID:    "call-1",
				Status:        "completed",
				RawOutput:     rawJSON(t, "exit code 0"),
				Content: rawJSON(t, []jsonrpc.UpdateContentItem{
					{Type: "content", Content: &jsonrpc.UpdateContent{Text: "file_a.go\nfile_b.go"}},
				}),
			},
		},
	})
	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  jsonrpc.SessionPromptResult{StopReason: "end_turn"},
	})

	<-done
	if resultErr != nil {
		t.Fatalf("expected no error, got %v", resultErr)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected rawOutput and content-array text as two messages, got %v", result.Messages)
	}
	if result.Messages[0] != "exit code 0" {
		t.Fatalf("expected rawOutput message first, got %q", result.Messages[0])
	}
	if result.Messages[1] != "file_a.go\nfile_b.go" {
		t.Fatalf("expected content-array text second, got %q", result.Messages[1])
	}
}

// TestPromptStreaming_S4_AgentError exercises scenario S4: the agent
// returns a JSON-RPC error for session/prompt.
func TestPromptStreaming_S4_AgentError(t *testing.T) {
	conn, agent, agentOut, cleanup := newTestConnection(t)
	defer cleanup()

	done := make(chan struct{})
	var resultErr error
	go func() {
		_, resultErr = conn.PromptStreaming(context.Background(), "s-1", "do something", true, time.Second)
		close(done)
	}()

	req := readRequest(t, agent)
	writeLine(t, agentOut, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"error":   map[string]interface{}{"code": -32000, "message": "Mock error"},
	})

	<-done
	if resultErr == nil {
		t.Fatal("expected an error")
	}
	if got := resultErr.Error(); !contains(got, "Mock error") {
		t.Fatalf("expected error message to contain \"Mock error\", got %q", got)
	}
}

// TestPromptStreaming_S6_PermissionHandshake exercises scenario S6 for both
// auto_approve values.
func TestPromptStreaming_S6_PermissionHandshake(t *testing.T) {
	for _, autoApprove := range []bool{true, false} {
		conn, agent, agentOut, cleanup := newTestConnection(t)

		done := make(chan struct{})
		go func() {
			_, _ = conn.PromptStreaming(context.Background(), "s-1", "hi", autoApprove, time.Second)
			close(done)
		}()

		promptReq := readRequest(t, agent)

		writeLine(t, agentOut, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      "perm-1",
			"method":  jsonrpc.MethodSessionRequestPermissn,
			"params": jsonrpc.RequestPermissionParams{
				SessionID: "s-1",
				Options: []jsonrpc.PermissionOption{
					{OptionID: "a1", Kind: "allow_once"},
					{OptionID: "a2", Kind: "allow_always"},
					{OptionID: "d1", Kind: "deny"},
				},
			},
		})

		reply := readRequest(t, agent)
		var outcome jsonrpc.PermissionOutcome
		if err := json.Unmarshal(reply.Result, &outcome); err != nil {
			t.Fatalf("failed to parse permission reply result: %v", err)
		}

		if autoApprove {
			if outcome.Outcome.Outcome != "selected" || outcome.Outcome.OptionID != "a2" {
				t.Fatalf("expected selected/a2 with auto_approve, got %+v", outcome.Outcome)
			}
		} else {
			if outcome.Outcome.Outcome != "cancelled" {
				t.Fatalf("expected cancelled without auto_approve, got %+v", outcome.Outcome)
			}
		}

		writeLine(t, agentOut, map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      promptReq.ID,
			"result":  jsonrpc.SessionPromptResult{StopReason: "end_turn"},
		})
		<-done
		cleanup()
	}
}

// TestPromptStreaming_EOFMidPrompt exercises the ConnectionClosed boundary
// behaviour.
func TestPromptStreaming_EOFMidPrompt(t *testing.T) {
	conn, agent, _, cleanup := newTestConnection(t)
	defer cleanup()

	done := make(chan struct{})
	var resultErr error
	go func() {
		_, resultErr = conn.PromptStreaming(context.Background(), "s-1", "hi", true, time.Second)
		close(done)
	}()
	readRequest(t, agent)

	cleanup()
	<-done
	if resultErr == nil {
		t.Fatal("expected ConnectionClosed error on EOF mid-prompt")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}


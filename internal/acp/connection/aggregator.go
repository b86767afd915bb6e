package connection

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kandev/acpgate/internal/acp/acperrors"
	"github.com/kandev/acpgate/internal/acp/jsonrpc"
	"go.uber.org/zap"
)

// ToolCallInfo records one tool invocation reported by the agent.
type ToolCallInfo struct {
	Name  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// PromptResult is the aggregated outcome of one session/prompt round-trip.
type PromptResult struct {
	Messages     []string       `json:"messages"`
	ToolCalls    []ToolCallInfo `json:"tool_calls"`
	FilesChanged []string       `json:"files_changed"`
	Completed    bool           `json:"completed"`
	DurationMs   int64          `json:"duration_ms"`
}

// promptState is the mutable working state accumulated while a prompt is in
// flight: the current streamed text block plus the messages and tool calls
// collected so far. No separate tool-use accumulators are kept; a tool_call
// update is recorded in full as soon as it arrives.
type promptState struct {
	currentText string
	messages    []string
	toolCalls   []ToolCallInfo
}

func (s *promptState) flushText() {
	if s.currentText != "" {
		s.messages = append(s.messages, s.currentText)
		s.currentText = ""
	}
}

// PromptStreaming issues a session/prompt request and aggregates the
// notifications and requests the agent emits before the matching response
// arrives, replying to permission requests along the way. Exactly one
// PromptStreaming call is ever outstanding on a connection at a time — the
// session manager enforces this with the session's Prompting status.
func (c *Connection) PromptStreaming(ctx context.Context, sessionID, message string, autoApprove bool, timeout time.Duration) (PromptResult, error) {
	ctx, span := tracer.Start(ctx, "acp.prompt_streaming")
	defer span.End()
	_ = ctx

	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	req := jsonrpc.Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  jsonrpc.MethodSessionPrompt,
		Params: jsonrpc.SessionPromptParams{
			SessionID: sessionID,
			Prompt:    []jsonrpc.ContentBlock{{Type: "text", Text: message}},
		},
	}
	if err := c.writeLine(req); err != nil {
		return PromptResult{}, acperrors.Wrap(acperrors.IoError, err, "failed to write session/prompt request")
	}

	deadline := time.Now().Add(timeout)
	idBytes, _ := json.Marshal(id)
	state := &promptState{messages: []string{}, toolCalls: []ToolCallInfo{}}

	for {
		msg, err := c.readDeadline(deadline)
		if err == context.DeadlineExceeded {
			return elapsed(state, start, false), acperrors.NewTimeout(jsonrpc.MethodSessionPrompt, timeout)
		}
		if err == io.EOF {
			return elapsed(state, start, false), acperrors.New(acperrors.ConnectionClose, "agent closed stdout during prompt")
		}
		if err != nil {
			return elapsed(state, start, false), acperrors.Wrap(acperrors.IoError, err, "failed reading agent stdout during prompt")
		}

		switch jsonrpc.Classify(msg) {
		case jsonrpc.KindNotification:
			if msg.Method == jsonrpc.NotificationSessionUpdate {
				c.handleSessionUpdate(msg.Params, state)
			}
			continue

		case jsonrpc.KindRequest:
			if msg.Method == jsonrpc.MethodSessionRequestPermissn {
				c.replyToPermissionRequest(msg, autoApprove)
				continue
			}
			if c.log != nil {
				c.log.Debug("ignoring agent-originated request during prompt", zap.String("method", msg.Method))
			}
			continue

		case jsonrpc.KindResponse:
			if string(msg.ID) != string(idBytes) {
				continue
			}
			state.flushText()
			if msg.Error != nil {
				return elapsed(state, start, false), acperrors.NewAgentError(msg.Error.Code, msg.Error.Message)
			}
			var result jsonrpc.SessionPromptResult
			if len(msg.Result) > 0 {
				_ = json.Unmarshal(msg.Result, &result)
			}
			if result.StopReason != "" && c.log != nil {
				c.log.Debug("prompt stopped", zap.String("reason", result.StopReason))
			}
			return elapsed(state, start, true), nil

		default:
			continue
		}
	}
}

func elapsed(state *promptState, start time.Time, completed bool) PromptResult {
	return PromptResult{
		Messages:     state.messages,
		ToolCalls:    state.toolCalls,
		FilesChanged: []string{},
		Completed:    completed,
		DurationMs:   time.Since(start).Milliseconds(),
	}
}

// handleSessionUpdate dispatches one session/update notification's tagged
// payload per the table in spec.md §4.4.
func (c *Connection) handleSessionUpdate(params json.RawMessage, state *promptState) {
	var p jsonrpc.SessionUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		if c.log != nil {
			c.log.Debug("unparseable session/update params")
		}
		return
	}

	switch p.Update.SessionUpdate {
	case jsonrpc.UpdateAgentMessageChunk:
		if content, ok := decodeContentObject(p.Update.Content); ok {
			state.currentText += content.Text
		}

	case jsonrpc.UpdateAgentThoughtChunk:
		if c.log != nil {
			c.log.Debug("agent thought chunk", zap.String("session_id", p.SessionID))
		}

	case jsonrpc.UpdateToolCall:
		state.flushText()
		state.toolCalls = append(state.toolCalls, ToolCallInfo{
			Name:  p.Update.Title,
			Input: p.Update.RawInput,
		})

	case jsonrpc.UpdateToolCallUpdate:
		if c.log != nil {
			c.log.Debug("tool call update", zap.String("tool_call_id", p.Update.ToolCallID), zap.String("status", p.Update.Status))
		}
		if len(p.Update.RawOutput) > 0 {
			state.messages = append(state.messages, rawOutputText(p.Update.RawOutput))
		}
		for _, item := range decodeContentArray(p.Update.Content) {
			if item.Type == "content" && item.Content != nil {
				state.messages = append(state.messages, item.Content.Text)
			}
		}

	case jsonrpc.UpdatePlan:
		if c.log != nil {
			c.log.Debug("plan update", zap.Int("entries", len(p.Update.Entries)))
		}

	default:
		if c.log != nil {
			c.log.Debug("unknown session/update tag", zap.String("tag", p.Update.SessionUpdate))
		}
	}
}

// rawOutputText renders a tool_call_update's rawOutput as a message: its
// string value verbatim if it decodes as a JSON string, else its raw
// serialized form.
func rawOutputText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// decodeContentObject decodes a session/update's content field as the
// {"text"} object shape used by agent_message_chunk/agent_thought_chunk.
func decodeContentObject(raw json.RawMessage) (jsonrpc.UpdateContent, bool) {
	if len(raw) == 0 {
		return jsonrpc.UpdateContent{}, false
	}
	var content jsonrpc.UpdateContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return jsonrpc.UpdateContent{}, false
	}
	return content, true
}

// decodeContentArray decodes a session/update's content field as the array
// of {"type","content"} items used by tool_call_update.
func decodeContentArray(raw json.RawMessage) []jsonrpc.UpdateContentItem {
	if len(raw) == 0 {
		return nil
	}
	var items []jsonrpc.UpdateContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// replyToPermissionRequest selects an option per spec.md §4.4's precedence
// (first allow_always, else first option whose kind starts with "allow",
// else the literal string "allow") and writes the reply under the inbound
// id, reusing it verbatim.
func (c *Connection) replyToPermissionRequest(msg jsonrpc.Message, autoApprove bool) {
	var params jsonrpc.RequestPermissionParams
	_ = json.Unmarshal(msg.Params, &params)

	chosen := chooseOption(params.Options)

	var outcome jsonrpc.PermissionOutcome
	if autoApprove {
		outcome = jsonrpc.PermissionOutcome{Outcome: jsonrpc.PermissionOutcomeBody{Outcome: "selected", OptionID: chosen}}
	} else {
		outcome = jsonrpc.PermissionOutcome{Outcome: jsonrpc.PermissionOutcomeBody{Outcome: "cancelled"}}
	}

	resp := jsonrpc.Response{JSONRPC: "2.0", ID: msg.ID, Result: outcome}
	if err := c.writeLine(resp); err != nil && c.log != nil {
		c.log.Debug("failed to write permission reply", zap.Error(err))
	}
}

func chooseOption(options []jsonrpc.PermissionOption) string {
	for _, opt := range options {
		if opt.Kind == "allow_always" {
			return opt.OptionID
		}
	}
	for _, opt := range options {
		if len(opt.Kind) >= len("allow") && opt.Kind[:len("allow")] == "allow" {
			return opt.OptionID
		}
	}
	return "allow"
}

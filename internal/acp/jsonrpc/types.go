// Package jsonrpc implements the line-delimited JSON-RPC 2.0 framing (C3)
// and message classification (C4) used by the ACP wire protocol, plus the
// Go types for the subset of ACP methods this orchestrator speaks.
package jsonrpc

import "encoding/json"

// Message is the generic envelope read off the wire. jsonrpc is accepted but
// ignored on input, matching spec.md's classification rule: a message with
// an id and no method is a response, one with a method and no id is a
// notification, and one with both is an incoming request.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Kind classifies a Message per spec.md §3's JsonRpcMessage rules.
type Kind int

const (
	KindUnknown Kind = iota
	KindResponse
	KindNotification
	KindRequest
)

// Classify decides whether msg is a response, a notification, or an
// incoming request.
func Classify(msg Message) Kind {
	hasID := len(msg.ID) > 0
	hasMethod := msg.Method != ""
	switch {
	case hasID && hasMethod:
		return KindRequest
	case hasID && !hasMethod:
		return KindResponse
	case !hasID && hasMethod:
		return KindNotification
	default:
		return KindUnknown
	}
}

// Request is an outbound JSON-RPC request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Notification is an outbound JSON-RPC notification (no id, no reply).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is an outbound reply to an agent-originated request (used to
// answer session/request_permission).
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{} `json:"result,omitempty"`
}

const ProtocolVersion = 1

// Outbound method names.
const (
	MethodInitialize             = "initialize"
	NotificationInitialized      = "notifications/initialized"
	MethodSessionNew             = "session/new"
	MethodSessionPrompt          = "session/prompt"
	MethodSessionEnd             = "session/end"
	MethodShutdown               = "shutdown"
	NotificationSessionUpdate    = "session/update"
	MethodSessionRequestPermissn = "session/request_permission"
)

// InitializeParams is sent as the initialize request's params.
type InitializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
	ClientInfo         ClientInfo         `json:"clientInfo"`
}

type ClientCapabilities struct {
	Fs       FsCapabilities `json:"fs"`
	Terminal bool           `json:"terminal"`
}

type FsCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the subset of the initialize response this
// orchestrator reads: the agent's self-reported identity, under either of
// two possible field names depending on the agent implementation.
type InitializeResult struct {
	ServerInfo *AgentIdentity `json:"serverInfo,omitempty"`
	AgentInfo  *AgentIdentity `json:"agentInfo,omitempty"`
}

type AgentIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// SessionNewParams is sent as session/new's params.
type SessionNewParams struct {
	Cwd        string   `json:"cwd"`
	McpServers []string `json:"mcpServers"`
}

// SessionNewResult is the subset of session/new's result this orchestrator
// reads.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// ContentBlock is one element of a session/prompt request's prompt array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SessionPromptParams is sent as session/prompt's params.
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionPromptResult is the subset of session/prompt's result this
// orchestrator reads.
type SessionPromptResult struct {
	StopReason string `json:"stopReason,omitempty"`
}

// SessionEndParams is sent as session/end's params.
type SessionEndParams struct {
	SessionID string `json:"sessionId"`
}

// SessionUpdateParams is the params of an inbound session/update
// notification.
type SessionUpdateParams struct {
	SessionID string         `json:"sessionId"`
	Update    SessionUpdate  `json:"update"`
}

// SessionUpdate is the tagged-union payload of a session/update
// notification. Every tag-specific field is optional; only the fields
// relevant to the SessionUpdate tag field are populated by a given agent.
//
// content is overloaded by the wire protocol: for agent_message_chunk and
// agent_thought_chunk it is a single object ({"text": "..."}), but for
// tool_call_update it is an array of {"type", "content": {"text"}} items.
// Content is therefore decoded as raw bytes here and unmarshaled into the
// shape the tag actually calls for by the caller (see
// connection/aggregator.go's handleSessionUpdate).
type SessionUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content,omitempty"`
	Title         string          `json:"title,omitempty"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Status        string          `json:"status,omitempty"`
	RawOutput     json.RawMessage `json:"rawOutput,omitempty"`
	Entries       []json.RawMessage `json:"entries,omitempty"`
}

// UpdateContent is the content object carried by agent_message_chunk and
// agent_thought_chunk updates.
type UpdateContent struct {
	Text string `json:"text"`
}

// UpdateContentItem is one element of a tool_call_update's content array.
type UpdateContentItem struct {
	Type    string         `json:"type"`
	Content *UpdateContent `json:"content,omitempty"`
}

// Known session/update tags (spec.md §4.4).
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
)

// RequestPermissionParams is the params of an inbound
// session/request_permission request.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	Options   []PermissionOption `json:"options"`
}

type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind"`
}

// PermissionOutcome is the reply payload to a session/request_permission
// request.
type PermissionOutcome struct {
	Outcome PermissionOutcomeBody `json:"outcome"`
}

type PermissionOutcomeBody struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

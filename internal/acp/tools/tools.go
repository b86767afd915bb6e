// Package tools exposes the ACP session manager as the four MCP tools named
// in spec.md §6: acp_new_session, acp_prompt, acp_end_session and
// acp_list_sessions (C8). Handlers validate required arguments and delegate
// to internal/acp/session.Manager; failures are returned as a JSON payload
// tagged "acp_error" rather than a transport-level tool error, so the host's
// approval gate and the model both see a structured reason.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kandev/acpgate/internal/acp/acperrors"
	"github.com/kandev/acpgate/internal/acp/session"
	"github.com/kandev/acpgate/internal/common/logger"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Risk tags, consumed by the host's approval gate (outside this package).
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Risk reports the risk tag of one of the four tool names.
func Risk(name string) string {
	switch name {
	case "acp_prompt":
		return RiskHigh
	case "acp_new_session":
		return RiskMedium
	default:
		return RiskLow
	}
}

// Register adds the four ACP tools to s, delegating to mgr.
func Register(s *server.MCPServer, mgr *session.Manager, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("acp_new_session",
			mcp.WithDescription("Start a new coding-agent session against a configured ACP agent."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Name of a configured ACP agent")),
			mcp.WithString("workspace", mcp.Description("Workspace directory override")),
			mcp.WithBoolean("auto_approve", mcp.Description("Auto-approve the agent's permission requests")),
		),
		newSessionHandler(mgr, log),
	)

	s.AddTool(
		mcp.NewTool("acp_prompt",
			mcp.WithDescription("Send a natural-language prompt to an existing ACP session and collect its result."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by acp_new_session")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The prompt text")),
			mcp.WithNumber("timeout_secs", mcp.Description("Override the prompt timeout, in seconds")),
		),
		promptHandler(mgr, log),
	)

	s.AddTool(
		mcp.NewTool("acp_end_session",
			mcp.WithDescription("End an ACP session and kill its agent process."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id to end")),
		),
		endSessionHandler(mgr, log),
	)

	s.AddTool(
		mcp.NewTool("acp_list_sessions",
			mcp.WithDescription("List all currently registered ACP sessions and available agents."),
		),
		listSessionsHandler(mgr, log),
	)
}

func newSessionHandler(mgr *session.Manager, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agent, err := req.RequireString("agent")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		workspace := req.GetString("workspace", "")

		var autoApprove *bool
		args := req.GetArguments()
		if raw, ok := args["auto_approve"]; ok {
			if b, ok := raw.(bool); ok {
				autoApprove = &b
			}
		}

		info, err := mgr.NewSession(ctx, agent, workspace, autoApprove)
		if err != nil {
			log.Warn("acp_new_session failed", zap.String("agent", agent), zap.Error(err))
			return errorResult(err.Error()), nil
		}
		return successResult(info)
	}
}

func promptHandler(mgr *session.Manager, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return errorResult(err.Error()), nil
		}

		var timeoutSecs *uint64
		args := req.GetArguments()
		if raw, ok := args["timeout_secs"]; ok {
			if f, ok := raw.(float64); ok && f > 0 {
				v := uint64(f)
				timeoutSecs = &v
			}
		}

		result, err := mgr.Prompt(ctx, sessionID, message, timeoutSecs)
		if err != nil {
			log.Warn("acp_prompt failed", zap.String("session_id", sessionID), zap.Error(err))
			return errorResult(err.Error()), nil
		}
		return successResult(result)
	}
}

func endSessionHandler(mgr *session.Manager, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return errorResult(err.Error()), nil
		}

		if err := mgr.EndSession(ctx, sessionID); err != nil {
			log.Warn("acp_end_session failed", zap.String("session_id", sessionID), zap.Error(err))
			return errorResult(err.Error()), nil
		}
		return successResult(map[string]string{"status": "ended", "session_id": sessionID})
	}
}

func listSessionsHandler(mgr *session.Manager, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, agents := mgr.ListSessions()
		return successResult(map[string]interface{}{
			"sessions":         sessions,
			"available_agents": agents,
		})
	}
}

// errorResult renders msg as the {"error": msg, "kind": "acp_error"} payload
// spec.md §6/§7 requires every tool-surface failure to carry.
func errorResult(msg string) *mcp.CallToolResult {
	payload, _ := json.Marshal(map[string]string{"error": msg, "kind": acperrors.ToolErrorTag})
	return mcp.NewToolResultError(string(payload))
}

func successResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

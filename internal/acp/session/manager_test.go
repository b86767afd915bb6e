package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kandev/acpgate/internal/acp/acperrors"
	"github.com/kandev/acpgate/internal/acp/acpconfig"
)

// mockAgentScript is a minimal ACP agent written as a POSIX shell script: it
// answers initialize, session/new, session/prompt, session/end and shutdown
// with just enough of a reply to drive the manager through a full session
// lifecycle without depending on any real coding agent binary.
const mockAgentScript = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"agentInfo":{"name":"mock","version":"1"}}}\n' "$id"
      ;;
    *'"method":"session/new"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"sessionId":"acp-sess-%s"}}\n' "$id" "$id"
      ;;
    *'"method":"session/prompt"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"acp-sess-1","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"ok"}}}}\n'
      printf '{"jsonrpc":"2.0","id":%s,"result":{"stopReason":"end_turn"}}\n' "$id"
      ;;
    *'"method":"session/end"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{}}\n' "$id"
      ;;
    *'"method":"shutdown"'*)
      id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{}}\n' "$id"
      ;;
    *) ;;
  esac
done
`

func writeMockAgent(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mock-agent.sh")
	if err := os.WriteFile(path, []byte(mockAgentScript), 0o755); err != nil {
		t.Fatalf("failed to write mock agent script: %v", err)
	}
	return path
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	scriptPath := writeMockAgent(t)
	cfg := acpconfig.GlobalConfig{
		DefaultAutoApprove: true,
		PromptTimeoutSecs:  5,
		Agents: map[string]acpconfig.AgentConfig{
			"mock": {
				Launch:    "binary",
				Command:   scriptPath,
				Args:      []string{},
				Env:       map[string]string{},
				Workspace: t.TempDir(),
			},
		},
	}
	return NewManager(cfg, ClientIdentity{Name: "acpgate-test", Version: "0.0.0"}, nil)
}

func TestNewSessionPromptEndSession_Lifecycle(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := mgr.NewSession(ctx, "mock", "", nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if info.Status != string(StatusActive) {
		t.Fatalf("expected active status, got %q", info.Status)
	}

	result, err := mgr.Prompt(ctx, info.SessionID, "hello", nil)
	if err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	if !result.Completed {
		t.Fatal("expected completed prompt")
	}
	if len(result.Messages) != 1 || result.Messages[0] != "ok" {
		t.Fatalf("unexpected messages: %v", result.Messages)
	}

	if err := mgr.EndSession(ctx, info.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	if _, err := mgr.Prompt(ctx, info.SessionID, "hello again", nil); err == nil {
		t.Fatal("expected prompting an ended session to fail")
	} else if kind, _ := acperrors.KindOf(err); kind != acperrors.NotFound {
		t.Fatalf("expected NotFound after end, got %v", err)
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := mgr.NewSession(ctx, "mock", "", nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := mgr.EndSession(ctx, info.SessionID); err != nil {
		t.Fatalf("first EndSession failed: %v", err)
	}
	if err := mgr.EndSession(ctx, info.SessionID); err == nil {
		t.Fatal("expected second EndSession to fail with NotFound")
	} else if kind, _ := acperrors.KindOf(err); kind != acperrors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEndSession_ConcurrentCallsSucceedExactlyOnce(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := mgr.NewSession(ctx, "mock", "", nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	const attempts = 5
	var wg sync.WaitGroup
	var successCount, notFoundCount int
	var mu sync.Mutex
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.EndSession(ctx, info.SessionID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successCount++
			} else if kind, _ := acperrors.KindOf(err); kind == acperrors.NotFound {
				notFoundCount++
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Fatalf("expected exactly one successful EndSession, got %d", successCount)
	}
	if notFoundCount != attempts-1 {
		t.Fatalf("expected %d NotFound results, got %d", attempts-1, notFoundCount)
	}
}

func TestNewSession_UnknownAgent(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := mgr.NewSession(ctx, "nonexistent", "", nil)
	if err == nil {
		t.Fatal("expected an error for an unconfigured agent")
	}
	if got := err.Error(); !contains(got, "not configured") {
		t.Fatalf("expected error to mention \"not configured\", got %q", got)
	}
}

func TestListSessions_And_Cleanup(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 5
	var wg sync.WaitGroup
	infos := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := mgr.NewSession(ctx, "mock", "", nil)
			infos[i] = info.SessionID
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("NewSession #%d failed: %v", i, err)
		}
	}

	summaries, _ := mgr.ListSessions()
	if len(summaries) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(summaries))
	}

	var promptWg sync.WaitGroup
	for i := 0; i < n; i++ {
		promptWg.Add(1)
		go func(i int) {
			defer promptWg.Done()
			_, err := mgr.Prompt(ctx, infos[i], fmt.Sprintf("unique message %d", i), nil)
			if err != nil {
				t.Errorf("Prompt #%d failed: %v", i, err)
			}
		}(i)
	}
	promptWg.Wait()

	mgr.Cleanup(ctx)

	summaries, _ = mgr.ListSessions()
	if len(summaries) != 0 {
		t.Fatalf("expected zero sessions after cleanup, got %d", len(summaries))
	}
}

func TestChatBinding_EndClearsBinding(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := mgr.NewSession(ctx, "mock", "", nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	const chatID = int64(42)
	mgr.BindChat(chatID, info.SessionID)
	if got, ok := mgr.ChatSession(chatID); !ok || got != info.SessionID {
		t.Fatalf("expected chat %d bound to %q, got %q (ok=%v)", chatID, info.SessionID, got, ok)
	}

	if err := mgr.EndChatSession(ctx, chatID); err != nil {
		t.Fatalf("EndChatSession failed: %v", err)
	}
	if _, ok := mgr.ChatSession(chatID); ok {
		t.Fatal("expected chat binding to be cleared after EndChatSession")
	}

	if err := mgr.EndChatSession(ctx, chatID); err == nil {
		t.Fatal("expected EndChatSession on an unbound chat to fail")
	} else if kind, _ := acperrors.KindOf(err); kind != acperrors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
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

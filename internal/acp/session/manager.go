package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/acpgate/internal/acp/acpconfig"
	"github.com/kandev/acpgate/internal/acp/acperrors"
	"github.com/kandev/acpgate/internal/acp/connection"
	"github.com/kandev/acpgate/internal/acp/jsonrpc"
	"github.com/kandev/acpgate/internal/acp/spawn"
	"github.com/kandev/acpgate/internal/common/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClientIdentity is advertised to every spawned agent during its initialize
// handshake.
type ClientIdentity struct {
	Name    string
	Version string
}

// Manager is the process-wide registry mapping opaque session ids to
// Connections plus session state, and the chat-binding side index.
type Manager struct {
	cfg      acpconfig.GlobalConfig
	identity ClientIdentity
	log      *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	chatMu  sync.RWMutex
	chatMap map[int64]string
}

// NewManager builds a Manager from an already-loaded configuration.
func NewManager(cfg acpconfig.GlobalConfig, identity ClientIdentity, log *logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		identity: identity,
		log:      log,
		sessions: make(map[string]*Session),
		chatMap:  make(map[int64]string),
	}
}

// NewManagerFromFile loads the C1 config file at path and builds a Manager.
func NewManagerFromFile(path string, identity ClientIdentity, log *logger.Logger) *Manager {
	return NewManager(acpconfig.Load(path, log), identity, log)
}

// AvailableAgents returns the configured agent names, sorted.
func (m *Manager) AvailableAgents() []string {
	names := make([]string, 0, len(m.cfg.Agents))
	for name := range m.cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAgent reports whether name is configured.
func (m *Manager) HasAgent(name string) bool {
	_, ok := m.cfg.Agents[name]
	return ok
}

// AgentConfig returns the configuration for a configured agent.
func (m *Manager) AgentConfig(name string) (acpconfig.AgentConfig, bool) {
	cfg, ok := m.cfg.Agents[name]
	return cfg, ok
}

// NewSession spawns a new agent process for agentName and registers a
// session for it.
func (m *Manager) NewSession(ctx context.Context, agentName, workspaceOverride string, autoApprove *bool) (Info, error) {
	agentCfg, ok := m.cfg.Agents[agentName]
	if !ok {
		return Info{}, acperrors.Newf(acperrors.UnknownAgent, "agent %q is not configured", agentName)
	}

	effectiveAutoApprove := m.cfg.DefaultAutoApprove
	if agentCfg.AutoApprove != nil {
		effectiveAutoApprove = *agentCfg.AutoApprove
	}
	if autoApprove != nil {
		effectiveAutoApprove = *autoApprove
	}

	workspace := "."
	if agentCfg.Workspace != "" {
		workspace = agentCfg.Workspace
	}
	if workspaceOverride != "" {
		workspace = workspaceOverride
	}

	desc := spawn.Build(agentCfg, workspaceOverride)
	conn, err := connection.Spawn(ctx, agentName, desc, connection.Options{
		ClientName:    m.identity.Name,
		ClientVersion: m.identity.Version,
	}, m.log)
	if err != nil {
		return Info{}, err
	}

	cwd := workspace
	if abs, err := filepath.Abs(workspace); err == nil {
		cwd = abs
	}

	var acpSessionID string
	result, err := conn.SendRequest(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{Cwd: cwd, McpServers: []string{}})
	if err != nil {
		if m.log != nil {
			m.log.WithAgentName(agentName).Warn("session/new failed, continuing without an ACP-side session id", zap.Error(err))
		}
	} else {
		var newResult jsonrpc.SessionNewResult
		if unmarshalErr := unmarshalResult(result, &newResult); unmarshalErr == nil {
			acpSessionID = newResult.SessionID
		}
	}

	hostID := uuid.NewString()
	sess := newSession(hostID, agentName, cwd, effectiveAutoApprove, conn)
	if acpSessionID != "" {
		sess.setAcpSessionID(acpSessionID)
	}

	m.mu.Lock()
	m.sessions[hostID] = sess
	m.mu.Unlock()

	if m.log != nil {
		m.log.WithSessionID(hostID).WithAgentName(agentName).Info("session created", zap.String("workspace", cwd))
	}

	return sess.info(), nil
}

// Prompt sends message to the session's agent and aggregates the streamed
// result.
func (m *Manager) Prompt(ctx context.Context, hostSessionID, message string, timeoutSecs *uint64) (connection.PromptResult, error) {
	m.mu.RLock()
	sess, ok := m.sessions[hostSessionID]
	m.mu.RUnlock()
	if !ok {
		return connection.PromptResult{}, acperrors.New(acperrors.NotFound, "no such session")
	}
	if sess.Status() == StatusEnded {
		return connection.PromptResult{}, acperrors.New(acperrors.SessionEnded, "session has ended")
	}

	acpSessionID := sess.AcpSessionID()
	if acpSessionID == "" {
		return connection.PromptResult{}, acperrors.New(acperrors.NoAgentSession, "agent did not return a session id at creation time")
	}

	if !sess.casStatus(StatusActive, StatusPrompting) {
		return connection.PromptResult{}, acperrors.New(acperrors.SessionEnded, "session is not active")
	}

	timeout := time.Duration(m.cfg.PromptTimeoutSecs) * time.Second
	if timeoutSecs != nil {
		timeout = time.Duration(*timeoutSecs) * time.Second
	}

	result, err := sess.conn.PromptStreaming(ctx, acpSessionID, message, sess.AutoApprove, timeout)
	if err != nil && m.log != nil {
		m.log.WithSessionID(hostSessionID).WithAgentName(sess.AgentName).Warn("prompt did not complete cleanly", zap.Error(err))
	}

	// Restore to Active unless the session was concurrently ended.
	sess.casStatus(StatusPrompting, StatusActive)

	return result, err
}

// EndSession removes hostSessionID from the registry, best-effort notifies
// the agent, shuts down its connection, and clears any chat bindings that
// pointed at it.
func (m *Manager) EndSession(ctx context.Context, hostSessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[hostSessionID]
	if ok {
		delete(m.sessions, hostSessionID)
	}
	m.mu.Unlock()

	if !ok {
		return acperrors.New(acperrors.NotFound, "no such session")
	}

	if acpID := sess.AcpSessionID(); acpID != "" {
		_, _ = sess.conn.SendRequest(ctx, jsonrpc.MethodSessionEnd, jsonrpc.SessionEndParams{SessionID: acpID})
	}
	sess.conn.Shutdown(ctx)
	sess.setStatus(StatusEnded)

	m.unbindAllPointingTo(hostSessionID)

	if m.log != nil {
		m.log.WithSessionID(hostSessionID).WithAgentName(sess.AgentName).Info("session ended")
	}

	return nil
}

// ListSessions returns a snapshot of all registered sessions plus the set of
// configured agent names.
func (m *Manager) ListSessions() ([]Summary, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, m.AvailableAgents()
}

// Cleanup ends every currently registered session, logging and swallowing
// per-session errors, fanning the end_session calls out concurrently.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.EndSession(ctx, id); err != nil && m.log != nil {
				m.log.WithSessionID(id).Warn("cleanup failed to end session", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func unmarshalResult(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(raw, v)
}

// Package session implements the process-wide session manager (C7): the
// registry mapping opaque host session ids to live Connections, the
// chat-binding side index, and the new_session/prompt/end_session/
// list_sessions/cleanup lifecycle operations.
package session

import (
	"sync"
	"time"

	"github.com/kandev/acpgate/internal/acp/connection"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPrompting Status = "prompting"
	StatusEnded     Status = "ended"
)

// Session is the host-visible handle combining an owned agent subprocess, a
// chosen workspace, a policy, and an optional ACP-side session identifier.
type Session struct {
	ID          string
	AgentName   string
	Workspace   string
	AutoApprove bool
	CreatedAt   time.Time

	mu           sync.Mutex
	status       Status
	acpSessionID string
	conn         *connection.Connection
}

func newSession(id, agentName, workspace string, autoApprove bool, conn *connection.Connection) *Session {
	return &Session{
		ID:          id,
		AgentName:   agentName,
		Workspace:   workspace,
		AutoApprove: autoApprove,
		CreatedAt:   time.Now().UTC(),
		status:      StatusActive,
		conn:        conn,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// casStatus transitions from `from` to `to` only if the current status is
// still `from`; it reports whether the transition happened. Used to avoid
// clobbering a concurrent End with a stale "restore to Active".
func (s *Session) casStatus(from, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

func (s *Session) setAcpSessionID(id string) {
	s.mu.Lock()
	s.acpSessionID = id
	s.mu.Unlock()
}

func (s *Session) AcpSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acpSessionID
}

// Info is the snapshot returned by new_session.
type Info struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
}

// Summary is one entry of list_sessions's snapshot.
type Summary struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (s *Session) summary() Summary {
	return Summary{
		SessionID: s.ID,
		AgentName: s.AgentName,
		Workspace: s.Workspace,
		Status:    string(s.Status()),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Session) info() Info {
	return Info{
		SessionID: s.ID,
		AgentName: s.AgentName,
		Workspace: s.Workspace,
		Status:    string(s.Status()),
	}
}

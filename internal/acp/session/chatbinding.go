package session

import (
	"context"

	"github.com/kandev/acpgate/internal/acp/acperrors"
)

// BindChat records that host chat chatID's ACP traffic routes to
// hostSessionID.
func (m *Manager) BindChat(chatID int64, hostSessionID string) {
	m.chatMu.Lock()
	m.chatMap[chatID] = hostSessionID
	m.chatMu.Unlock()
}

// UnbindChat removes chatID's binding, if any.
func (m *Manager) UnbindChat(chatID int64) {
	m.chatMu.Lock()
	delete(m.chatMap, chatID)
	m.chatMu.Unlock()
}

// ChatSession looks up the session bound to chatID.
func (m *Manager) ChatSession(chatID int64) (string, bool) {
	m.chatMu.RLock()
	defer m.chatMu.RUnlock()
	id, ok := m.chatMap[chatID]
	return id, ok
}

// EndChatSession ends the session bound to chatID (if any) and clears the
// binding. It is sugar over ChatSession + EndSession + UnbindChat, mirroring
// the original implementation's end_chat_session convenience.
func (m *Manager) EndChatSession(ctx context.Context, chatID int64) error {
	hostSessionID, ok := m.ChatSession(chatID)
	if !ok {
		return acperrors.New(acperrors.NotFound, "no session bound to this chat")
	}
	err := m.EndSession(ctx, hostSessionID)
	m.UnbindChat(chatID)
	return err
}

// unbindAllPointingTo removes every chat binding that points at
// hostSessionID, called when that session ends.
func (m *Manager) unbindAllPointingTo(hostSessionID string) {
	m.chatMu.Lock()
	defer m.chatMu.Unlock()
	for chatID, sid := range m.chatMap {
		if sid == hostSessionID {
			delete(m.chatMap, chatID)
		}
	}
}

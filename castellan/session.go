package castellan

import (
	"sync"
	"time"
)

// ApplicationSession tracks one user's progress through a multi-page
// application form. Sessions are keyed by (guild, user) so a user has at
// most one in-flight application per guild.
type ApplicationSession struct {
	PanelName   string
	GuildID     string
	CurrentPage int
	TotalPages  int
	Answers     map[string]string
	StartedAt   time.Time
}

// SessionStore holds in-flight application sessions. Implementations must
// be safe for concurrent use.
type SessionStore interface {
	Get(guildID string, userID string) (*ApplicationSession, bool)
	Put(guildID string, userID string, session *ApplicationSession)
	Delete(guildID string, userID string)

	// Sweep drops sessions older than maxAge and returns the number
	// removed.
	Sweep(maxAge time.Duration) int
}

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*ApplicationSession
}

// NewMemorySessionStore returns an in-memory SessionStore. Sessions don't
// survive a restart; users restart a form from the beginning, which is the
// documented behavior for stale sessions anyway.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{sessions: map[string]*ApplicationSession{}}
}

func sessionKey(guildID string, userID string) string {
	return guildID + "\x1e" + userID
}

func (m *memorySessionStore) Get(guildID string, userID string) (
	*ApplicationSession,
	bool,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(guildID, userID)]
	return s, ok
}

func (m *memorySessionStore) Put(
	guildID string,
	userID string,
	session *ApplicationSession,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey(guildID, userID)] = session
}

func (m *memorySessionStore) Delete(guildID string, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey(guildID, userID))
}

func (m *memorySessionStore) Sweep(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for k, s := range m.sessions {
		if s.StartedAt.Before(cutoff) {
			delete(m.sessions, k)
			removed++
		}
	}
	return removed
}

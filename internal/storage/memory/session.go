package memory

import (
	"sync"
	"time"
)

// SessionStore 基于内存的用户会话状态存储，未配置 Redis 时使用。
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]sessionEntry
}

type sessionEntry struct {
	state     string
	expiresAt time.Time
}

// NewSessionStore 创建内存会话存储。
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]sessionEntry)}
}

// SetUserState 记录用户会话状态，ttl 到期后自动失效。
func (s *SessionStore) SetUserState(userID int64, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = sessionEntry{state: state, expiresAt: time.Now().Add(ttl)}
	return nil
}

// GetUserState 读取用户会话状态，不存在或已过期时返回空串。
func (s *SessionStore) GetUserState(userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[userID]
	if !ok {
		return "", nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.sessions, userID)
		return "", nil
	}
	return entry.state, nil
}

// ClearUserState 清除用户会话状态。
func (s *SessionStore) ClearUserState(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

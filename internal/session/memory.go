package session

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/genx/backend/internal/model/user"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on restart,
// which makes it suitable for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]user.Session
}

// NewMemoryStore returns an empty MemoryStore issuing sessions valid for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]user.Session),
	}
}

// Create issues a session for userID.
func (s *MemoryStore) Create(_ context.Context, userID string) (user.Session, error) {
	if userID == "" {
		return user.Session{}, ErrUserIDRequired
	}

	sess := user.Session{
		Token:     NewToken(),
		UserID:    userID,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return sess, nil
}

// Put stores a prepared session as is.
func (s *MemoryStore) Put(sess user.Session) {
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
}

// Lookup returns the live session for token.
func (s *MemoryStore) Lookup(_ context.Context, token string) (user.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || sess.Expired(s.now()) {
		return user.Session{}, ErrNotFound
	}
	return sess, nil
}

// Revoke forgets token.
func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// PruneExpired drops every expired session.
func (s *MemoryStore) PruneExpired(_ context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

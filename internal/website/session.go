package website

import "sync"

// SessionData is transient per-account scratch state such as CSRF tokens or
// auth blobs. It is never persisted and is cleared on logout.
type SessionData struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSessionData returns an empty session.
func NewSessionData() *SessionData {
	return &SessionData{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *SessionData) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores v under key.
func (s *SessionData) Set(key string, v any) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

// Delete removes key.
func (s *SessionData) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Clear drops every value.
func (s *SessionData) Clear() {
	s.mu.Lock()
	s.values = make(map[string]any)
	s.mu.Unlock()
}

// SessionValue returns the value for key if it holds a T.
func SessionValue[T any](s *SessionData, key string) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process website.Persister.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]json.RawMessage
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
}

// LoadAccountData returns a copy of the stored data; unknown accounts are empty.
func (m *MemoryStore) LoadAccountData(_ context.Context, accountID string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyData(m.data[accountID]), nil
}

// SaveAccountData replaces the stored data with a copy of data.
func (m *MemoryStore) SaveAccountData(_ context.Context, accountID string, data map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[accountID] = copyData(data)
	return nil
}

// DeleteAccountData forgets the account.
func (m *MemoryStore) DeleteAccountData(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, accountID)
	return nil
}

func copyData(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

package website

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Persister stores account data between runs.
type Persister interface {
	LoadAccountData(ctx context.Context, accountID string) (map[string]json.RawMessage, error)
	SaveAccountData(ctx context.Context, accountID string, data map[string]json.RawMessage) error
	DeleteAccountData(ctx context.Context, accountID string) error
}

// AccountData is the persisted key/value bag for one account.
type AccountData struct {
	mu        sync.RWMutex
	accountID string
	values    map[string]json.RawMessage
	persister Persister
}

// NewAccountData returns an empty store. persister may be nil.
func NewAccountData(accountID string, persister Persister) *AccountData {
	return &AccountData{
		accountID: accountID,
		values:    make(map[string]json.RawMessage),
		persister: persister,
	}
}

// Load replaces the in-memory values with the persisted ones.
func (d *AccountData) Load(ctx context.Context) error {
	if d.persister == nil {
		return nil
	}
	values, err := d.persister.LoadAccountData(ctx, d.accountID)
	if err != nil {
		return fmt.Errorf("load account data: %w", err)
	}
	d.mu.Lock()
	d.values = make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		d.values[k] = v
	}
	d.mu.Unlock()
	return nil
}

// Save persists the current values.
func (d *AccountData) Save(ctx context.Context) error {
	if d.persister == nil {
		return nil
	}
	d.mu.RLock()
	snapshot := make(map[string]json.RawMessage, len(d.values))
	for k, v := range d.values {
		snapshot[k] = v
	}
	d.mu.RUnlock()
	if err := d.persister.SaveAccountData(ctx, d.accountID, snapshot); err != nil {
		return fmt.Errorf("save account data: %w", err)
	}
	return nil
}

// Clear removes every value, including the persisted copy.
func (d *AccountData) Clear(ctx context.Context) error {
	d.mu.Lock()
	d.values = make(map[string]json.RawMessage)
	d.mu.Unlock()
	if d.persister == nil {
		return nil
	}
	return d.persister.DeleteAccountData(ctx, d.accountID)
}

// Get decodes key into v. It reports false when the key is absent.
func (d *AccountData) Get(key string, v any) (bool, error) {
	d.mu.RLock()
	raw, ok := d.values[key]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode account data %q: %w", key, err)
	}
	return true, nil
}

// GetString returns key as a string, or "" if absent or not a string.
func (d *AccountData) GetString(key string) string {
	var s string
	if ok, err := d.Get(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

// Set stores v under key.
func (d *AccountData) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode account data %q: %w", key, err)
	}
	d.mu.Lock()
	d.values[key] = raw
	d.mu.Unlock()
	return nil
}

// Delete removes key.
func (d *AccountData) Delete(key string) {
	d.mu.Lock()
	delete(d.values, key)
	d.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (d *AccountData) Keys() []string {
	d.mu.RLock()
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	d.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (d *AccountData) filtered(allowed func(string) bool) map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any)
	for k, raw := range d.values {
		if !allowed(k) {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out
}

// LoadData decodes the whole store into a T, typically a struct with json tags.
func LoadData[T any](d *AccountData) (T, error) {
	var out T
	d.mu.RLock()
	raw, err := json.Marshal(d.values)
	d.mu.RUnlock()
	if err != nil {
		return out, fmt.Errorf("encode account data: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode account data: %w", err)
	}
	return out, nil
}

// StoreData writes every field of v into the store. Fields omitted by their
// json tags leave existing keys untouched.
func StoreData[T any](d *AccountData, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode account data: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("account data must be an object: %w", err)
	}
	d.mu.Lock()
	for k, v := range fields {
		d.values[k] = v
	}
	d.mu.Unlock()
	return nil
}

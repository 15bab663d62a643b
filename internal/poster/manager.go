// Package poster drives website adapters: it creates one instance per
// account, validates submissions, posts them and keeps login state fresh.
package poster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blacktop/multipost/internal/website"
)

// Manager owns the adapter instances, one per account.
type Manager struct {
	registry  *website.Registry
	persister website.Persister

	mu        sync.Mutex
	instances map[string]website.Website
}

// NewManager returns a manager backed by registry. persister may be nil.
func NewManager(registry *website.Registry, persister website.Persister) *Manager {
	return &Manager{
		registry:  registry,
		persister: persister,
		instances: make(map[string]website.Website),
	}
}

// Registry returns the website registry.
func (m *Manager) Registry() *website.Registry { return m.registry }

// Instance returns the adapter for account, creating it and loading its
// account data on first use.
func (m *Manager) Instance(ctx context.Context, account website.Account) (website.Website, error) {
	if account.ID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.instances[account.ID]; ok {
		if got := w.WebsiteBase().Account().Website; account.Website != "" && !strings.EqualFold(got, account.Website) {
			return nil, fmt.Errorf("account %s belongs to %s, not %s", account.ID, got, account.Website)
		}
		return w, nil
	}

	reg, ok := m.registry.Lookup(account.Website)
	if !ok {
		return nil, fmt.Errorf("website %q is not registered", account.Website)
	}
	w := reg.NewInstance(account, m.persister)
	if err := w.WebsiteBase().Data().Load(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", account.ID, err)
	}
	m.instances[account.ID] = w
	return w, nil
}

// Instances returns every created instance ordered by account id.
func (m *Manager) Instances() []website.Website {
	m.mu.Lock()
	out := make([]website.Website, 0, len(m.instances))
	for _, w := range m.instances {
		out = append(out, w)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].WebsiteBase().AccountID() < out[j].WebsiteBase().AccountID()
	})
	return out
}

// Remove drops the instance for accountID and deletes its account data.
func (m *Manager) Remove(ctx context.Context, accountID string) error {
	m.mu.Lock()
	w, ok := m.instances[accountID]
	delete(m.instances, accountID)
	m.mu.Unlock()
	if ok {
		return w.WebsiteBase().Data().Clear(ctx)
	}
	if m.persister != nil {
		return m.persister.DeleteAccountData(ctx, accountID)
	}
	return nil
}

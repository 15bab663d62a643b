package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/multipost/internal/website"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "multipost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	empty, err := s.LoadAccountData(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	data := map[string]json.RawMessage{
		"username": json.RawMessage(`"alice"`),
		"limits":   json.RawMessage(`{"maxCharacters": 500}`),
	}
	require.NoError(t, s.SaveAccountData(ctx, "acct-1", data))
	require.NoError(t, s.SaveAccountData(ctx, "acct-2", nil))

	got, err := s.LoadAccountData(ctx, "acct-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"alice"`, string(got["username"]))
	assert.JSONEq(t, `{"maxCharacters":500}`, string(got["limits"]))

	ids, err := s.AccountIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, ids)

	require.NoError(t, s.DeleteAccountData(ctx, "acct-1"))
	got, err = s.LoadAccountData(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_Upsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.SaveAccountData(ctx, "acct", map[string]json.RawMessage{"a": json.RawMessage(`1`)}))
	require.NoError(t, s.SaveAccountData(ctx, "acct", map[string]json.RawMessage{"b": json.RawMessage(`2`)}))

	got, err := s.LoadAccountData(ctx, "acct")
	require.NoError(t, err)
	assert.NotContains(t, got, "a")
	assert.JSONEq(t, `2`, string(got["b"]))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "multipost.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveAccountData(ctx, "acct", map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadAccountData(ctx, "acct")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got["k"]))
}

func TestStores_BackAccountData(t *testing.T) {
	ctx := context.Background()
	for name, p := range map[string]website.Persister{
		"sqlite": newTestSQLite(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			d := website.NewAccountData("acct", p)
			require.NoError(t, d.Set("token", "abc"))
			require.NoError(t, d.Save(ctx))

			again := website.NewAccountData("acct", p)
			require.NoError(t, again.Load(ctx))
			assert.Equal(t, "abc", again.GetString("token"))

			require.NoError(t, again.Clear(ctx))
			fresh := website.NewAccountData("acct", p)
			require.NoError(t, fresh.Load(ctx))
			assert.Empty(t, fresh.Keys())
		})
	}
}

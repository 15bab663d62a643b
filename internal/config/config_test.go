package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "multipost.db"), cfg.Database)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2, cfg.HTTP.RetryMax)
	assert.Equal(t, 4, cfg.Post.Concurrency)
	assert.Empty(t, cfg.Post.Footer)
	assert.Empty(t, cfg.Accounts)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		Database: "/tmp/mp.db",
		HTTP:     HTTPConfig{Timeout: 5 * time.Second, RetryMax: 1},
		Post:     PostConfig{Concurrency: 2, Footer: "via multipost"},
		Accounts: []AccountConfig{
			{ID: "a1", Website: "bluesky", Name: "personal"},
			{ID: "a2", Website: "discord", Name: "work"},
		},
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	acct, ok := out.Account("WORK")
	require.True(t, ok)
	assert.Equal(t, "a2", acct.ID)
	_, ok = out.Account("nobody")
	assert.False(t, ok)
}

func TestLoad_NormalizesAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "post:\n  concurrency: 0\naccounts:\n  - id: a1\n    website: \" Mastodon \"\n    name: m\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Post.Concurrency)
	assert.Equal(t, "mastodon", cfg.Accounts[0].Website)

	t.Setenv("MULTIPOST_POST_CONCURRENCY", "8")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Post.Concurrency)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts: [\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

package website

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AppliesDefaults(t *testing.T) {
	r := NewRegistry()
	reg, err := r.Register(messageDefinition("Example"))
	require.NoError(t, err)

	assert.Equal(t, "example", reg.Name())
	assert.Equal(t, "Example", reg.Metadata().DisplayName)
	assert.Equal(t, time.Hour, reg.RefreshInterval())

	opts := reg.FileOptions()
	assert.Equal(t, 1, opts.FileBatchSize)
	assert.Empty(t, opts.AcceptedMimeTypes)
	assert.Empty(t, opts.AcceptedFileSizes)
	assert.False(t, opts.AcceptsExternalSourceURLs)
	assert.Empty(t, opts.SupportedFileTypes)
	assert.False(t, reg.AdsDisabled())
}

func TestRegister_DerivesSupportedFileTypes(t *testing.T) {
	r := NewRegistry()
	def := messageDefinition("files")
	def.New = func(b *Base) Website { return &fileSite{messageSite{Base: b}} }
	def.Files = FileOptions{
		AcceptedMimeTypes: []string{"image/png", "image/jpeg", "video/mp4", "image/gif", "text/plain"},
		FileBatchSize:     4,
	}

	reg, err := r.Register(def)
	require.NoError(t, err)
	assert.Equal(t, []FileType{FileTypeImage, FileTypeVideo, FileTypeText}, reg.FileOptions().SupportedFileTypes)
	assert.Equal(t, 4, reg.FileOptions().FileBatchSize)
}

func TestRegister_ResolvesCapabilities(t *testing.T) {
	r := NewRegistry()

	msg, err := r.Register(messageDefinition("msg"))
	require.NoError(t, err)
	assert.Equal(t, Capabilities{Message: true}, msg.Capabilities())

	def := messageDefinition("file")
	def.New = func(b *Base) Website { return &fileSite{messageSite{Base: b}} }
	file, err := r.Register(def)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{File: true, Message: true}, file.Capabilities())

	def = messageDefinition("oauth")
	def.New = func(b *Base) Website { return &oauthSite{messageSite{Base: b}} }
	oauth, err := r.Register(def)
	require.NoError(t, err)
	assert.True(t, oauth.Capabilities().OAuth)
	assert.Equal(t, 3*time.Hour, oauth.RefreshInterval())
}

func TestRegister_KeepsExplicitRefreshInterval(t *testing.T) {
	def := messageDefinition("slow")
	def.RefreshInterval = 10 * time.Minute
	reg, err := NewRegistry().Register(def)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, reg.RefreshInterval())
}

func TestRegister_Rejects(t *testing.T) {
	tests := []struct {
		name string
		def  func() Definition
	}{
		{"missing name", func() Definition { d := messageDefinition(""); return d }},
		{"missing login", func() Definition { d := messageDefinition("x"); d.Login = nil; return d }},
		{"missing factory", func() Definition { d := messageDefinition("x"); d.New = nil; return d }},
		{"no capability", func() Definition {
			d := messageDefinition("x")
			d.New = func(b *Base) Website { return &loginOnlySite{Base: b} }
			return d
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.def())
			var regErr RegistrationError
			assert.True(t, errors.As(err, &regErr), "got %v", err)
		})
	}
}

func TestRegistry_DuplicateAndFrozen(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(messageDefinition("one"))
	require.NoError(t, err)

	_, err = r.Register(messageDefinition("ONE"))
	assert.ErrorContains(t, err, "already registered")

	r.Freeze()
	_, err = r.Register(messageDefinition("two"))
	assert.ErrorContains(t, err, "frozen")

	_, ok := r.Lookup("two")
	assert.False(t, ok)
	reg, ok := r.Lookup(" One ")
	require.True(t, ok)
	assert.Equal(t, "one", reg.Name())
}

func TestRegistry_AllSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.Register(messageDefinition(name))
		require.NoError(t, err)
	}
	var names []string
	for _, reg := range r.All() {
		names = append(names, reg.Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestRegistration_FileOptionsIsACopy(t *testing.T) {
	def := messageDefinition("files")
	def.New = func(b *Base) Website { return &fileSite{messageSite{Base: b}} }
	def.Files = FileOptions{AcceptedFileSizes: map[string]int64{"*": 10}}
	reg, err := NewRegistry().Register(def)
	require.NoError(t, err)

	opts := reg.FileOptions()
	opts.AcceptedFileSizes["*"] = 99
	assert.Equal(t, int64(10), reg.FileOptions().AcceptedFileSizes["*"])
}

func TestExpandShortcuts(t *testing.T) {
	r := NewRegistry()
	def := messageDefinition("bsky")
	def.UsernameShortcut = &UsernameShortcut{ID: "bsky", URL: "https://bsky.app/profile/$1"}
	_, err := r.Register(def)
	require.NoError(t, err)

	def = messageDefinition("masto")
	def.UsernameShortcut = &UsernameShortcut{
		ID:  "masto",
		URL: "https://mastodon.social/@$1",
		Convert: func(target, name string) string {
			if target == "masto" {
				return "@" + name
			}
			return ""
		},
	}
	_, err = r.Register(def)
	require.NoError(t, err)

	text := "thanks {bsky:alice.bsky.social} and {masto:bob} and {nope:carol}"
	assert.Equal(t,
		"thanks https://bsky.app/profile/alice.bsky.social and https://mastodon.social/@bob and {nope:carol}",
		r.ExpandShortcuts(text, "bsky"))
	assert.Equal(t,
		"thanks https://bsky.app/profile/alice.bsky.social and @bob and {nope:carol}",
		r.ExpandShortcuts(text, "masto"))
}

func TestRegistration_ShortcutIsImmutable(t *testing.T) {
	r := NewRegistry()
	def := messageDefinition("bsky")
	def.UsernameShortcut = &UsernameShortcut{ID: "bsky", URL: "https://bsky.app/profile/$1"}
	reg, err := r.Register(def)
	require.NoError(t, err)

	def.UsernameShortcut.URL = "https://evil.test/$1"
	reg.UsernameShortcut().URL = "https://evil.test/$1"

	assert.Equal(t, "https://bsky.app/profile/$1", reg.UsernameShortcut().URL)
	assert.Equal(t, "hi https://bsky.app/profile/al", r.ExpandShortcuts("hi {bsky:al}", "other"))
}

func TestExternallyAccessibleData(t *testing.T) {
	def := messageDefinition("secrets")
	def.ExternallyAccessible = map[string]bool{"username": true, "secretKey": false}
	reg, err := NewRegistry().Register(def)
	require.NoError(t, err)

	w := reg.NewInstance(Account{ID: "acct-1"}, nil)
	data := w.WebsiteBase().Data()
	require.NoError(t, data.Set("username", "alice"))
	require.NoError(t, data.Set("secretKey", "hunter2"))
	require.NoError(t, data.Set("unlisted", "also private"))

	assert.Equal(t, map[string]any{"username": "alice"}, w.WebsiteBase().ExternallyAccessibleData())
	assert.Equal(t, "secrets", w.WebsiteBase().Account().Website)
}

package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

type fakeDiscord struct {
	*httptest.Server
	lastQuery   string
	lastPayload payload
	lastContent string
	fileNames   []string
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/webhooks/1/token" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"name":"Release Bot","guild_id":"g1","channel_id":"c1"}`))
			return
		}
		f.lastQuery = r.URL.RawQuery
		if r.Header.Get("Content-Type") == "application/json" {
			var body map[string]string
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, &body))
			f.lastContent = body["content"]
		} else {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload_json")), &f.lastPayload))
			f.fileNames = nil
			for field, headers := range r.MultipartForm.File {
				for _, h := range headers {
					f.fileNames = append(f.fileNames, field+"="+h.Filename)
				}
			}
		}
		_, _ = w.Write([]byte(`{"id":"m1","channel_id":"c1"}`))
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestWebsite(t *testing.T) *Website {
	t.Helper()
	reg, err := Register(website.NewRegistry(), transport.NewClient(transport.Config{RetryMax: -1}))
	require.NoError(t, err)
	return reg.NewInstance(website.Account{ID: "d1"}, nil).(*Website)
}

func TestRegistration(t *testing.T) {
	w := newTestWebsite(t)
	reg := w.Registration()
	assert.Equal(t, website.Capabilities{File: true, Message: true, DynamicLimits: true}, reg.Capabilities())
	assert.Equal(t, 10, reg.FileOptions().FileBatchSize)
	assert.Equal(t, website.CustomLogin{ComponentName: "DiscordLogin"}, reg.LoginType())
	assert.False(t, reg.IsExternallyAccessible(keyWebhook))
	assert.True(t, reg.IsExternallyAccessible(keyServerLevel))
}

func TestOnLogin(t *testing.T) {
	ctx := context.Background()
	srv := newFakeDiscord(t)
	w := newTestWebsite(t)

	assert.False(t, website.CheckLogin(ctx, w).IsLoggedIn, "no webhook stored")

	require.NoError(t, w.Data().Set(keyWebhook, srv.URL+"/api/webhooks/1/missing"))
	assert.False(t, website.CheckLogin(ctx, w).IsLoggedIn)

	require.NoError(t, w.Data().Set(keyWebhook, srv.URL+"/api/webhooks/1/token"))
	state := website.CheckLogin(ctx, w)
	assert.True(t, state.IsLoggedIn)
	assert.Equal(t, "Release Bot", state.Username)
	assert.Equal(t, "g1", w.Data().GetString(keyGuildID))

	public := w.ExternallyAccessibleData()
	assert.Equal(t, "Release Bot", public[keyName])
	assert.NotContains(t, public, keyWebhook)
	assert.NotContains(t, public, keyGuildID)
}

func TestPostMessage(t *testing.T) {
	ctx := context.Background()
	srv := newFakeDiscord(t)
	w := newTestWebsite(t)
	require.NoError(t, w.Data().Set(keyWebhook, srv.URL+"/api/webhooks/1/token"))
	website.CheckLogin(ctx, w)

	data := &website.PostData{Options: &MessageOptions{
		CommonOptions: website.CommonOptions{Title: "v1.2", Description: "Shipped", Tags: []string{"release"}},
		UseTitle:      true,
	}}
	assert.True(t, w.ValidateMessageSubmission(ctx, data).Valid())

	resp, err := w.PostMessageSubmission(ctx, data, website.NewCancelToken())
	require.NoError(t, err)
	require.False(t, resp.Failed(), "%v", resp.Exception)
	assert.Equal(t, "https://discord.com/channels/g1/c1/m1", resp.SourceURL)
	assert.Equal(t, "wait=true", srv.lastQuery)
	assert.Equal(t, "**v1.2**\n\nShipped\n\n#release", srv.lastContent)
}

func TestPostFiles(t *testing.T) {
	ctx := context.Background()
	srv := newFakeDiscord(t)
	w := newTestWebsite(t)
	require.NoError(t, w.Data().Set(keyWebhook, srv.URL+"/api/webhooks/1/token"))

	data := &website.PostData{Options: &FileOptions{
		CommonOptions: website.CommonOptions{Description: "screens"},
		Spoiler:       true,
	}}
	files := []*website.PostingFile{
		{FileName: "a.png", MimeType: "image/png", Data: []byte("a"), AltText: "first"},
		{FileName: "b.png", MimeType: "image/png", Data: []byte("b")},
	}
	resp, err := w.PostFileSubmission(ctx, data, files, website.NewCancelToken())
	require.NoError(t, err)
	require.False(t, resp.Failed(), "%v", resp.Exception)

	assert.ElementsMatch(t, []string{"files[0]=SPOILER_a.png", "files[1]=SPOILER_b.png"}, srv.fileNames)
	assert.Equal(t, "screens", srv.lastPayload.Content)
	require.Len(t, srv.lastPayload.Attachments, 2)
	assert.Equal(t, "first", srv.lastPayload.Attachments[0].Description)
	assert.Empty(t, resp.SourceURL, "guild unknown until login")
}

func TestPostCancelled(t *testing.T) {
	srv := newFakeDiscord(t)
	w := newTestWebsite(t)
	require.NoError(t, w.Data().Set(keyWebhook, srv.URL+"/api/webhooks/1/token"))
	token := website.NewCancelToken()
	token.Cancel()

	resp, err := w.PostMessageSubmission(context.Background(), &website.PostData{Options: &MessageOptions{}}, token)
	require.NoError(t, err)
	assert.True(t, resp.Cancelled())
	assert.Empty(t, srv.lastQuery)
}

func TestValidateContentLength(t *testing.T) {
	w := newTestWebsite(t)
	long := make([]rune, maxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}
	data := &website.PostData{Options: &MessageOptions{CommonOptions: website.CommonOptions{Description: string(long)}}}
	r := w.ValidateMessageSubmission(context.Background(), data)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, website.MsgDescriptionMax, r.Errors[0].ID)

	empty := &website.PostData{Options: &MessageOptions{}}
	assert.False(t, w.ValidateMessageSubmission(context.Background(), empty).Valid())
}

func TestDynamicFileSizeLimits(t *testing.T) {
	w := newTestWebsite(t)
	for level, want := range map[int]int64{0: 25 * mb, 1: 25 * mb, 2: 50 * mb, 3: 100 * mb} {
		require.NoError(t, w.Data().Set(keyServerLevel, level))
		assert.Equal(t, map[string]int64{website.AnyFileSize: want}, w.DynamicFileSizeLimits(), "level %d", level)
	}
}

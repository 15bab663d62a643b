// Package discord posts to a Discord channel through a webhook.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

const (
	websiteName = "discord"

	keyWebhook     = "webhook"
	keyServerLevel = "serverLevel"
	keyName        = "name"
	keyGuildID     = "guildId"
	keyChannelID   = "channelId"

	maxContentLength = 2000
	maxFiles         = 10
	mb               = 1024 * 1024
)

// AccountData is what a Discord account stores.
type AccountData struct {
	Webhook     string `json:"webhook,omitempty"`
	ServerLevel int    `json:"serverLevel"`
	Name        string `json:"name,omitempty"`
	GuildID     string `json:"guildId,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
}

// FileOptions are the file submission options.
type FileOptions struct {
	website.CommonOptions
	Spoiler  bool `json:"spoiler"`
	UseTitle bool `json:"useTitle"`
}

// MessageOptions are the message submission options.
type MessageOptions struct {
	website.CommonOptions
	UseTitle bool `json:"useTitle"`
}

// Website is the Discord webhook adapter.
type Website struct {
	*website.Base
	http *transport.Client
}

// Definition declares the Discord website type.
func Definition(client *transport.Client) website.Definition {
	return website.Definition{
		Metadata: website.Metadata{
			Name:                    websiteName,
			DisplayName:             "Discord",
			MinimumPostWaitInterval: 2 * time.Second,
		},
		Login: website.CustomLogin{ComponentName: "DiscordLogin"},
		Files: website.FileOptions{
			AcceptedFileSizes:         map[string]int64{website.AnyFileSize: 25 * mb},
			FileBatchSize:             maxFiles,
			AcceptsExternalSourceURLs: true,
		},
		ExternallyAccessible: map[string]bool{
			keyWebhook:     false,
			keyServerLevel: true,
			keyName:        true,
			keyGuildID:     false,
			keyChannelID:   false,
		},
		New: func(b *website.Base) website.Website {
			return &Website{Base: b, http: client}
		},
	}
}

// Register adds Discord to r.
func Register(r *website.Registry, client *transport.Client) (*website.Registration, error) {
	return r.Register(Definition(client))
}

type webhookInfo struct {
	Name      string `json:"name"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// OnLogin verifies the stored webhook still exists.
func (w *Website) OnLogin(ctx context.Context) (website.LoginState, error) {
	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if strings.TrimSpace(data.Webhook) == "" {
		return website.NotLoggedIn(), nil
	}

	resp, err := w.http.Get(ctx, data.Webhook, transport.Options{Partition: w.PartitionKey()})
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if !resp.OK() {
		w.Logger().Warnf("webhook check returned %d", resp.StatusCode)
		return website.NotLoggedIn(), nil
	}
	var info webhookInfo
	if err := resp.Decode(&info); err != nil {
		return website.NotLoggedIn(), err
	}

	data.Name, data.GuildID, data.ChannelID = info.Name, info.GuildID, info.ChannelID
	if err := website.StoreData(w.Data(), data); err != nil {
		return website.NotLoggedIn(), err
	}
	return website.LoggedInAs(info.Name), nil
}

// DynamicFileSizeLimits reflects the server boost level.
func (w *Website) DynamicFileSizeLimits() map[string]int64 {
	var level int
	w.Data().Get(keyServerLevel, &level)
	limit := int64(25 * mb)
	switch {
	case level >= 3:
		limit = 100 * mb
	case level == 2:
		limit = 50 * mb
	}
	return map[string]int64{website.AnyFileSize: limit}
}

// CreateFileModel returns attachment options.
func (w *Website) CreateFileModel() website.Options { return &FileOptions{} }

// CreateMessageModel returns message options.
func (w *Website) CreateMessageModel() website.Options { return &MessageOptions{} }

// CalculateImageResize never resizes; Discord takes files as they are.
func (w *Website) CalculateImageResize(*website.PostingFile) *website.ResizeSpec { return nil }

// ValidateFileSubmission checks the message content length.
func (w *Website) ValidateFileSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	w.validateContent(v, data, useTitle(data.Options))
	return v.Result()
}

// ValidateMessageSubmission requires content within the message limit.
func (w *Website) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	if content(data, useTitle(data.Options)) == "" {
		v.Error(website.MsgFieldRequired, nil, "description")
	}
	w.validateContent(v, data, useTitle(data.Options))
	return v.Result()
}

func (w *Website) validateContent(v *website.Validator, data *website.PostData, withTitle bool) {
	if n := website.TextLength(content(data, withTitle)); n > maxContentLength {
		v.Error(website.MsgDescriptionMax, map[string]any{
			"maxLength":     maxContentLength,
			"currentLength": n,
		}, "description")
	}
}

type attachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

type payload struct {
	Content     string       `json:"content,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// PostFileSubmission sends the batch as attachments of one webhook message.
func (w *Website) PostFileSubmission(ctx context.Context, data *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	if err := cancel.ThrowIfCancelled(); err != nil {
		return website.WithException(err), nil
	}
	spoiler := false
	if o, ok := data.Options.(*FileOptions); ok {
		spoiler = o.Spoiler
	}

	body := payload{Content: content(data, useTitle(data.Options))}
	b := transport.NewPostBuilder(w.http, w.PartitionKey(), cancel).AsMultipart()
	for i, f := range files {
		part := f.ToPostFormat()
		if spoiler {
			part.FileName = "SPOILER_" + part.FileName
		}
		body.Attachments = append(body.Attachments, attachment{ID: i, Filename: part.FileName, Description: f.AltText})
		b.SetFilePart(fmt.Sprintf("files[%d]", i), part)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return website.PostResponse{}, fmt.Errorf("encode payload: %w", err)
	}
	b.SetField("payload_json", string(raw))
	return w.send(ctx, b)
}

// PostMessageSubmission sends a text-only webhook message.
func (w *Website) PostMessageSubmission(ctx context.Context, data *website.PostData, cancel *website.CancelToken) (website.PostResponse, error) {
	b := transport.NewPostBuilder(w.http, w.PartitionKey(), cancel).
		AsJSON().
		SetField("content", content(data, useTitle(data.Options)))
	return w.send(ctx, b)
}

func (w *Website) send(ctx context.Context, b *transport.PostBuilder) (website.PostResponse, error) {
	hook := w.Data().GetString(keyWebhook)
	if hook == "" {
		return website.WithException(website.MissingDataError{Website: websiteName, Keys: []string{keyWebhook}}), nil
	}
	target, err := withWait(hook)
	if err != nil {
		return website.PostResponse{}, err
	}

	resp, err := b.Send(ctx, target)
	if err != nil {
		return website.WithException(err), nil
	}
	if !resp.OK() {
		return website.WithException(&website.ResponseError{
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Reason:     "webhook rejected message",
		}).WithAdditionalInfo(string(resp.Body)), nil
	}

	var msg message
	if err := resp.Decode(&msg); err != nil {
		return website.WithException(&website.ResponseError{
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Reason:     "unparseable webhook reply",
		}), nil
	}
	return website.Posted(w.messageURL(msg)), nil
}

func (w *Website) messageURL(msg message) string {
	guild := w.Data().GetString(keyGuildID)
	if guild == "" || msg.ID == "" {
		return ""
	}
	channel := msg.ChannelID
	if channel == "" {
		channel = w.Data().GetString(keyChannelID)
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, channel, msg.ID)
}

func withWait(hook string) (string, error) {
	u, err := url.Parse(hook)
	if err != nil {
		return "", fmt.Errorf("invalid webhook: %w", err)
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func useTitle(o website.Options) bool {
	switch t := o.(type) {
	case *FileOptions:
		return t.UseTitle
	case *MessageOptions:
		return t.UseTitle
	}
	return false
}

func content(data *website.PostData, withTitle bool) string {
	c := data.Common()
	title := ""
	if withTitle && strings.TrimSpace(c.Title) != "" {
		title = "**" + strings.TrimSpace(c.Title) + "**"
	}
	return website.Text(title, c.Description, c.Hashtags())
}

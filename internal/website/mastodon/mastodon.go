// Package mastodon posts to any Mastodon instance. Accounts are authorized
// with the OAuth out-of-band flow.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mastodonapi "github.com/mattn/go-mastodon"

	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

const (
	websiteName    = "mastodon"
	requestTimeout = 30 * time.Second

	clientName  = "multipost"
	scopes      = "read write"
	redirectURI = "urn:ietf:wg:oauth:2.0:oob"

	keyInstanceURL  = "instanceUrl"
	keyClientID     = "clientId"
	keyClientSecret = "clientSecret"
	keyAccessToken  = "accessToken"
	keyUsername     = "username"
	keyLimits       = "limits"

	defaultMaxCharacters = 500
	defaultMaxMedia      = 4
	mb                   = 1024 * 1024
)

// InstanceLimits are read from the instance after login.
type InstanceLimits struct {
	MaxCharacters       int      `json:"maxCharacters"`
	MaxMediaAttachments int      `json:"maxMediaAttachments"`
	ImageSizeLimit      int64    `json:"imageSizeLimit"`
	VideoSizeLimit      int64    `json:"videoSizeLimit"`
	SupportedMimeTypes  []string `json:"supportedMimeTypes,omitempty"`
}

// AccountData is what a Mastodon account stores.
type AccountData struct {
	InstanceURL  string          `json:"instanceUrl,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	ClientSecret string          `json:"clientSecret,omitempty"`
	AccessToken  string          `json:"accessToken,omitempty"`
	Username     string          `json:"username,omitempty"`
	Limits       *InstanceLimits `json:"limits,omitempty"`
}

// Options are the submission options for files and messages.
type Options struct {
	website.CommonOptions
	SpoilerText string `json:"spoilerText"`
	Visibility  string `json:"visibility"`
}

// Website is the Mastodon adapter.
type Website struct {
	*website.Base
	http *transport.Client
}

// Definition declares the Mastodon website type.
func Definition(client *transport.Client) website.Definition {
	return website.Definition{
		Metadata: website.Metadata{
			Name:        websiteName,
			DisplayName: "Mastodon",
		},
		Login: website.CustomLogin{ComponentName: "MastodonLogin"},
		Files: website.FileOptions{
			AcceptedMimeTypes: []string{
				"image/png", "image/jpeg", "image/gif", "image/webp",
				"video/mp4", "video/webm", "video/quicktime",
				"audio/mpeg", "audio/ogg", "audio/wav",
			},
			AcceptedFileSizes: map[string]int64{
				string(website.FileTypeImage): 16 * mb,
				string(website.FileTypeVideo): 99 * mb,
				string(website.FileTypeAudio): 99 * mb,
			},
			FileBatchSize: defaultMaxMedia,
		},
		UsernameShortcut: &website.UsernameShortcut{
			ID:  "mastodon",
			URL: "https://$1",
			Convert: func(target, acct string) string {
				if target == websiteName {
					return "@" + strings.TrimPrefix(acct, "@")
				}
				return profileURL(acct)
			},
		},
		ExternallyAccessible: map[string]bool{
			keyInstanceURL:  true,
			keyUsername:     true,
			keyLimits:       true,
			keyClientID:     false,
			keyClientSecret: false,
			keyAccessToken:  false,
		},
		New: func(b *website.Base) website.Website {
			return &Website{Base: b, http: client}
		},
	}
}

// Register adds Mastodon to r.
func Register(r *website.Registry, client *transport.Client) (*website.Registration, error) {
	return r.Register(Definition(client))
}

func (w *Website) api(data AccountData) *mastodonapi.Client {
	c := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       data.InstanceURL,
		ClientID:     data.ClientID,
		ClientSecret: data.ClientSecret,
		AccessToken:  data.AccessToken,
	})
	c.Timeout = requestTimeout
	return c
}

// OnLogin verifies the stored token and refreshes the instance limits.
func (w *Website) OnLogin(ctx context.Context) (website.LoginState, error) {
	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if data.InstanceURL == "" || data.AccessToken == "" {
		return website.NotLoggedIn(), nil
	}

	account, err := w.api(data).GetAccountCurrentUser(ctx)
	if err != nil {
		var apiErr *mastodonapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			w.Logger().Debugf("token rejected: %v", err)
			return website.NotLoggedIn(), nil
		}
		return website.NotLoggedIn(), fmt.Errorf("verify credentials: %w", err)
	}
	data.Username = account.Username

	if limits, err := w.fetchLimits(ctx, data.InstanceURL); err != nil {
		w.Logger().Warnf("fetch instance limits: %v", err)
	} else {
		data.Limits = limits
	}
	if err := website.StoreData(w.Data(), data); err != nil {
		return website.NotLoggedIn(), err
	}
	return website.LoggedInAs(account.Username), nil
}

type instanceV2 struct {
	Configuration struct {
		Statuses struct {
			MaxCharacters       int `json:"max_characters"`
			MaxMediaAttachments int `json:"max_media_attachments"`
		} `json:"statuses"`
		MediaAttachments struct {
			SupportedMimeTypes []string `json:"supported_mime_types"`
			ImageSizeLimit     int64    `json:"image_size_limit"`
			VideoSizeLimit     int64    `json:"video_size_limit"`
		} `json:"media_attachments"`
	} `json:"configuration"`
}

func (w *Website) fetchLimits(ctx context.Context, instanceURL string) (*InstanceLimits, error) {
	cache := w.Cache()
	return website.Cached(cache, "limits:"+instanceURL, func() (*InstanceLimits, error) {
		resp, err := w.http.Get(ctx, strings.TrimRight(instanceURL, "/")+"/api/v2/instance", transport.Options{
			Partition: w.PartitionKey(),
		})
		if err != nil {
			return nil, err
		}
		if !resp.OK() {
			return nil, &website.ResponseError{URL: resp.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		var inst instanceV2
		if err := resp.Decode(&inst); err != nil {
			return nil, err
		}
		cfg := inst.Configuration
		return &InstanceLimits{
			MaxCharacters:       cfg.Statuses.MaxCharacters,
			MaxMediaAttachments: cfg.Statuses.MaxMediaAttachments,
			ImageSizeLimit:      cfg.MediaAttachments.ImageSizeLimit,
			VideoSizeLimit:      cfg.MediaAttachments.VideoSizeLimit,
			SupportedMimeTypes:  cfg.MediaAttachments.SupportedMimeTypes,
		}, nil
	})
}

func (w *Website) limits() InstanceLimits {
	var l InstanceLimits
	w.Data().Get(keyLimits, &l)
	if l.MaxCharacters <= 0 {
		l.MaxCharacters = defaultMaxCharacters
	}
	if l.MaxMediaAttachments <= 0 {
		l.MaxMediaAttachments = defaultMaxMedia
	}
	return l
}

// DynamicFileSizeLimits returns the limits the instance reported.
func (w *Website) DynamicFileSizeLimits() map[string]int64 {
	l := w.limits()
	out := map[string]int64{}
	if l.ImageSizeLimit > 0 {
		out[string(website.FileTypeImage)] = l.ImageSizeLimit
	}
	if l.VideoSizeLimit > 0 {
		out[string(website.FileTypeVideo)] = l.VideoSizeLimit
		out[string(website.FileTypeAudio)] = l.VideoSizeLimit
	}
	return out
}

// CreateFileModel returns public status options.
func (w *Website) CreateFileModel() website.Options { return &Options{Visibility: "public"} }

// CreateMessageModel returns public status options.
func (w *Website) CreateMessageModel() website.Options { return &Options{Visibility: "public"} }

// CalculateImageResize never resizes; the instance scales media itself.
func (w *Website) CalculateImageResize(*website.PostingFile) *website.ResizeSpec { return nil }

// ValidateFileSubmission checks the status length and the MIME types the
// instance reported.
func (w *Website) ValidateFileSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	w.validateStatus(v, data)
	l := w.limits()
	if len(l.SupportedMimeTypes) > 0 {
		for _, f := range data.Files {
			if !website.MimeAccepted(l.SupportedMimeTypes, f.MimeType) {
				v.Error(website.MsgFileUnsupported, map[string]any{
					"fileName": f.FileName,
					"mimeType": f.MimeType,
				}, "files")
			}
		}
	}
	return v.Result()
}

// ValidateMessageSubmission requires a status within the instance limit.
func (w *Website) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	if statusText(data) == "" {
		v.Error(website.MsgFieldRequired, nil, "description")
	}
	w.validateStatus(v, data)
	return v.Result()
}

func (w *Website) validateStatus(v *website.Validator, data *website.PostData) {
	if n, limit := website.TextLength(statusText(data)), w.limits().MaxCharacters; n > limit {
		v.Error(website.MsgDescriptionMax, map[string]any{"maxLength": limit, "currentLength": n}, "description")
	}
	if o, ok := data.Options.(*Options); ok {
		switch o.Visibility {
		case "", "public", "unlisted", "private", "direct":
		default:
			v.Error("validation.mastodon.visibility", map[string]any{"visibility": o.Visibility}, "visibility")
		}
	}
}

// PostFileSubmission uploads each file and posts one status with them.
func (w *Website) PostFileSubmission(ctx context.Context, data *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	acct, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.PostResponse{}, err
	}
	client := w.api(acct)

	var mediaIDs []mastodonapi.ID
	for _, f := range files {
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
		attachment, err := client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
			File:        f.ToPostFormat().Reader(),
			Description: f.AltText,
		})
		if err != nil {
			return website.WithException(fmt.Errorf("upload media %s: %w", f.FileName, err)), nil
		}
		mediaIDs = append(mediaIDs, attachment.ID)
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
	}
	return w.postStatus(ctx, client, data, mediaIDs, cancel)
}

// PostMessageSubmission posts a text-only status.
func (w *Website) PostMessageSubmission(ctx context.Context, data *website.PostData, cancel *website.CancelToken) (website.PostResponse, error) {
	acct, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.PostResponse{}, err
	}
	return w.postStatus(ctx, w.api(acct), data, nil, cancel)
}

func (w *Website) postStatus(ctx context.Context, client *mastodonapi.Client, data *website.PostData, mediaIDs []mastodonapi.ID, cancel *website.CancelToken) (website.PostResponse, error) {
	if err := cancel.ThrowIfCancelled(); err != nil {
		return website.WithException(err), nil
	}
	toot := &mastodonapi.Toot{
		Status:    statusText(data),
		MediaIDs:  mediaIDs,
		Sensitive: data.Common().Rating != "" && data.Common().Rating != website.RatingGeneral,
	}
	if o, ok := data.Options.(*Options); ok {
		toot.SpoilerText = o.SpoilerText
		toot.Visibility = o.Visibility
	}

	status, err := client.PostStatus(ctx, toot)
	if err != nil {
		return website.WithException(fmt.Errorf("post status: %w", err)), nil
	}
	return website.Posted(status.URL).WithAdditionalInfo(map[string]any{"id": string(status.ID)}), nil
}

func statusText(data *website.PostData) string {
	c := data.Common()
	return website.Text(c.Title, c.Description, c.Hashtags())
}

// profileURL turns user@host into https://host/@user.
func profileURL(acct string) string {
	acct = strings.TrimPrefix(acct, "@")
	user, host, ok := strings.Cut(acct, "@")
	if !ok {
		return "@" + acct
	}
	return fmt.Sprintf("https://%s/@%s", host, user)
}

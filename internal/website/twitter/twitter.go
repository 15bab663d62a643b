// Package twitter posts to X (Twitter) with OAuth 1.0a user-context keys.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
	"github.com/michimani/gotwi/user/userlookup"
	userlookuptypes "github.com/michimani/gotwi/user/userlookup/types"

	"github.com/blacktop/multipost/internal/logutil"
	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

const (
	websiteName      = "twitter"
	sessionClientKey = "client"

	keyAPIKey       = "apiKey"
	keyAPISecret    = "apiSecret"
	keyAccessToken  = "accessToken"
	keyAccessSecret = "accessSecret"
	keyUsername     = "username"

	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"

	maxTweetLength = 280
	maxMedia       = 4
	mb             = 1024 * 1024
)

// AccountData holds the OAuth 1.0a keys of an account.
type AccountData struct {
	APIKey       string `json:"apiKey,omitempty"`
	APISecret    string `json:"apiSecret,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	AccessSecret string `json:"accessSecret,omitempty"`
	Username     string `json:"username,omitempty"`
}

func (d AccountData) missing() []string {
	var missing []string
	if d.APIKey == "" {
		missing = append(missing, keyAPIKey)
	}
	if d.APISecret == "" {
		missing = append(missing, keyAPISecret)
	}
	if d.AccessToken == "" {
		missing = append(missing, keyAccessToken)
	}
	if d.AccessSecret == "" {
		missing = append(missing, keyAccessSecret)
	}
	return missing
}

// Options are the submission options for files and messages.
type Options struct {
	website.CommonOptions
}

// Website is the X adapter.
type Website struct {
	*website.Base
	http *transport.Client
}

// Definition declares the X website type.
func Definition(client *transport.Client) website.Definition {
	return website.Definition{
		Metadata: website.Metadata{
			Name:        websiteName,
			DisplayName: "X (Twitter)",
		},
		Login: website.CustomLogin{ComponentName: "TwitterLogin"},
		Files: website.FileOptions{
			AcceptedMimeTypes: []string{"image/png", "image/jpeg", "image/gif", "image/webp"},
			AcceptedFileSizes: map[string]int64{
				"image/gif":                   15 * mb,
				string(website.FileTypeImage): 5 * mb,
			},
			FileBatchSize: maxMedia,
		},
		AdsDisabled: true,
		UsernameShortcut: &website.UsernameShortcut{
			ID:  "tw",
			URL: "https://x.com/$1",
			Convert: func(target, user string) string {
				if target == websiteName {
					return "@" + user
				}
				return ""
			},
		},
		ExternallyAccessible: map[string]bool{
			keyUsername:     true,
			keyAPIKey:       false,
			keyAPISecret:    false,
			keyAccessToken:  false,
			keyAccessSecret: false,
		},
		New: func(b *website.Base) website.Website {
			return &Website{Base: b, http: client}
		},
	}
}

// Register adds X to r.
func Register(r *website.Registry, client *transport.Client) (*website.Registration, error) {
	return r.Register(Definition(client))
}

func (w *Website) newAPI(cfg AccountData) (*gotwi.Client, error) {
	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           w.http.HTTPClient(w.PartitionKey()),
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return nil, errors.New("twitter client not ready")
	}
	return client, nil
}

// OnLogin builds a client from the stored keys and looks up the user.
func (w *Website) OnLogin(ctx context.Context) (website.LoginState, error) {
	cfg, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if missing := cfg.missing(); len(missing) > 0 {
		w.Logger().Debug(website.MissingDataError{Website: websiteName, Keys: missing}.Error())
		return website.NotLoggedIn(), nil
	}

	api, err := w.newAPI(cfg)
	if err != nil {
		return website.NotLoggedIn(), err
	}
	me, err := userlookup.GetMe(ctx, api, &userlookuptypes.GetMeInput{})
	if err != nil {
		w.Logger().Warnf("lookup user: %v", unwrapGotwiError(err))
		return website.NotLoggedIn(), nil
	}

	username := gotwi.StringValue(me.Data.Username)
	if err := w.Data().Set(keyUsername, username); err != nil {
		return website.NotLoggedIn(), err
	}
	w.Session().Set(sessionClientKey, api)
	return website.LoggedInAs(username), nil
}

func (w *Website) api() (*gotwi.Client, error) {
	api, ok := website.SessionValue[*gotwi.Client](w.Session(), sessionClientKey)
	if !ok {
		return nil, errors.New("twitter session missing; log in first")
	}
	return api, nil
}

// CreateFileModel returns empty tweet options.
func (w *Website) CreateFileModel() website.Options { return &Options{} }

// CreateMessageModel returns empty tweet options.
func (w *Website) CreateMessageModel() website.Options { return &Options{} }

// CalculateImageResize never resizes.
func (w *Website) CalculateImageResize(*website.PostingFile) *website.ResizeSpec { return nil }

// ValidateFileSubmission checks the tweet length and that every file maps to
// an upload media type.
func (w *Website) ValidateFileSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	validateText(v, data)
	for _, f := range data.Files {
		if _, _, err := resolveMediaType(f); err != nil {
			v.Error(website.MsgFileUnsupported, map[string]any{"fileName": f.FileName, "mimeType": f.MimeType}, "files")
		}
	}
	return v.Result()
}

// ValidateMessageSubmission requires tweet text within the limit.
func (w *Website) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	if tweetText(data) == "" {
		v.Error(website.MsgFieldRequired, nil, "description")
	}
	validateText(v, data)
	return v.Result()
}

func validateText(v *website.Validator, data *website.PostData) {
	if n := website.TextLength(tweetText(data)); n > maxTweetLength {
		v.Error(website.MsgDescriptionMax, map[string]any{
			"maxLength":     maxTweetLength,
			"currentLength": n,
		}, "description")
	}
}

// PostFileSubmission uploads the media and posts one tweet with it.
func (w *Website) PostFileSubmission(ctx context.Context, data *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	api, err := w.api()
	if err != nil {
		return website.WithException(err), nil
	}

	var mediaIDs []string
	for _, f := range files {
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
		w.Logger().Debugf("uploading media: file=%s", f.FileName)
		mediaID, err := w.uploadMedia(ctx, api, f)
		if err != nil {
			return website.WithException(err), nil
		}
		mediaIDs = append(mediaIDs, mediaID)
		w.Logger().Debugf("media uploaded: media_id=%s", mediaID)
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
	}
	return w.tweet(ctx, api, data, mediaIDs, cancel)
}

// PostMessageSubmission posts a text-only tweet.
func (w *Website) PostMessageSubmission(ctx context.Context, data *website.PostData, cancel *website.CancelToken) (website.PostResponse, error) {
	api, err := w.api()
	if err != nil {
		return website.WithException(err), nil
	}
	return w.tweet(ctx, api, data, nil, cancel)
}

func (w *Website) tweet(ctx context.Context, api *gotwi.Client, data *website.PostData, mediaIDs []string, cancel *website.CancelToken) (website.PostResponse, error) {
	if err := cancel.ThrowIfCancelled(); err != nil {
		return website.WithException(err), nil
	}
	input := &managetweettypes.CreateInput{
		Text: gotwi.String(tweetText(data)),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	w.Logger().Debugf("posting tweet: media_count=%d", len(mediaIDs))
	out, err := managetweet.Create(ctx, api, input)
	if err != nil {
		return website.WithException(fmt.Errorf("post tweet: %w", unwrapGotwiError(err))), nil
	}

	id := gotwi.StringValue(out.Data.ID)
	username := w.Data().GetString(keyUsername)
	if id == "" || username == "" {
		return website.Posted(""), nil
	}
	return website.Posted(fmt.Sprintf("https://x.com/%s/status/%s", username, id)), nil
}

func (w *Website) uploadMedia(ctx context.Context, api *gotwi.Client, f *website.PostingFile) (string, error) {
	mediaType, category, err := resolveMediaType(f)
	if err != nil {
		return "", err
	}

	w.Logger().Debugf("initialize upload: media_type=%s bytes=%d", mediaType, f.Size())
	initRes, err := upload.Initialize(ctx, api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(f.Data),
		MediaCategory: category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(f.Data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()
	appendRes, err := upload.Append(ctx, api, appendIn)
	if err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finalizeRes, err := upload.Finalize(ctx, api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	state := finalizeRes.Data.ProcessingInfo.State
	w.Logger().Debugf("finalize state=%s media_id=%s", state, mediaID)
	switch state {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		wait := time.Duration(finalizeRes.Data.ProcessingInfo.CheckAfterSecs) * time.Second
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
			// images usually finish within one check interval
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", state)
	}

	if alt := strings.TrimSpace(f.AltText); alt != "" {
		if err := setAltText(ctx, api, mediaID, alt); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

func setAltText(ctx context.Context, api *gotwi.Client, mediaID, altText string) error {
	params := &metadataParameters{mediaID: mediaID, altText: altText}
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")
	if err := api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", unwrapGotwiError(err))
	}
	return nil
}

func tweetText(data *website.PostData) string {
	c := data.Common()
	return website.Text(c.Description, c.Hashtags())
}

func resolveMediaType(f *website.PostingFile) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	mime := strings.ToLower(f.MimeType)
	if mime == "" {
		mime = http.DetectContentType(f.Data)
	}
	switch {
	case strings.Contains(mime, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(mime, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(mime, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(mime, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}
	return "", "", fmt.Errorf("unsupported media type %q for %s", f.MimeType, f.FileName)
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%s", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if errors.As(err, &gwErr) && gwErr != nil {
		rErr := &website.ResponseError{
			URL:        "https://api.x.com",
			StatusCode: gwErr.StatusCode,
			Reason:     summarizeGotwiError(gwErr),
		}
		if body, mErr := json.Marshal(gwErr); mErr == nil {
			rErr.Body = string(body)
		}
		return rErr
	}
	return err
}

func summarizeGotwiError(err *gotwi.GotwiError) string {
	parts := make([]string, 0, 4)
	if err.Title != "" {
		parts = append(parts, err.Title)
	}
	if err.Detail != "" {
		parts = append(parts, err.Detail)
	}
	for _, apiErr := range err.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "X API request failed")
	}
	return strings.Join(parts, "; ")
}

type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) { p.accessToken = token }

func (p *metadataParameters) AccessToken() string { return p.accessToken }

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string { return map[string]string{} }

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }

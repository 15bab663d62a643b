// Package bluesky posts to Bluesky through the AT Protocol.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

const (
	websiteName    = "bluesky"
	defaultPDSURL  = "https://bsky.social"
	userAgent      = "multipost/1"
	sessionAuthKey = "auth"

	keyUsername   = "username"
	keyPassword   = "password"
	keyServiceURL = "serviceUrl"
	keyDID        = "did"

	maxTextLength = 300
	maxImages     = 4
	maxImageBytes = 1_000_000
	maxDimension  = 2000
)

// AccountData is what a Bluesky account stores. Password is an app password.
type AccountData struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	ServiceURL string `json:"serviceUrl,omitempty"`
	DID        string `json:"did,omitempty"`
}

// Options are the submission options for files and messages.
type Options struct {
	website.CommonOptions
}

// Website is the Bluesky adapter.
type Website struct {
	*website.Base
	http *transport.Client
}

// Definition declares the Bluesky website type.
func Definition(client *transport.Client) website.Definition {
	return website.Definition{
		Metadata: website.Metadata{
			Name:        websiteName,
			DisplayName: "Bluesky",
		},
		Login: website.CustomLogin{ComponentName: "BlueskyLogin"},
		Files: website.FileOptions{
			AcceptedMimeTypes: []string{"image/png", "image/jpeg", "image/gif", "image/webp"},
			AcceptedFileSizes: map[string]int64{string(website.FileTypeImage): maxImageBytes},
			FileBatchSize:     maxImages,
		},
		UsernameShortcut: &website.UsernameShortcut{
			ID:  "bsky",
			URL: "https://bsky.app/profile/$1",
			Convert: func(target, handle string) string {
				if target == websiteName {
					return "@" + handle
				}
				return ""
			},
		},
		ExternallyAccessible: map[string]bool{
			keyUsername:   true,
			keyServiceURL: true,
			keyDID:        true,
			keyPassword:   false,
		},
		New: func(b *website.Base) website.Website {
			return &Website{Base: b, http: client}
		},
	}
}

// Register adds Bluesky to r.
func Register(r *website.Registry, client *transport.Client) (*website.Registration, error) {
	return r.Register(Definition(client))
}

func (w *Website) xrpcClient(host string) *xrpc.Client {
	ua := userAgent
	return &xrpc.Client{
		Client:    w.http.HTTPClient(w.PartitionKey()),
		Host:      host,
		UserAgent: &ua,
	}
}

// OnLogin creates a session from the stored handle and app password.
func (w *Website) OnLogin(ctx context.Context) (website.LoginState, error) {
	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	var missing []string
	if strings.TrimSpace(data.Username) == "" {
		missing = append(missing, keyUsername)
	}
	if strings.TrimSpace(data.Password) == "" {
		missing = append(missing, keyPassword)
	}
	if len(missing) > 0 {
		w.Logger().Debug(website.MissingDataError{Website: websiteName, Keys: missing}.Error())
		return website.NotLoggedIn(), nil
	}
	if data.ServiceURL == "" {
		data.ServiceURL = defaultPDSURL
	}

	client := w.xrpcClient(data.ServiceURL)
	session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: data.Username,
		Password:   data.Password,
	})
	if err != nil {
		var xerr *xrpc.Error
		if errors.As(err, &xerr) && xerr.StatusCode >= 400 && xerr.StatusCode < 500 {
			w.Logger().Warnf("login rejected: %v", err)
			return website.NotLoggedIn(), nil
		}
		return website.NotLoggedIn(), fmt.Errorf("login: %w", err)
	}

	w.Session().Set(sessionAuthKey, &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	})
	data.DID = session.Did
	if err := website.StoreData(w.Data(), data); err != nil {
		return website.NotLoggedIn(), err
	}
	return website.LoggedInAs(session.Handle), nil
}

func (w *Website) authedClient() (*xrpc.Client, error) {
	auth, ok := website.SessionValue[*xrpc.AuthInfo](w.Session(), sessionAuthKey)
	if !ok || auth == nil {
		return nil, errors.New("bluesky session missing; log in first")
	}
	host := w.Data().GetString(keyServiceURL)
	if host == "" {
		host = defaultPDSURL
	}
	client := w.xrpcClient(host)
	client.Auth = auth
	return client, nil
}

// CreateFileModel returns empty post options.
func (w *Website) CreateFileModel() website.Options { return &Options{} }

// CreateMessageModel returns empty post options.
func (w *Website) CreateMessageModel() website.Options { return &Options{} }

// CalculateImageResize asks for images over the maximum dimension to be
// scaled down.
func (w *Website) CalculateImageResize(f *website.PostingFile) *website.ResizeSpec {
	if f.FileType() != website.FileTypeImage {
		return nil
	}
	if f.Width <= maxDimension && f.Height <= maxDimension {
		return nil
	}
	return &website.ResizeSpec{Width: maxDimension, Height: maxDimension, MaxBytes: maxImageBytes}
}

// ValidateFileSubmission checks the post length and warns about images
// without alt text.
func (w *Website) ValidateFileSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	validateText(v, data)
	for _, f := range data.Files {
		if strings.TrimSpace(f.AltText) == "" {
			v.Warning("validation.file.alt-text-missing", map[string]any{"fileName": f.FileName}, "files")
		}
	}
	return v.Result()
}

// ValidateMessageSubmission requires text within the grapheme limit.
func (w *Website) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	if postText(data) == "" {
		v.Error(website.MsgFieldRequired, nil, "description")
	}
	validateText(v, data)
	return v.Result()
}

func validateText(v *website.Validator, data *website.PostData) {
	if n := website.TextLength(postText(data)); n > maxTextLength {
		v.Error(website.MsgDescriptionMax, map[string]any{
			"maxLength":     maxTextLength,
			"currentLength": n,
		}, "description")
	}
	website.ValidateRating(v, data, website.RatingGeneral, website.RatingMature, website.RatingAdult)
}

// PostFileSubmission uploads each image as a blob and creates one post
// embedding them.
func (w *Website) PostFileSubmission(ctx context.Context, data *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	client, err := w.authedClient()
	if err != nil {
		return website.WithException(err), nil
	}

	images := make([]*bsky.EmbedImages_Image, 0, len(files))
	for _, f := range files {
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
		w.Logger().Debugf("uploading blob: file=%s bytes=%d", f.FileName, f.Size())
		blob, err := uploadBlob(ctx, client, f)
		if err != nil {
			return website.WithException(err), nil
		}
		if err := cancel.ThrowIfCancelled(); err != nil {
			return website.WithException(err), nil
		}
		img := &bsky.EmbedImages_Image{Alt: f.AltText, Image: blob}
		if f.Width > 0 && f.Height > 0 {
			img.AspectRatio = &bsky.EmbedDefs_AspectRatio{Width: int64(f.Width), Height: int64(f.Height)}
		}
		images = append(images, img)
	}

	post := newPost(data)
	post.Embed = &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{Images: images}}
	return w.createRecord(ctx, client, post, cancel)
}

// PostMessageSubmission creates a text-only post.
func (w *Website) PostMessageSubmission(ctx context.Context, data *website.PostData, cancel *website.CancelToken) (website.PostResponse, error) {
	client, err := w.authedClient()
	if err != nil {
		return website.WithException(err), nil
	}
	return w.createRecord(ctx, client, newPost(data), cancel)
}

// createRecord submits the post, retrying once on any failure.
func (w *Website) createRecord(ctx context.Context, client *xrpc.Client, post *bsky.FeedPost, cancel *website.CancelToken) (website.PostResponse, error) {
	if err := cancel.ThrowIfCancelled(); err != nil {
		return website.WithException(err), nil
	}
	input := &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	}

	out, err := atproto.RepoCreateRecord(ctx, client, input)
	if err != nil {
		w.Logger().Warnf("create record failed, retrying once: %v", err)
		out, err = atproto.RepoCreateRecord(ctx, client, input)
	}
	if err != nil {
		return website.WithException(fmt.Errorf("create record: %w", err)), nil
	}
	return website.Posted(postURL(client.Auth.Handle, out.Uri)), nil
}

func uploadBlob(ctx context.Context, client *xrpc.Client, f *website.PostingFile) (*util.LexBlob, error) {
	resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("upload blob %s: %w", f.FileName, err)
	}
	if resp.Blob == nil {
		return nil, fmt.Errorf("upload blob %s: empty response", f.FileName)
	}
	return resp.Blob, nil
}

func newPost(data *website.PostData) *bsky.FeedPost {
	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      postText(data),
	}
	if label := selfLabel(data.Common().Rating); label != "" {
		post.Labels = &bsky.FeedPost_Labels{
			LabelDefs_SelfLabels: &atproto.LabelDefs_SelfLabels{
				LexiconTypeID: "com.atproto.label.defs#selfLabels",
				Values:        []*atproto.LabelDefs_SelfLabel{{Val: label}},
			},
		}
	}
	return post
}

func postText(data *website.PostData) string {
	c := data.Common()
	return website.Text(c.Description, c.Hashtags())
}

func selfLabel(r website.Rating) string {
	switch r {
	case website.RatingMature:
		return "sexual"
	case website.RatingAdult, website.RatingExtreme:
		return "porn"
	}
	return ""
}

// postURL turns at://did/app.bsky.feed.post/rkey into a web link.
func postURL(handle, uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || handle == "" {
		return uri
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, uri[idx+1:])
}

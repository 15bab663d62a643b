// Package weasyl posts artwork and journals to Weasyl by filling in its
// submission forms.
package weasyl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blacktop/multipost/internal/transport"
	"github.com/blacktop/multipost/internal/website"
)

const (
	websiteName    = "weasyl"
	defaultBaseURL = "https://www.weasyl.com"
	apiKeyHeader   = "X-Weasyl-API-Key"

	keyAPIKey   = "apiKey"
	keyUsername = "username"

	maxTitleLength = 100
	minTags        = 2
	mb             = 1024 * 1024

	// digital artwork
	defaultSubtype = 1030
)

// AccountData is what a Weasyl account stores.
type AccountData struct {
	APIKey   string `json:"apiKey,omitempty"`
	Username string `json:"username,omitempty"`
}

// FileOptions are the visual submission options.
type FileOptions struct {
	website.CommonOptions
	Subtype  int    `json:"subtype"`
	FolderID string `json:"folderId"`
	Critique bool   `json:"critique"`
}

// Website is the Weasyl adapter.
type Website struct {
	*website.Base
	http    *transport.Client
	baseURL string
}

// Definition declares the Weasyl website type.
func Definition(client *transport.Client) website.Definition {
	return website.Definition{
		Metadata: website.Metadata{
			Name:        websiteName,
			DisplayName: "Weasyl",
		},
		Login: website.UserLogin{URL: defaultBaseURL + "/control/apikeys"},
		Files: website.FileOptions{
			AcceptedMimeTypes: []string{"image/png", "image/jpeg", "image/gif"},
			AcceptedFileSizes: map[string]int64{string(website.FileTypeImage): 10 * mb},
		},
		UsernameShortcut: &website.UsernameShortcut{
			ID:  "ws",
			URL: defaultBaseURL + "/~$1",
			Convert: func(target, user string) string {
				if target == websiteName {
					return "<~" + user + ">"
				}
				return ""
			},
		},
		ExternallyAccessible: map[string]bool{
			keyAPIKey:   false,
			keyUsername: true,
		},
		New: func(b *website.Base) website.Website {
			return &Website{Base: b, http: client, baseURL: defaultBaseURL}
		},
	}
}

// Register adds Weasyl to r.
func Register(r *website.Registry, client *transport.Client) (*website.Registration, error) {
	return r.Register(Definition(client))
}

type whoami struct {
	Login  string `json:"login"`
	UserID int    `json:"userid"`
}

// OnLogin asks Weasyl who the stored API key belongs to. A rejected key is a
// plain logged-out state.
func (w *Website) OnLogin(ctx context.Context) (website.LoginState, error) {
	data, err := website.LoadData[AccountData](w.Data())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if strings.TrimSpace(data.APIKey) == "" {
		return website.NotLoggedIn(), nil
	}
	resp, err := w.http.Get(ctx, w.baseURL+"/api/whoami", w.options())
	if err != nil {
		return website.NotLoggedIn(), err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		w.Logger().Debugf("whoami returned %d", resp.StatusCode)
		return website.NotLoggedIn(), nil
	}
	if !resp.OK() {
		return website.NotLoggedIn(), &website.ResponseError{URL: resp.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var me whoami
	if err := resp.Decode(&me); err != nil {
		return website.NotLoggedIn(), err
	}
	data.Username = me.Login
	if err := website.StoreData(w.Data(), data); err != nil {
		return website.NotLoggedIn(), err
	}
	return website.LoggedInAs(me.Login), nil
}

// CreateFileModel returns visual submission options.
func (w *Website) CreateFileModel() website.Options {
	return &FileOptions{Subtype: defaultSubtype}
}

// CreateMessageModel returns journal options.
func (w *Website) CreateMessageModel() website.Options { return &website.CommonOptions{} }

// CalculateImageResize never resizes.
func (w *Website) CalculateImageResize(*website.PostingFile) *website.ResizeSpec { return nil }

// ValidateFileSubmission checks the title, tag count and rating.
func (w *Website) ValidateFileSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	w.validateCommon(v, data)
	return v.Result()
}

// ValidateMessageSubmission applies the same rules to journals.
func (w *Website) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	v := website.NewValidator()
	w.validateCommon(v, data)
	return v.Result()
}

func (w *Website) validateCommon(v *website.Validator, data *website.PostData) {
	website.ValidateTitle(v, data, true, maxTitleLength)
	website.ValidateTags(v, data, minTags, 0)
	website.ValidateRating(v, data, website.RatingGeneral, website.RatingMature, website.RatingAdult)
}

// PostFileSubmission uploads one image through the visual submission form.
func (w *Website) PostFileSubmission(ctx context.Context, data *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	if len(files) == 0 {
		return website.PostResponse{}, fmt.Errorf("no file to post")
	}
	f := files[0]
	b := transport.NewPostBuilder(w.http, w.PartitionKey(), cancel).AsMultipart()
	c := data.Common()
	b.SetFields(map[string]any{
		"title":   strings.TrimSpace(c.Title),
		"content": c.Description,
		"tags":    strings.Join(c.Tags, " "),
		"rating":  rating(c.Rating),
	})
	subtype := defaultSubtype
	if o, ok := data.Options.(*FileOptions); ok {
		if o.Subtype != 0 {
			subtype = o.Subtype
		}
		if o.FolderID != "" {
			b.SetField("folderid", o.FolderID)
		}
		if o.Critique {
			b.SetField("critique", "true")
		}
	}
	b.SetField("subtype", subtype)
	b.SetFile("submitfile", f)
	b.SetThumbnail("thumbfile", f)
	return w.submitForm(ctx, "/submit/visual", b, cancel)
}

// PostMessageSubmission publishes a journal entry.
func (w *Website) PostMessageSubmission(ctx context.Context, data *website.PostData, cancel *website.CancelToken) (website.PostResponse, error) {
	c := data.Common()
	b := transport.NewPostBuilder(w.http, w.PartitionKey(), cancel).AsForm()
	b.SetFields(map[string]any{
		"title":   strings.TrimSpace(c.Title),
		"content": c.Description,
		"tags":    strings.Join(c.Tags, " "),
		"rating":  rating(c.Rating),
	})
	return w.submitForm(ctx, "/submit/journal", b, cancel)
}

// submitForm loads the form at path for its hidden fields, merges them into b
// and posts it back. Weasyl redirects to the new page on success.
func (w *Website) submitForm(ctx context.Context, path string, b *transport.PostBuilder, cancel *website.CancelToken) (website.PostResponse, error) {
	key := w.Data().GetString(keyAPIKey)
	if key == "" {
		return website.WithException(website.MissingDataError{Website: websiteName, Keys: []string{keyAPIKey}}), nil
	}
	if err := cancel.ThrowIfCancelled(); err != nil {
		return website.WithException(err), nil
	}

	target := w.baseURL + path
	form, err := w.http.Get(ctx, target, w.options())
	if err != nil {
		return website.WithException(err), nil
	}
	if !form.OK() {
		return website.WithException(&website.ResponseError{
			URL:        form.URL,
			StatusCode: form.StatusCode,
			Body:       string(form.Body),
			Reason:     "submission form unavailable",
		}), nil
	}
	hidden, err := transport.HiddenFields(form.Body, "form#submit-form")
	if err != nil {
		return website.WithException(fmt.Errorf("%s: %w", path, err)), nil
	}

	resp, err := b.WithHeader(apiKeyHeader, key).WithData(hidden).Send(ctx, target)
	if err != nil {
		return website.WithException(err), nil
	}
	if !resp.OK() || samePath(resp.URL, target) {
		return website.WithException(&website.ResponseError{
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
			Reason:     "submission rejected",
		}), nil
	}
	if canonical, ok := transport.MetaContent(resp.Body, "og:url"); ok && canonical != "" {
		return website.Posted(canonical), nil
	}
	return website.Posted(resp.URL), nil
}

func (w *Website) options() transport.Options {
	return transport.Options{
		Partition: w.PartitionKey(),
		Headers:   map[string]string{apiKeyHeader: w.Data().GetString(keyAPIKey)},
	}
}

// samePath reports whether Weasyl answered with the form again instead of
// redirecting to the new page.
func samePath(got, want string) bool {
	g, err1 := url.Parse(got)
	t, err2 := url.Parse(want)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.TrimSuffix(g.Path, "/") == strings.TrimSuffix(t.Path, "/")
}

func rating(r website.Rating) int {
	switch r {
	case website.RatingMature:
		return 30
	case website.RatingAdult, website.RatingExtreme:
		return 40
	default:
		return 10
	}
}

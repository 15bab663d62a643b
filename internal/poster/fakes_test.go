package poster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blacktop/multipost/internal/store"
	"github.com/blacktop/multipost/internal/website"
)

type fakeSite struct {
	*website.Base

	mu      sync.Mutex
	batches [][]string
	posts   int

	loggedIn      bool
	postErr       error
	panicMsg      string
	validatePanic string
	modelPanic    string
	onPost        func()
}

func (s *fakeSite) OnLogin(context.Context) (website.LoginState, error) {
	if s.loggedIn {
		return website.LoggedInAs("tester"), nil
	}
	return website.NotLoggedIn(), nil
}

func (s *fakeSite) CreateFileModel() website.Options {
	if s.modelPanic != "" {
		panic(s.modelPanic)
	}
	return &website.CommonOptions{}
}

func (s *fakeSite) CreateMessageModel() website.Options { return &website.CommonOptions{} }

func (s *fakeSite) ValidateFileSubmission(context.Context, *website.PostData) website.ValidationResult {
	if s.validatePanic != "" {
		panic(s.validatePanic)
	}
	return website.NewValidator().Result()
}

func (s *fakeSite) ValidateMessageSubmission(_ context.Context, data *website.PostData) website.ValidationResult {
	if s.validatePanic != "" {
		panic(s.validatePanic)
	}
	v := website.NewValidator()
	website.ValidateDescription(v, data, 10, false)
	return v.Result()
}

func (s *fakeSite) CalculateImageResize(f *website.PostingFile) *website.ResizeSpec {
	if f.Width > 100 {
		return &website.ResizeSpec{Width: 100}
	}
	return nil
}

func (s *fakeSite) PostFileSubmission(_ context.Context, _ *website.PostData, files []*website.PostingFile, cancel *website.CancelToken) (website.PostResponse, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.onPost != nil {
		s.onPost()
	}
	s.mu.Lock()
	var names []string
	for _, f := range files {
		names = append(names, f.FileName)
	}
	s.batches = append(s.batches, names)
	n := len(s.batches)
	s.mu.Unlock()
	if s.postErr != nil {
		return website.PostResponse{}, s.postErr
	}
	return website.Posted(fmt.Sprintf("https://example.test/%d", n)), nil
}

func (s *fakeSite) PostMessageSubmission(context.Context, *website.PostData, *website.CancelToken) (website.PostResponse, error) {
	s.mu.Lock()
	s.posts++
	s.mu.Unlock()
	if s.postErr != nil {
		return website.PostResponse{}, s.postErr
	}
	return website.Posted("https://example.test/message"), nil
}

type oauthSite struct {
	fakeSite
	completed   int
	limitsPanic bool
}

func (s *oauthSite) AuthRoutes() map[string]website.AuthRoute {
	return map[string]website.AuthRoute{
		"start": {Handler: func(_ context.Context, input json.RawMessage) (any, error) {
			return map[string]any{"success": true, "input": string(input)}, nil
		}},
		"finish": {Completes: true, Handler: func(context.Context, json.RawMessage) (any, error) {
			s.completed++
			s.loggedIn = true
			return map[string]any{"success": true}, nil
		}},
		"broken": {Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("upstream refused")
		}},
		"explode": {Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("handler exploded")
		}},
	}
}

func (s *oauthSite) DynamicFileSizeLimits() map[string]int64 {
	if s.limitsPanic {
		panic("limits exploded")
	}
	return map[string]int64{"IMAGE": 50}
}

type harness struct {
	poster   *Poster
	registry *website.Registry
	sites    map[string]*fakeSite
}

// newHarness registers a file+message website "fake" limited to 20 bytes per
// image and 2 files per batch, an OAuth website "oauth" with a dynamic 50 byte
// image limit, and "slow", which allows one post per 50ms and disables the
// footer.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{registry: website.NewRegistry(), sites: map[string]*fakeSite{}}

	_, err := h.registry.Register(website.Definition{
		Metadata: website.Metadata{Name: "fake", DisplayName: "Fake"},
		Login:    website.CustomLogin{ComponentName: "FakeLogin"},
		Files: website.FileOptions{
			AcceptedMimeTypes: []string{"image/png", "image/jpeg"},
			AcceptedFileSizes: map[string]int64{"IMAGE": 20},
			FileBatchSize:     2,
		},
		New: func(b *website.Base) website.Website {
			s := &fakeSite{Base: b, loggedIn: true}
			if b.AccountID() != "" {
				h.sites[b.AccountID()] = s
			}
			return s
		},
	})
	require.NoError(t, err)

	_, err = h.registry.Register(website.Definition{
		Metadata: website.Metadata{Name: "oauth"},
		Login:    website.CustomLogin{ComponentName: "OAuthLogin"},
		New: func(b *website.Base) website.Website {
			s := &oauthSite{fakeSite: fakeSite{Base: b}}
			if b.AccountID() != "" {
				h.sites[b.AccountID()] = &s.fakeSite
			}
			return s
		},
	})
	require.NoError(t, err)

	_, err = h.registry.Register(website.Definition{
		Metadata:    website.Metadata{Name: "slow", MinimumPostWaitInterval: 50 * time.Millisecond},
		Login:       website.CustomLogin{ComponentName: "SlowLogin"},
		AdsDisabled: true,
		New: func(b *website.Base) website.Website {
			return &fakeSite{Base: b, loggedIn: true}
		},
	})
	require.NoError(t, err)
	h.registry.Freeze()

	h.poster = New(NewManager(h.registry, store.NewMemoryStore()), Config{Concurrency: 4})
	return h
}

func (h *harness) instance(t *testing.T, id, site string) website.Website {
	t.Helper()
	w, err := h.poster.Manager().Instance(context.Background(), website.Account{ID: id, Website: site})
	require.NoError(t, err)
	return w
}

func image(name string, size int) *website.PostingFile {
	return &website.PostingFile{FileName: name, MimeType: "image/png", Data: make([]byte, size)}
}

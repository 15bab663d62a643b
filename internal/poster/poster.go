package poster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/blacktop/multipost/internal/logutil"
	"github.com/blacktop/multipost/internal/website"
)

// Validation ids raised by the orchestrator itself.
const (
	MsgUnsupportedSubmission = "validation.website.unsupported-submission-type"
	MsgAdapterPanicked       = "validation.website.adapter-panicked"
)

// Kind is the type of a submission.
type Kind int

const (
	KindFile Kind = iota
	KindMessage
)

func (k Kind) String() string {
	if k == KindMessage {
		return "message"
	}
	return "file"
}

// Submission is one piece of content to post.
type Submission struct {
	Kind   Kind
	Common website.CommonOptions
	Files  []*website.PostingFile
	// Overrides supplies a fully typed options value per account id. Accounts
	// without one get the website's empty model filled with Common.
	Overrides map[string]website.Options
}

// Result is the outcome for one account.
type Result struct {
	Account    website.Account
	Validation website.ValidationResult
	Response   website.PostResponse
}

// Config tunes a Poster.
type Config struct {
	// Concurrency bounds how many accounts are posted to at once.
	Concurrency int
	// Footer is appended to descriptions on websites that allow it.
	Footer string
}

// Poster validates and posts submissions through the manager's instances.
type Poster struct {
	manager     *Manager
	concurrency int
	footer      string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns a Poster.
func New(manager *Manager, cfg Config) *Poster {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Poster{
		manager:     manager,
		concurrency: cfg.Concurrency,
		footer:      strings.TrimSpace(cfg.Footer),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Manager returns the instance manager.
func (p *Poster) Manager() *Manager { return p.manager }

// CheckLogin runs the login state machine for w and persists whatever the
// login check stored.
func (p *Poster) CheckLogin(ctx context.Context, w website.Website) website.LoginState {
	state := website.CheckLogin(ctx, w)
	if err := w.WebsiteBase().Data().Save(ctx); err != nil {
		w.WebsiteBase().Logger().Warnf("persist account data: %v", err)
	}
	return state
}

// RefreshLogins checks every instance immediately and then on its website's
// refresh interval until ctx is done.
func (p *Poster) RefreshLogins(ctx context.Context) error {
	var wg conc.WaitGroup
	for _, w := range p.manager.Instances() {
		interval := w.WebsiteBase().Registration().RefreshInterval()
		wg.Go(func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			prev := website.LoginUnknown
			for {
				if state := p.CheckLogin(ctx, w); state.Status() != prev {
					prev = state.Status()
					w.WebsiteBase().Logger().Infof("login %s", prev)
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		})
	}
	wg.Wait()
	return ctx.Err()
}

// InvokeAuthRoute runs the named authorization step on an OAuth website.
// Completing routes re-evaluate the login state.
func (p *Poster) InvokeAuthRoute(ctx context.Context, w website.Website, name string, input []byte) (any, error) {
	base := w.WebsiteBase()
	if !base.Registration().Capabilities().OAuth {
		return nil, fmt.Errorf("%s does not support authorization routes", base.Registration().Name())
	}
	var routes map[string]website.AuthRoute
	if err := guard("auth routes", func() { routes = w.(website.OAuthWebsite).AuthRoutes() }); err != nil {
		return nil, fmt.Errorf("%s: %w", base.Registration().Name(), err)
	}
	route, ok := routes[name]
	if !ok {
		return nil, fmt.Errorf("%s has no auth route %q", base.Registration().Name(), name)
	}
	if len(input) == 0 {
		input = []byte("{}")
	}

	var (
		out any
		err error
	)
	if perr := guard("auth route "+name, func() { out, err = route.Handler(ctx, input) }); perr != nil {
		out, err = nil, perr
	}
	if saveErr := base.Data().Save(ctx); saveErr != nil {
		base.Logger().Warnf("persist account data: %v", saveErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", base.Registration().Name(), name, err)
	}
	if route.Completes {
		p.CheckLogin(ctx, w)
	}
	return out, nil
}

// FileSizeLimits returns the registered limits overlaid with the website's
// dynamic limits. A panicking adapter leaves the registered limits in place.
func (p *Poster) FileSizeLimits(w website.Website) map[string]int64 {
	reg := w.WebsiteBase().Registration()
	limits := reg.FileOptions().AcceptedFileSizes
	if !reg.Capabilities().DynamicLimits {
		return limits
	}
	var dynamic map[string]int64
	if err := guard("dynamic limits", func() { dynamic = w.(website.DynamicLimitsWebsite).DynamicFileSizeLimits() }); err != nil {
		w.WebsiteBase().Logger().Warnf("%v", err)
	}
	for k, v := range dynamic {
		limits[k] = v
	}
	return limits
}

// Model returns the options to post to w: the override for its account or
// the website's empty model filled with the common fields. Username
// shortcuts in the description are expanded for w's website, and the footer
// is appended unless the website disables it.
func (p *Poster) Model(w website.Website, sub Submission) website.Options {
	base := w.WebsiteBase()
	if o, ok := sub.Overrides[base.AccountID()]; ok && o != nil {
		return o
	}
	var model website.Options
	switch {
	case sub.Kind == KindFile && base.Registration().Capabilities().File:
		model = w.(website.FileWebsite).CreateFileModel()
	case sub.Kind == KindMessage && base.Registration().Capabilities().Message:
		model = w.(website.MessageWebsite).CreateMessageModel()
	default:
		model = &website.CommonOptions{}
	}
	common := sub.Common
	common.Tags = append([]string(nil), sub.Common.Tags...)
	common.Description = p.manager.Registry().ExpandShortcuts(common.Description, base.Registration().Name())
	if p.footer != "" && !base.Registration().AdsDisabled() {
		common.Description = website.Text(common.Description, p.footer)
	}
	*model.Common() = common
	return model
}

// Validate runs the shared checks and the adapter's own validation with a
// fresh accumulator. An adapter panic becomes a validation error.
func (p *Poster) Validate(ctx context.Context, w website.Website, sub Submission) website.ValidationResult {
	_, result, err := p.prepare(ctx, w, sub)
	if err != nil {
		return panicResult(err)
	}
	return result
}

// prepare builds the post data for w and validates it. Panics raised by the
// adapter while building its model or validating come back as err.
func (p *Poster) prepare(ctx context.Context, w website.Website, sub Submission) (data *website.PostData, result website.ValidationResult, err error) {
	err = guard("validation", func() {
		data = p.postData(w, sub)
		result = p.validate(ctx, w, sub, data)
	})
	if err != nil {
		w.WebsiteBase().Logger().Errorf("%v", err)
	}
	return data, result, err
}

func panicResult(err error) website.ValidationResult {
	v := website.NewValidator()
	v.Error(MsgAdapterPanicked, map[string]any{"error": err.Error()}, "")
	return v.Result()
}

func (p *Poster) postData(w website.Website, sub Submission) *website.PostData {
	return &website.PostData{Options: p.Model(w, sub), Files: sub.Files}
}

func (p *Poster) validate(ctx context.Context, w website.Website, sub Submission, data *website.PostData) website.ValidationResult {
	base := w.WebsiteBase()
	reg := base.Registration()
	caps := reg.Capabilities()
	v := website.NewValidator()

	if base.LoginState().Status() == website.LoginUnknown {
		p.CheckLogin(ctx, w)
	}
	if !base.LoginState().IsLoggedIn {
		v.Error(website.MsgNotLoggedIn, map[string]any{"website": reg.Metadata().DisplayName}, "")
	}

	switch sub.Kind {
	case KindFile:
		if !caps.File {
			v.Error(MsgUnsupportedSubmission, map[string]any{"type": sub.Kind.String()}, "")
			return v.Result()
		}
		if len(sub.Files) == 0 {
			v.Error(website.MsgFileRequired, nil, "files")
		}
		opts := reg.FileOptions()
		website.ValidateFiles(v, opts, p.FileSizeLimits(w), sub.Files)
		if len(sub.Files) > opts.FileBatchSize {
			v.Warning(website.MsgFileBatchSize, map[string]any{
				"batchSize": opts.FileBatchSize,
				"files":     len(sub.Files),
			}, "files")
		}
		fw := w.(website.FileWebsite)
		for _, f := range sub.Files {
			if rs := fw.CalculateImageResize(f); rs != nil {
				v.Warning(website.MsgFileResizeExpected, map[string]any{
					"fileName": f.FileName,
					"width":    rs.Width,
					"height":   rs.Height,
					"maxBytes": rs.MaxBytes,
				}, "files")
			}
		}
		result := v.Result()
		result.Merge(fw.ValidateFileSubmission(ctx, data))
		return result
	case KindMessage:
		if !caps.Message {
			v.Error(MsgUnsupportedSubmission, map[string]any{"type": sub.Kind.String()}, "")
			return v.Result()
		}
		result := v.Result()
		result.Merge(w.(website.MessageWebsite).ValidateMessageSubmission(ctx, data))
		return result
	default:
		v.Error(MsgUnsupportedSubmission, map[string]any{"type": int(sub.Kind)}, "")
		return v.Result()
	}
}

// Submit validates sub for w and, only when validation has no errors, posts
// it. Every failure, including adapter panics, comes back as a failed
// PostResponse.
func (p *Poster) Submit(ctx context.Context, w website.Website, sub Submission, cancel *website.CancelToken) (website.ValidationResult, website.PostResponse) {
	base := w.WebsiteBase()
	data, result, err := p.prepare(ctx, w, sub)
	if err != nil {
		return panicResult(err), website.WithException(err)
	}
	if !result.Valid() {
		return result, website.WithException(&website.ValidationFailedError{
			Website: base.Registration().Name(),
			Result:  result,
		})
	}
	if err := cancel.ThrowIfCancelled(); err != nil {
		return result, website.WithException(err)
	}

	var resp website.PostResponse
	switch sub.Kind {
	case KindMessage:
		resp = p.postMessage(ctx, w.(website.MessageWebsite), data, cancel)
	default:
		resp = p.postFiles(ctx, w.(website.FileWebsite), data, cancel)
	}

	if err := base.Data().Save(ctx); err != nil {
		base.Logger().Warnf("persist account data: %v", err)
	}
	switch {
	case resp.Cancelled():
		base.Logger().Infof("cancelled")
	case resp.Failed():
		base.Logger().Errorf("post failed: %v", resp.Exception)
	default:
		base.Logger().Infof("posted %s", resp.SourceURL)
	}
	return result, resp
}

func (p *Poster) postMessage(ctx context.Context, w website.MessageWebsite, data *website.PostData, cancel *website.CancelToken) website.PostResponse {
	if err := p.wait(ctx, w); err != nil {
		return website.WithException(err)
	}
	return protect(func() (website.PostResponse, error) {
		return w.PostMessageSubmission(ctx, data, cancel)
	})
}

func (p *Poster) postFiles(ctx context.Context, w website.FileWebsite, data *website.PostData, cancel *website.CancelToken) website.PostResponse {
	batchSize := w.WebsiteBase().Registration().FileOptions().FileBatchSize
	var (
		last    website.PostResponse
		sources []string
	)
	// partial keeps the URLs of batches already live when a later one stops.
	partial := func(resp website.PostResponse, batch int) website.PostResponse {
		if len(sources) == 0 {
			return resp
		}
		info := map[string]any{
			"sourceUrls":  append([]string(nil), sources...),
			"failedBatch": batch,
		}
		if resp.AdditionalInfo != nil {
			info["batchInfo"] = resp.AdditionalInfo
		}
		return resp.WithAdditionalInfo(info)
	}
	for start := 0; start < len(data.Files); start += batchSize {
		end := min(start+batchSize, len(data.Files))
		batch := data.Files[start:end]
		index := start / batchSize

		if err := cancel.ThrowIfCancelled(); err != nil {
			return partial(website.WithException(err), index)
		}
		if err := p.wait(ctx, w); err != nil {
			return partial(website.WithException(err), index)
		}
		last = protect(func() (website.PostResponse, error) {
			return w.PostFileSubmission(ctx, data, batch, cancel)
		})
		if last.Failed() {
			return partial(last, index)
		}
		if last.SourceURL != "" {
			sources = append(sources, last.SourceURL)
		}
	}
	if len(sources) > 0 {
		last.SourceURL = sources[0]
	}
	if len(sources) > 1 {
		last = last.WithAdditionalInfo(map[string]any{"sourceUrls": sources})
	}
	return last
}

// wait enforces the website's minimum interval between posts.
func (p *Poster) wait(ctx context.Context, w website.Website) error {
	meta := w.WebsiteBase().Registration().Metadata()
	if meta.MinimumPostWaitInterval <= 0 {
		return nil
	}
	p.mu.Lock()
	l, ok := p.limiters[meta.Name]
	if !ok {
		l = rate.NewLimiter(rate.Every(meta.MinimumPostWaitInterval), 1)
		p.limiters[meta.Name] = l
	}
	p.mu.Unlock()
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("wait before posting to %s: %w", meta.Name, err)
	}
	return nil
}

// guard runs fn and turns a panic into an error naming step.
func guard(step string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	fn()
	return nil
}

func protect(fn func() (website.PostResponse, error)) website.PostResponse {
	var (
		resp website.PostResponse
		err  error
	)
	if perr := guard("post", func() { resp, err = fn() }); perr != nil {
		return website.WithException(perr)
	}
	if err != nil {
		return website.WithException(err)
	}
	return resp
}

// Dispatch posts sub to every account in parallel, bounded by the configured
// concurrency. Results are in the order of accounts.
func (p *Poster) Dispatch(ctx context.Context, accounts []website.Account, sub Submission, cancel *website.CancelToken) []Result {
	results := make([]Result, len(accounts))
	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for i, account := range accounts {
		workers.Go(func() {
			results[i] = p.submitAccount(ctx, account, sub, cancel)
		})
	}
	workers.Wait()
	return results
}

func (p *Poster) submitAccount(ctx context.Context, account website.Account, sub Submission, cancel *website.CancelToken) Result {
	res := Result{Account: account}
	perr := guard("submit", func() {
		w, err := p.manager.Instance(ctx, account)
		if err != nil {
			res.Response = website.WithException(err)
			return
		}
		res.Account = w.WebsiteBase().Account()
		res.Validation, res.Response = p.Submit(ctx, w, sub, cancel)
	})
	if perr != nil {
		logutil.Errorf("%s (%s): %v", account.Website, account.ID, perr)
		res.Response = website.WithException(perr)
	}
	return res
}

// Errors joins the failures of results, prefixed with the account.
func Errors(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Response.Failed() {
			errs = append(errs, fmt.Errorf("%s (%s): %w", r.Account.Website, r.Account.ID, r.Response.Exception))
		}
	}
	if len(errs) > 0 {
		logutil.Debugf("%d of %d posts failed", len(errs), len(results))
	}
	return errors.Join(errs...)
}

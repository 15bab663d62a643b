package poster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/multipost/internal/website"
)

func fileSubmission(files ...*website.PostingFile) Submission {
	return Submission{Kind: KindFile, Common: website.CommonOptions{Title: "t"}, Files: files}
}

func messageIDs(msgs []website.ValidationMessage) []string {
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestSubmit_OversizeFileNeverPosts(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")

	result, resp := h.poster.Submit(context.Background(), w, fileSubmission(image("big.png", 25)), website.NewCancelToken())

	require.Len(t, result.Errors, 1)
	assert.Equal(t, website.MsgFileSize, result.Errors[0].ID)
	assert.Equal(t, int64(20), result.Errors[0].Values["maxSize"])
	assert.True(t, resp.Failed())
	var vErr *website.ValidationFailedError
	assert.True(t, errors.As(resp.Exception, &vErr))
	assert.Empty(t, h.sites["a1"].batches)
}

func TestSubmit_BatchesFiles(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	sub := fileSubmission(image("1.png", 1), image("2.png", 1), image("3.png", 1), image("4.png", 1), image("5.png", 1))

	result, resp := h.poster.Submit(context.Background(), w, sub, website.NewCancelToken())

	assert.True(t, result.Valid())
	assert.Contains(t, messageIDs(result.Warnings), website.MsgFileBatchSize)
	require.False(t, resp.Failed(), "%v", resp.Exception)
	assert.Equal(t, [][]string{{"1.png", "2.png"}, {"3.png", "4.png"}, {"5.png"}}, h.sites["a1"].batches)
	assert.Equal(t, "https://example.test/1", resp.SourceURL)
	assert.Equal(t, map[string]any{"sourceUrls": []string{
		"https://example.test/1", "https://example.test/2", "https://example.test/3",
	}}, resp.AdditionalInfo)
}

func TestSubmit_PanicBecomesFailedResponse(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	h.sites["a1"].panicMsg = "adapter exploded"

	var resp website.PostResponse
	require.NotPanics(t, func() {
		_, resp = h.poster.Submit(context.Background(), w, fileSubmission(image("a.png", 1)), nil)
	})
	require.True(t, resp.Failed())
	assert.Contains(t, resp.Exception.Error(), "adapter exploded")
}

func TestSubmit_ErrorBecomesFailedResponse(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	h.sites["a1"].postErr = &website.ResponseError{URL: "https://x", StatusCode: 500, Body: "oops"}

	_, resp := h.poster.Submit(context.Background(), w, Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hi"}}, nil)
	require.True(t, resp.Failed())
	var rErr *website.ResponseError
	require.True(t, errors.As(resp.Exception, &rErr))
	assert.Equal(t, 500, rErr.StatusCode)
}

func TestSubmit_CancelledBeforePosting(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	token := website.NewCancelToken()
	token.Cancel("stop")

	_, resp := h.poster.Submit(context.Background(), w, fileSubmission(image("a.png", 1)), token)
	assert.True(t, resp.Cancelled())
	assert.Empty(t, h.sites["a1"].batches)
}

func TestSubmit_CancelledBetweenBatches(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	token := website.NewCancelToken()
	h.sites["a1"].onPost = func() { token.Cancel() }

	_, resp := h.poster.Submit(context.Background(), w, fileSubmission(image("1.png", 1), image("2.png", 1), image("3.png", 1)), token)
	assert.True(t, resp.Cancelled())
	assert.Len(t, h.sites["a1"].batches, 1)
	assert.Equal(t, map[string]any{
		"sourceUrls":  []string{"https://example.test/1"},
		"failedBatch": 1,
	}, resp.AdditionalInfo)
}

func TestSubmit_FailedBatchKeepsEarlierSources(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	site := h.sites["a1"]
	calls := 0
	site.onPost = func() {
		calls++
		if calls == 2 {
			site.postErr = errors.New("quota reached")
		}
	}

	sub := fileSubmission(image("1.png", 1), image("2.png", 1), image("3.png", 1), image("4.png", 1), image("5.png", 1))
	_, resp := h.poster.Submit(context.Background(), w, sub, nil)
	require.True(t, resp.Failed())
	assert.ErrorContains(t, resp.Exception, "quota reached")
	assert.Empty(t, resp.SourceURL)
	assert.Equal(t, map[string]any{
		"sourceUrls":  []string{"https://example.test/1"},
		"failedBatch": 1,
	}, resp.AdditionalInfo)
}

func TestSubmit_AdapterPanicsOutsidePosting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.instance(t, "a1", "fake")

	h.sites["a1"].modelPanic = "model exploded"
	var (
		result website.ValidationResult
		resp   website.PostResponse
	)
	require.NotPanics(t, func() {
		result, resp = h.poster.Submit(ctx, w, fileSubmission(image("a.png", 1)), nil)
	})
	assert.Equal(t, []string{MsgAdapterPanicked}, messageIDs(result.Errors))
	require.True(t, resp.Failed())
	assert.ErrorContains(t, resp.Exception, "model exploded")

	h.sites["a1"].modelPanic = ""
	h.sites["a1"].validatePanic = "validator exploded"
	require.NotPanics(t, func() {
		result = h.poster.Validate(ctx, w, Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hi"}})
	})
	assert.Equal(t, []string{MsgAdapterPanicked}, messageIDs(result.Errors))
	assert.Empty(t, h.sites["a1"].batches)
}

func TestDispatch_ValidationPanicKeepsOtherResults(t *testing.T) {
	h := newHarness(t)
	h.instance(t, "a1", "fake")
	h.sites["a1"].validatePanic = "validator exploded"
	accounts := []website.Account{{ID: "a1", Website: "fake"}, {ID: "a2", Website: "fake"}}

	var results []Result
	require.NotPanics(t, func() {
		results = h.poster.Dispatch(context.Background(), accounts, fileSubmission(image("a.png", 1)), nil)
	})
	require.Len(t, results, 2)
	require.True(t, results[0].Response.Failed())
	assert.ErrorContains(t, results[0].Response.Exception, "validator exploded")
	assert.False(t, results[1].Response.Failed(), "%v", results[1].Response.Exception)
	assert.Equal(t, "https://example.test/1", results[1].Response.SourceURL)
}

func TestSubmit_NotLoggedIn(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "o1", "oauth")

	result, resp := h.poster.Submit(context.Background(), w, Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hi"}}, nil)
	assert.Equal(t, []string{website.MsgNotLoggedIn}, messageIDs(result.Errors))
	assert.True(t, resp.Failed())
	assert.Zero(t, h.sites["o1"].posts)
	assert.Equal(t, website.LoggedOut, w.WebsiteBase().LoginState().Status())
}

func TestValidate_FrameworkAndAdapterChecks(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")
	ctx := context.Background()

	result := h.poster.Validate(ctx, w, Submission{Kind: KindFile})
	assert.Equal(t, []string{website.MsgFileRequired}, messageIDs(result.Errors))

	result = h.poster.Validate(ctx, w, Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "way past ten characters"}})
	assert.Equal(t, []string{website.MsgDescriptionMax}, messageIDs(result.Errors))

	wide := image("wide.png", 1)
	wide.Width = 4000
	result = h.poster.Validate(ctx, w, fileSubmission(wide))
	assert.True(t, result.Valid())
	assert.Equal(t, []string{website.MsgFileResizeExpected}, messageIDs(result.Warnings))

	result = h.poster.Validate(ctx, w, fileSubmission(&website.PostingFile{FileName: "a.gif", MimeType: "image/gif", Data: []byte{1}}))
	assert.Equal(t, []string{website.MsgFileUnsupported}, messageIDs(result.Errors))

	// A fresh accumulator each pass.
	result = h.poster.Validate(ctx, w, fileSubmission(image("ok.png", 1)))
	assert.Empty(t, result.Errors)
}

func TestFileSizeLimits_DynamicOverride(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "o1", "oauth")
	assert.Equal(t, map[string]int64{"IMAGE": 50}, h.poster.FileSizeLimits(w))

	fake := h.instance(t, "a1", "fake")
	assert.Equal(t, map[string]int64{"IMAGE": 20}, h.poster.FileSizeLimits(fake))
}

func TestFileSizeLimits_PanickingAdapterKeepsStatic(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "o1", "oauth")
	w.(*oauthSite).limitsPanic = true

	var limits map[string]int64
	require.NotPanics(t, func() { limits = h.poster.FileSizeLimits(w) })
	assert.Empty(t, limits)
}

func TestModel_OverridesAndCommon(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "a1", "fake")

	sub := Submission{Kind: KindMessage, Common: website.CommonOptions{Title: "shared", Tags: []string{"x"}}}
	model := h.poster.Model(w, sub)
	assert.Equal(t, "shared", model.Common().Title)

	model.Common().Tags[0] = "changed"
	assert.Equal(t, "x", sub.Common.Tags[0])

	custom := &website.CommonOptions{Title: "custom"}
	sub.Overrides = map[string]website.Options{"a1": custom}
	assert.Same(t, custom, h.poster.Model(w, sub))
}

func TestModel_Footer(t *testing.T) {
	h := newHarness(t)
	h.poster.footer = "posted with multipost"
	sub := Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hello"}}

	fake := h.instance(t, "a1", "fake")
	assert.Equal(t, "hello\n\nposted with multipost", h.poster.Model(fake, sub).Common().Description)

	slow := h.instance(t, "s1", "slow")
	assert.Equal(t, "hello", h.poster.Model(slow, sub).Common().Description)
}

func TestInvokeAuthRoute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.instance(t, "o1", "oauth")

	out, err := h.poster.InvokeAuthRoute(ctx, w, "start", []byte(`{"instanceUrl":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true, "input": `{"instanceUrl":"x"}`}, out)
	assert.Equal(t, website.LoginUnknown, w.WebsiteBase().LoginState().Status())

	_, err = h.poster.InvokeAuthRoute(ctx, w, "finish", nil)
	require.NoError(t, err)
	assert.True(t, w.WebsiteBase().LoginState().IsLoggedIn)

	_, err = h.poster.InvokeAuthRoute(ctx, w, "broken", nil)
	assert.ErrorContains(t, err, "upstream refused")

	_, err = h.poster.InvokeAuthRoute(ctx, w, "missing", nil)
	assert.Error(t, err)

	require.NotPanics(t, func() { _, err = h.poster.InvokeAuthRoute(ctx, w, "explode", nil) })
	assert.ErrorContains(t, err, "handler exploded")

	_, err = h.poster.InvokeAuthRoute(ctx, h.instance(t, "a1", "fake"), "start", nil)
	assert.ErrorContains(t, err, "does not support")
}

func TestDispatch_ParallelResultsInOrder(t *testing.T) {
	h := newHarness(t)
	accounts := []website.Account{
		{ID: "a1", Website: "fake"},
		{ID: "o1", Website: "oauth"},
		{ID: "a2", Website: "fake"},
		{ID: "x1", Website: "unknown"},
	}
	sub := Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hello"}}

	results := h.poster.Dispatch(context.Background(), accounts, sub, website.NewCancelToken())
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, accounts[i].ID, r.Account.ID)
	}
	assert.False(t, results[0].Response.Failed())
	assert.True(t, results[1].Response.Failed(), "oauth account is not logged in")
	assert.False(t, results[2].Response.Failed())
	assert.True(t, results[3].Response.Failed())

	err := Errors(results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "o1")
	assert.Contains(t, err.Error(), "x1")
	assert.NoError(t, Errors(results[:1]))
}

func TestSubmit_MinimumPostInterval(t *testing.T) {
	h := newHarness(t)
	w := h.instance(t, "s1", "slow")
	sub := Submission{Kind: KindMessage, Common: website.CommonOptions{Description: "hi"}}

	start := time.Now()
	for range 3 {
		_, resp := h.poster.Submit(context.Background(), w, sub, nil)
		require.False(t, resp.Failed(), "%v", resp.Exception)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRefreshLogins(t *testing.T) {
	h := newHarness(t)
	a := h.instance(t, "a1", "fake")
	o := h.instance(t, "o1", "oauth")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.poster.RefreshLogins(ctx) }()

	require.Eventually(t, func() bool {
		return a.WebsiteBase().LoginState().Status() == website.LoggedIn &&
			o.WebsiteBase().LoginState().Status() == website.LoggedOut
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RefreshLogins did not stop")
	}
}

func TestManager_Instance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.poster.Manager()

	first := h.instance(t, "a1", "fake")
	again, err := m.Instance(ctx, website.Account{ID: "a1"})
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = m.Instance(ctx, website.Account{ID: "a1", Website: "oauth"})
	assert.Error(t, err)
	_, err = m.Instance(ctx, website.Account{Website: "fake"})
	assert.Error(t, err)

	require.NoError(t, first.WebsiteBase().Data().Set("k", "v"))
	require.NoError(t, first.WebsiteBase().Data().Save(ctx))
	require.NoError(t, m.Remove(ctx, "a1"))
	assert.Empty(t, m.Instances())

	fresh := h.instance(t, "a1", "fake")
	assert.NotSame(t, first, fresh)
	assert.Empty(t, fresh.WebsiteBase().Data().Keys())
}

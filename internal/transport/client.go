// Package transport is the cookie-partitioned HTTP layer adapters talk through.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/blacktop/multipost/internal/logutil"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2
	userAgent       = "multipost/1"
)

// BodyType selects how Options.Data is encoded.
type BodyType int

const (
	BodyNone BodyType = iota
	BodyJSON
	BodyForm
)

// Options configures a single Get or Post.
type Options struct {
	// Partition selects the cookie jar; normally the account id.
	Partition string
	Type      BodyType
	Data      any
	Headers   map[string]string
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return nil
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", r.URL, err)
	}
	return doc, nil
}

// Config tunes the client.
type Config struct {
	Timeout  time.Duration
	RetryMax int
}

// Client issues HTTP requests with one cookie jar per partition. Wire-level
// retries are delegated to go-retryablehttp.
type Client struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*retryablehttp.Client
}

// NewClient returns a client. Zero config values select defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = defaultRetryMax
	}
	return &Client{cfg: cfg, clients: make(map[string]*retryablehttp.Client)}
}

func (c *Client) partition(name string) *retryablehttp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rc, ok := c.clients[name]; ok {
		return rc
	}
	jar, _ := cookiejar.New(nil)
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: c.cfg.Timeout, Jar: jar}
	rc.RetryMax = c.cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = logutil.HTTPLogger()
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.clients[name] = rc
	return rc
}

// retryPolicy is the default policy restricted to idempotent methods. Other
// methods are retried only when the connection could not be dialed, so a
// POST that reached the server is never sent twice.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if !idempotent(requestMethod(resp, err)) {
		var opErr *net.OpError
		if err != nil && errors.As(err, &opErr) && opErr.Op == "dial" {
			return true, nil
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func requestMethod(resp *http.Response, err error) string {
	if resp != nil && resp.Request != nil {
		return resp.Request.Method
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return strings.ToUpper(urlErr.Op)
	}
	return ""
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// HTTPClient returns a standard client sharing the partition's cookies and
// retry policy, for SDKs that want an *http.Client.
func (c *Client) HTTPClient(partition string) *http.Client {
	return c.partition(partition).StandardClient()
}

// Cookies returns the cookies held for rawURL in partition.
func (c *Client) Cookies(partition, rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.partition(partition).HTTPClient.Jar.Cookies(u)
}

// ClearPartition forgets the cookies of partition.
func (c *Client) ClearPartition(partition string) {
	c.mu.Lock()
	delete(c.clients, partition)
	c.mu.Unlock()
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil, "", opts)
}

// Post encodes opts.Data per opts.Type and issues a POST request.
func (c *Client) Post(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, http.MethodPost, rawURL, body, contentType, opts)
}

// Do issues one request. A non-2xx status is not an error; callers inspect
// Response.OK.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, contentType string, opts Options) (*Response, error) {
	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, raw)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	logutil.Debugf("http %s %s partition=%s", method, rawURL, opts.Partition)
	resp, err := c.partition(opts.Partition).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func encodeBody(opts Options) ([]byte, string, error) {
	switch opts.Type {
	case BodyJSON:
		buf, err := json.Marshal(opts.Data)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return buf, "application/json", nil
	case BodyForm:
		values := url.Values{}
		switch d := opts.Data.(type) {
		case url.Values:
			values = d
		case map[string]string:
			for k, v := range d {
				values.Set(k, v)
			}
		case map[string]any:
			for k, v := range d {
				for _, s := range fieldStrings(v) {
					values.Add(k, s)
				}
			}
		case nil:
		default:
			return nil, "", fmt.Errorf("unsupported form body %T", opts.Data)
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	default:
		if opts.Data == nil {
			return nil, "", nil
		}
		switch d := opts.Data.(type) {
		case []byte:
			return d, "", nil
		case string:
			return []byte(d), "", nil
		}
		return nil, "", fmt.Errorf("unsupported raw body %T", opts.Data)
	}
}

// fieldStrings flattens a field value; slices become repeated values and nil
// becomes nothing.
func fieldStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fieldStrings(e)...)
		}
		return out
	case []int:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case fmt.Stringer:
		return []string{t.String()}
	default:
		return []string{strings.TrimSpace(fmt.Sprint(t))}
	}
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/blacktop/multipost/internal/website"
)

// ErrBuilderUsed is returned when Send is called on a builder that already sent.
var ErrBuilderUsed = errors.New("post builder already sent")

// Encoding is the request body encoding of a PostBuilder.
type Encoding int

const (
	EncodingMultipart Encoding = iota
	EncodingJSON
	EncodingForm
)

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingForm:
		return "form"
	default:
		return "multipart"
	}
}

type filePart struct {
	field string
	part  website.FilePart
}

// PostBuilder accumulates one outbound request. Nothing touches the network
// until Send, and a builder sends at most once.
type PostBuilder struct {
	client    *Client
	cancel    *website.CancelToken
	partition string

	mu       sync.Mutex
	method   string
	encoding Encoding
	headers  map[string]string
	fields   map[string]any
	order    []string
	files    []filePart
	sent     bool
}

// NewPostBuilder returns a multipart POST builder bound to partition.
func NewPostBuilder(client *Client, partition string, cancel *website.CancelToken) *PostBuilder {
	return &PostBuilder{
		client:    client,
		cancel:    cancel,
		partition: partition,
		method:    http.MethodPost,
		encoding:  EncodingMultipart,
		headers:   make(map[string]string),
		fields:    make(map[string]any),
	}
}

// AsMultipart selects multipart/form-data.
func (b *PostBuilder) AsMultipart() *PostBuilder { return b.setEncoding(EncodingMultipart) }

// AsJSON selects a JSON object body. Files are not allowed.
func (b *PostBuilder) AsJSON() *PostBuilder { return b.setEncoding(EncodingJSON) }

// AsForm selects application/x-www-form-urlencoded. Files are not allowed.
func (b *PostBuilder) AsForm() *PostBuilder { return b.setEncoding(EncodingForm) }

func (b *PostBuilder) setEncoding(e Encoding) *PostBuilder {
	b.mu.Lock()
	b.encoding = e
	b.mu.Unlock()
	return b
}

// WithMethod overrides the HTTP verb.
func (b *PostBuilder) WithMethod(method string) *PostBuilder {
	b.mu.Lock()
	b.method = strings.ToUpper(method)
	b.mu.Unlock()
	return b
}

// WithHeader sets a request header.
func (b *PostBuilder) WithHeader(key, value string) *PostBuilder {
	b.mu.Lock()
	b.headers[key] = value
	b.mu.Unlock()
	return b
}

// SetField sets a field, replacing any previous value. Slices are sent as
// repeated fields in multipart and form bodies. A nil value removes the field.
func (b *PostBuilder) SetField(name string, value any) *PostBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	if value == nil {
		if _, ok := b.fields[name]; ok {
			delete(b.fields, name)
			b.order = removeString(b.order, name)
		}
		return b
	}
	if _, ok := b.fields[name]; !ok {
		b.order = append(b.order, name)
	}
	b.fields[name] = value
	return b
}

// SetFields sets every entry of fields, in key order.
func (b *PostBuilder) SetFields(fields map[string]any) *PostBuilder {
	for _, k := range sortedKeys(fields) {
		b.SetField(k, fields[k])
	}
	return b
}

// WithData merges scraped form data without overwriting fields already set.
func (b *PostBuilder) WithData(data map[string]string) *PostBuilder {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		if _, ok := b.fields[k]; ok {
			continue
		}
		b.fields[k] = data[k]
		b.order = append(b.order, k)
	}
	return b
}

// SetFile replaces every file under field with the content of f.
func (b *PostBuilder) SetFile(field string, f *website.PostingFile) *PostBuilder {
	return b.SetFilePart(field, f.ToPostFormat())
}

// AddFile appends the content of f under field.
func (b *PostBuilder) AddFile(field string, f *website.PostingFile) *PostBuilder {
	b.mu.Lock()
	b.files = append(b.files, filePart{field: field, part: f.ToPostFormat()})
	b.mu.Unlock()
	return b
}

// SetThumbnail sets field to the thumbnail of f, if it has one.
func (b *PostBuilder) SetThumbnail(field string, f *website.PostingFile) *PostBuilder {
	if part, ok := f.ThumbnailToPostFormat(); ok {
		return b.SetFilePart(field, part)
	}
	return b
}

// SetFilePart replaces every file under field with part.
func (b *PostBuilder) SetFilePart(field string, part website.FilePart) *PostBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.files[:0]
	for _, fp := range b.files {
		if fp.field != field {
			kept = append(kept, fp)
		}
	}
	b.files = append(kept, filePart{field: field, part: part})
	return b
}

// Field returns the current value of name.
func (b *PostBuilder) Field(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.fields[name]
	return v, ok
}

// Send checks the cancel token, encodes the body and issues the request. It
// fails with ErrBuilderUsed on a second call, and with a cancellation error
// without touching the network when the token is cancelled.
func (b *PostBuilder) Send(ctx context.Context, rawURL string) (*Response, error) {
	b.mu.Lock()
	if b.sent {
		b.mu.Unlock()
		return nil, ErrBuilderUsed
	}
	if err := b.cancel.ThrowIfCancelled(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.sent = true
	body, contentType, err := b.encode()
	method := b.method
	headers := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		headers[k] = v
	}
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return b.client.Do(ctx, method, rawURL, body, contentType, Options{
		Partition: b.partition,
		Headers:   headers,
	})
}

func (b *PostBuilder) encode() ([]byte, string, error) {
	switch b.encoding {
	case EncodingJSON:
		if len(b.files) > 0 {
			return nil, "", errors.New("json body cannot carry files")
		}
		buf, err := json.Marshal(b.fields)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return buf, "application/json", nil
	case EncodingForm:
		if len(b.files) > 0 {
			return nil, "", errors.New("form body cannot carry files")
		}
		values := url.Values{}
		for _, name := range b.order {
			for _, s := range fieldStrings(b.fields[name]) {
				values.Add(name, s)
			}
		}
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return b.encodeMultipart()
	}
}

func (b *PostBuilder) encodeMultipart() ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, name := range b.order {
		for _, s := range fieldStrings(b.fields[name]) {
			if err := w.WriteField(name, s); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", name, err)
			}
		}
	}
	for _, fp := range b.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(fp.field), escapeQuotes(fp.part.FileName)))
		contentType := fp.part.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", fp.field, err)
		}
		if _, err := part.Write(fp.part.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", fp.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

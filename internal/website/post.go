package website

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Rating is the content rating of a submission.
type Rating string

const (
	RatingGeneral Rating = "GENERAL"
	RatingMature  Rating = "MATURE"
	RatingAdult   Rating = "ADULT"
	RatingExtreme Rating = "EXTREME"
)

// CommonOptions are the fields every submission carries. Adapter option
// structs embed it.
type CommonOptions struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Rating      Rating   `json:"rating"`
}

// Common implements Options.
func (c *CommonOptions) Common() *CommonOptions { return c }

// Options is a website-specific submission payload.
type Options interface {
	Common() *CommonOptions
}

// PostData is the validated submission passed to a post call.
type PostData struct {
	Options Options
	Files   []*PostingFile
}

// Common returns the shared fields of the options, never nil.
func (d *PostData) Common() *CommonOptions {
	if d == nil || d.Options == nil {
		return &CommonOptions{}
	}
	return d.Options.Common()
}

// FilePart is a transport-ready file payload.
type FilePart struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Reader returns a reader over the payload.
func (p FilePart) Reader() io.Reader { return bytes.NewReader(p.Data) }

// PostingFile is a file queued for posting, optionally with a thumbnail.
type PostingFile struct {
	ID         string
	FileName   string
	MimeType   string
	Data       []byte
	Width      int
	Height     int
	AltText    string
	Thumbnail  *FilePart
	SourceURLs []string
}

// NewPostingFile reads path into a PostingFile, sniffing its MIME type and,
// for images, its dimensions.
func NewPostingFile(path string) (*PostingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file %q not found", path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	f := &PostingFile{
		ID:       uuid.NewString(),
		FileName: filepath.Base(path),
		MimeType: MimeFromFileName(path),
		Data:     data,
	}
	if f.MimeType == "" {
		f.MimeType = normalizeMime(http.DetectContentType(data))
	}
	if f.FileType() == FileTypeImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			f.Width, f.Height = cfg.Width, cfg.Height
		}
	}
	return f, nil
}

// Size returns the file size in bytes.
func (f *PostingFile) Size() int64 { return int64(len(f.Data)) }

// FileType returns the category of the file's MIME type.
func (f *PostingFile) FileType() FileType { return FileTypeFromMime(f.MimeType) }

// ToPostFormat returns the file content ready for upload.
func (f *PostingFile) ToPostFormat() FilePart {
	return FilePart{FileName: f.FileName, ContentType: f.MimeType, Data: f.Data}
}

// ThumbnailToPostFormat returns the thumbnail, if the file has one.
func (f *PostingFile) ThumbnailToPostFormat() (FilePart, bool) {
	if f.Thumbnail == nil || len(f.Thumbnail.Data) == 0 {
		return FilePart{}, false
	}
	return *f.Thumbnail, true
}

// ResizeSpec tells the caller how to shrink an image before posting.
type ResizeSpec struct {
	Width    int
	Height   int
	MaxBytes int64
	MimeType string
}

// PostResponse is the outcome of a post call. Exception marks failure.
type PostResponse struct {
	SourceURL      string `json:"sourceUrl,omitempty"`
	Message        string `json:"message,omitempty"`
	AdditionalInfo any    `json:"additionalInfo,omitempty"`
	Exception      error  `json:"-"`
}

// Posted returns a successful response.
func Posted(sourceURL string) PostResponse {
	return PostResponse{SourceURL: sourceURL}
}

// WithException returns a failed response carrying err.
func WithException(err error) PostResponse {
	return PostResponse{Exception: err, Message: err.Error()}
}

// WithAdditionalInfo attaches diagnostic payload.
func (r PostResponse) WithAdditionalInfo(info any) PostResponse {
	r.AdditionalInfo = info
	return r
}

// Failed reports whether the post failed.
func (r PostResponse) Failed() bool { return r.Exception != nil }

// Cancelled reports whether the post stopped because of its cancel token.
func (r PostResponse) Cancelled() bool { return errors.Is(r.Exception, ErrCancelled) }

// Hashtags renders the tags as space separated #hashtags.
func (c *CommonOptions) Hashtags() string {
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		t = strings.Join(strings.Fields(t), "")
		t = strings.TrimLeft(t, "#")
		if t == "" {
			continue
		}
		tags = append(tags, "#"+t)
	}
	return strings.Join(tags, " ")
}

// Text joins the non-empty parts with blank lines.
func Text(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

package website

import (
	"strings"
	"time"
)

const (
	defaultRefreshInterval      = time.Hour
	defaultOAuthRefreshInterval = 3 * time.Hour
)

// Metadata is the display and scheduling information for a website.
type Metadata struct {
	Name        string
	DisplayName string
	// RefreshInterval is how often the login state should be re-checked.
	// Zero selects the default.
	RefreshInterval time.Duration
	// MinimumPostWaitInterval spaces consecutive posts to the same website.
	MinimumPostWaitInterval time.Duration
}

// LoginType describes how a user logs in. It is either UserLogin or CustomLogin.
type LoginType interface {
	loginType()
}

// UserLogin is a browser-driven login at URL.
type UserLogin struct {
	URL string
}

// CustomLogin is a form-driven login rendered by the named component.
type CustomLogin struct {
	ComponentName string
}

func (UserLogin) loginType()   {}
func (CustomLogin) loginType() {}

// FileOptions describes which files a website accepts.
type FileOptions struct {
	AcceptedMimeTypes []string
	// AcceptedFileSizes maps a MIME type, "type/*", FileType or "*" to a
	// maximum size in bytes.
	AcceptedFileSizes         map[string]int64
	FileBatchSize             int
	AcceptsExternalSourceURLs bool
	// SupportedFileTypes is derived from AcceptedMimeTypes at registration.
	SupportedFileTypes []FileType
}

func (o FileOptions) withDefaults() FileOptions {
	out := FileOptions{
		AcceptedMimeTypes:         append([]string{}, o.AcceptedMimeTypes...),
		AcceptedFileSizes:         make(map[string]int64, len(o.AcceptedFileSizes)),
		FileBatchSize:             o.FileBatchSize,
		AcceptsExternalSourceURLs: o.AcceptsExternalSourceURLs,
	}
	for k, v := range o.AcceptedFileSizes {
		out.AcceptedFileSizes[k] = v
	}
	if out.FileBatchSize <= 0 {
		out.FileBatchSize = 1
	}
	out.SupportedFileTypes = deriveFileTypes(out.AcceptedMimeTypes)
	return out
}

func (o FileOptions) clone() FileOptions {
	return FileOptions{
		AcceptedMimeTypes:         append([]string{}, o.AcceptedMimeTypes...),
		AcceptedFileSizes:         cloneLimits(o.AcceptedFileSizes),
		FileBatchSize:             o.FileBatchSize,
		AcceptsExternalSourceURLs: o.AcceptsExternalSourceURLs,
		SupportedFileTypes:        append([]FileType{}, o.SupportedFileTypes...),
	}
}

func cloneLimits(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// UsernameShortcut lets users write {id:name} in descriptions to link a
// profile on this website.
type UsernameShortcut struct {
	ID string
	// URL contains $1, replaced by the username.
	URL string
	// Convert optionally rewrites the shortcut when posting to another
	// website. Returning "" falls back to the URL form.
	Convert func(targetWebsite, shortcut string) string
}

// Expand returns the profile URL for username.
func (s UsernameShortcut) Expand(username string) string {
	return strings.ReplaceAll(s.URL, "$1", username)
}

// Capabilities are the optional behaviours a website implements, resolved once
// at registration.
type Capabilities struct {
	File          bool
	Message       bool
	OAuth         bool
	DynamicLimits bool
}

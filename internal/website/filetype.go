package website

import (
	"mime"
	"path/filepath"
	"strings"
)

// FileType is the coarse category a MIME type belongs to.
type FileType string

const (
	FileTypeImage   FileType = "IMAGE"
	FileTypeVideo   FileType = "VIDEO"
	FileTypeAudio   FileType = "AUDIO"
	FileTypeText    FileType = "TEXT"
	FileTypeUnknown FileType = "UNKNOWN"
)

// AnyFileSize is the size-limit key that matches any file.
const AnyFileSize = "*"

var textMimeTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/rtf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.oasis.opendocument.text":                                 {},
	"application/epub+zip":                                                    {},
}

// FileTypeFromMime maps a MIME type (or bare extension) to exactly one FileType.
func FileTypeFromMime(mimeType string) FileType {
	m := normalizeMime(mimeType)
	switch {
	case strings.HasPrefix(m, "image/"):
		return FileTypeImage
	case strings.HasPrefix(m, "video/"):
		return FileTypeVideo
	case strings.HasPrefix(m, "audio/"):
		return FileTypeAudio
	case strings.HasPrefix(m, "text/"):
		return FileTypeText
	}
	if _, ok := textMimeTypes[m]; ok {
		return FileTypeText
	}
	return FileTypeUnknown
}

// MimeFromFileName guesses a MIME type from the file extension.
func MimeFromFileName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return normalizeMime(m)
	}
	return ""
}

func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m != "" && !strings.Contains(m, "/") {
		if guessed := mime.TypeByExtension("." + strings.TrimPrefix(m, ".")); guessed != "" {
			return normalizeMime(guessed)
		}
	}
	return m
}

// deriveFileTypes returns the deduplicated file types for the given MIME
// types, in first-seen order.
func deriveFileTypes(mimeTypes []string) []FileType {
	seen := make(map[FileType]struct{}, len(mimeTypes))
	out := make([]FileType, 0, len(mimeTypes))
	for _, m := range mimeTypes {
		ft := FileTypeFromMime(m)
		if _, ok := seen[ft]; ok {
			continue
		}
		seen[ft] = struct{}{}
		out = append(out, ft)
	}
	return out
}

// SizeLimit resolves the byte limit for a file of the given MIME type. Keys are
// tried from most to least specific: exact MIME, "type/*", FileType, "*".
// The second return value is false when no key matches.
func SizeLimit(limits map[string]int64, mimeType string) (int64, bool) {
	if len(limits) == 0 {
		return 0, false
	}
	m := normalizeMime(mimeType)
	keys := []string{m}
	if i := strings.IndexByte(m, '/'); i > 0 {
		keys = append(keys, m[:i]+"/*")
	}
	keys = append(keys, string(FileTypeFromMime(m)), AnyFileSize)
	for _, k := range keys {
		if v, ok := limits[k]; ok {
			return v, true
		}
	}
	return 0, false
}

// MimeAccepted reports whether mimeType is in accepted. An empty list accepts
// everything; entries may be exact types, "type/*" wildcards or extensions.
func MimeAccepted(accepted []string, mimeType string) bool {
	if len(accepted) == 0 {
		return true
	}
	m := normalizeMime(mimeType)
	for _, a := range accepted {
		a = normalizeMime(a)
		if a == m {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(m, prefix+"/") {
			return true
		}
	}
	return false
}

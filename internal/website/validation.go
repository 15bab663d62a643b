package website

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rivo/uniseg"
)

// Validation message ids.
const (
	MsgFileSize           = "validation.file.file-size"
	MsgFileUnsupported    = "validation.file.unsupported-file-type"
	MsgFileBatchSize      = "validation.file.file-batch-size"
	MsgFileRequired       = "validation.file.required"
	MsgTitleRequired      = "validation.title.required"
	MsgTitleMaxLength     = "validation.title.max-length"
	MsgDescriptionMax     = "validation.description.max-length"
	MsgTagsMin            = "validation.tags.min-tags"
	MsgTagsMax            = "validation.tags.max-tags"
	MsgRatingUnsupported  = "validation.rating.unsupported-rating"
	MsgNotLoggedIn        = "validation.account.not-logged-in"
	MsgFieldRequired      = "validation.field.required"
	MsgFileResizeExpected = "validation.file.will-resize"
)

// ValidationMessage is a single error or warning. An empty Field marks a
// submission-level message.
type ValidationMessage struct {
	ID     string         `json:"id"`
	Values map[string]any `json:"values,omitempty"`
	Field  string         `json:"field,omitempty"`
}

func (m ValidationMessage) String() string {
	var b strings.Builder
	if m.Field != "" {
		b.WriteString(m.Field)
		b.WriteString(": ")
	}
	b.WriteString(m.ID)
	if len(m.Values) > 0 {
		keys := make([]string, 0, len(m.Values))
		for k := range m.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, m.Values[k]))
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	return b.String()
}

// ValidationResult holds the messages of one validation pass.
type ValidationResult struct {
	Errors   []ValidationMessage `json:"errors"`
	Warnings []ValidationMessage `json:"warnings"`
}

// Valid reports whether the result has no errors. Warnings never block.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Merge appends other's messages.
func (r *ValidationResult) Merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Validator accumulates messages for a single submission. Create a new one
// for every pass.
type Validator struct {
	result ValidationResult
}

// NewValidator returns an empty validator.
func NewValidator() *Validator {
	return &Validator{result: ValidationResult{
		Errors:   []ValidationMessage{},
		Warnings: []ValidationMessage{},
	}}
}

// Error records a blocking message. field may be empty.
func (v *Validator) Error(id string, values map[string]any, field string) {
	v.result.Errors = append(v.result.Errors, ValidationMessage{ID: id, Values: values, Field: field})
}

// Warning records an informational message. field may be empty.
func (v *Validator) Warning(id string, values map[string]any, field string) {
	v.result.Warnings = append(v.result.Warnings, ValidationMessage{ID: id, Values: values, Field: field})
}

// Result returns a copy of the accumulated messages.
func (v *Validator) Result() ValidationResult {
	return ValidationResult{
		Errors:   append([]ValidationMessage{}, v.result.Errors...),
		Warnings: append([]ValidationMessage{}, v.result.Warnings...),
	}
}

// TextLength counts user-perceived characters.
func TextLength(s string) int { return uniseg.GraphemeClusterCount(s) }

// ValidateFiles checks every file against the accepted MIME types and the
// size limits.
func ValidateFiles(v *Validator, opts FileOptions, limits map[string]int64, files []*PostingFile) {
	for _, f := range files {
		if !MimeAccepted(opts.AcceptedMimeTypes, f.MimeType) {
			v.Error(MsgFileUnsupported, map[string]any{
				"fileName": f.FileName,
				"mimeType": f.MimeType,
			}, "files")
			continue
		}
		if limit, ok := SizeLimit(limits, f.MimeType); ok && f.Size() > limit {
			v.Error(MsgFileSize, map[string]any{
				"fileName": f.FileName,
				"size":     f.Size(),
				"maxSize":  limit,
				"fileType": string(f.FileType()),
			}, "files")
		}
	}
}

// ValidateTitle checks the title is present when required and warns past
// maxLen characters.
func ValidateTitle(v *Validator, data *PostData, required bool, maxLen int) {
	title := strings.TrimSpace(data.Common().Title)
	if required && title == "" {
		v.Error(MsgTitleRequired, nil, "title")
		return
	}
	if n := TextLength(title); maxLen > 0 && n > maxLen {
		v.Warning(MsgTitleMaxLength, map[string]any{"maxLength": maxLen, "currentLength": n}, "title")
	}
}

// ValidateDescription reports descriptions longer than maxLen characters. When
// truncate is true the excess is a warning, otherwise an error.
func ValidateDescription(v *Validator, data *PostData, maxLen int, truncate bool) {
	n := TextLength(data.Common().Description)
	if maxLen <= 0 || n <= maxLen {
		return
	}
	values := map[string]any{"maxLength": maxLen, "currentLength": n}
	if truncate {
		v.Warning(MsgDescriptionMax, values, "description")
		return
	}
	v.Error(MsgDescriptionMax, values, "description")
}

// ValidateTags checks the tag count bounds. Zero disables a bound.
func ValidateTags(v *Validator, data *PostData, minTags, maxTags int) {
	n := len(data.Common().Tags)
	if minTags > 0 && n < minTags {
		v.Error(MsgTagsMin, map[string]any{"minTags": minTags, "currentLength": n}, "tags")
	}
	if maxTags > 0 && n > maxTags {
		v.Warning(MsgTagsMax, map[string]any{"maxTags": maxTags, "currentLength": n}, "tags")
	}
}

// ValidateRating rejects ratings not in allowed.
func ValidateRating(v *Validator, data *PostData, allowed ...Rating) {
	r := data.Common().Rating
	if r == "" {
		return
	}
	for _, a := range allowed {
		if a == r {
			return
		}
	}
	v.Error(MsgRatingUnsupported, map[string]any{"rating": string(r)}, "rating")
}

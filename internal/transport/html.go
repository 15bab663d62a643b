package transport

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// HiddenFields returns the name/value pairs of the hidden inputs inside the
// first element matching formSelector. An empty selector searches the whole
// document.
func HiddenFields(body []byte, formSelector string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	scope := doc.Selection
	if formSelector != "" {
		scope = doc.Find(formSelector).First()
		if scope.Length() == 0 {
			return nil, fmt.Errorf("form %q not found", formSelector)
		}
	}
	fields := make(map[string]string)
	scope.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		value, _ := s.Attr("value")
		fields[name] = value
	})
	return fields, nil
}

// MetaContent returns the content attribute of the meta tag whose name or
// property is name, such as csrf-token or og:url.
func MetaContent(body []byte, name string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	return doc.Find(fmt.Sprintf(`meta[name=%q], meta[property=%q]`, name, name)).First().Attr("content")
}

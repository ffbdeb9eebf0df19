// Package cite attaches display citations to documents.
package cite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/medbrief/internal/document"
)

// ErrMalformedDocument is returned for a document without a title or link.
var ErrMalformedDocument = errors.New("malformed document")

// Format returns the citation for a title and link: "[title](link)".
func Format(title, link string) string {
	return "[" + title + "](" + link + ")"
}

// CiteAll sets the citation on every document, in order. It stops at the
// first document missing a title or link.
func CiteAll(docs []document.Document) error {
	for i := range docs {
		d := &docs[i]
		if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Link) == "" {
			return fmt.Errorf("document %d: %w: title and link are required", i, ErrMalformedDocument)
		}
		d.SetCitation(Format(d.Title, d.Link))
	}
	return nil
}

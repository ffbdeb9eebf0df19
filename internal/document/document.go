// Package document defines the records that flow through a MedBrief run.
//
// A Document is created by retrieval with its title, link and content. Later
// stages fill in derived fields through setters; a setter never clears a value
// an earlier stage produced.
package document

import (
	"strings"
	"unicode/utf8"
)

// DefaultType is the label used when a document has not been classified.
const DefaultType = "research paper"

// Document is a single retrieved web document.
type Document struct {
	Title    string   `json:"title"`
	Link     string   `json:"link"`
	Content  string   `json:"content"`
	Type     string   `json:"type,omitempty"`
	Summary  *Summary `json:"summary,omitempty"`
	Citation string   `json:"citation,omitempty"`
}

// New creates a document as produced by retrieval.
func New(title, link, content string) Document {
	return Document{
		Title:   strings.TrimSpace(title),
		Link:    strings.TrimSpace(link),
		Content: content,
	}
}

// SetType records the classification label. Empty labels are ignored.
func (d *Document) SetType(t string) {
	if t == "" {
		return
	}
	d.Type = t
}

// SetSummary records the summarization result. Nil summaries are ignored.
func (d *Document) SetSummary(s *Summary) {
	if s == nil {
		return
	}
	d.Summary = s
}

// SetCitation records the display citation. Empty citations are ignored.
func (d *Document) SetCitation(c string) {
	if c == "" {
		return
	}
	d.Citation = c
}

// DeclaredType returns the classification label, or DefaultType when the
// document has not been classified.
func (d *Document) DeclaredType() string {
	if d.Type == "" {
		return DefaultType
	}
	return d.Type
}

// Excerpt returns the first n characters of the content.
func (d *Document) Excerpt(n int) string {
	return Truncate(d.Content, n)
}

// Truncate shortens s to its first n runes.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := 0
	for i := 0; i < n && cut < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut]
}

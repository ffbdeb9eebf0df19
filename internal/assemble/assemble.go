// Package assemble folds the processed documents of a run into the final report.
package assemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/medbrief/internal/document"
)

// Format names a report rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

const noResultsText = "No results found for this query."

// ErrUnknownFormat is returned for a format other than markdown or json.
var ErrUnknownFormat = errors.New("unknown report format")

// Report is the final artifact of a run.
type Report struct {
	Format Format `json:"format"`
	Body   string `json:"body"`
}

// Structured is the machine-readable report.
type Structured struct {
	Query  string  `json:"query"`
	Papers []Paper `json:"papers"`
}

// Paper is one document as it appears in the structured report.
type Paper struct {
	Title    string            `json:"title"`
	Link     string            `json:"link"`
	Type     string            `json:"type"`
	Summary  *document.Summary `json:"summary"`
	Citation string            `json:"citation"`
}

// Assembler renders documents into a Report.
type Assembler interface {
	Assemble(query string, docs []document.Document) (Report, error)
}

// ParseFormat validates a format name. Empty means markdown.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ForFormat returns the assembler for a format.
func ForFormat(f Format) (Assembler, error) {
	switch f {
	case FormatMarkdown:
		return Markdown{}, nil
	case FormatJSON:
		return JSON{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// NewStructured builds the structured report. Document order is kept.
func NewStructured(query string, docs []document.Document) *Structured {
	papers := make([]Paper, 0, len(docs))
	for _, d := range docs {
		papers = append(papers, Paper{
			Title:    d.Title,
			Link:     d.Link,
			Type:     d.Type,
			Summary:  d.Summary,
			Citation: d.Citation,
		})
	}
	return &Structured{Query: query, Papers: papers}
}

// JSON renders the structured report as indented JSON.
type JSON struct{}

// Assemble implements Assembler.
func (JSON) Assemble(query string, docs []document.Document) (Report, error) {
	data, err := json.MarshalIndent(NewStructured(query, docs), "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encoding report: %w", err)
	}
	return Report{Format: FormatJSON, Body: string(data)}, nil
}

// Markdown renders a human-readable report with one section per paper.
type Markdown struct{}

// Assemble implements Assembler.
func (Markdown) Assemble(query string, docs []document.Document) (Report, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Query: %s\n\n", query)

	if len(docs) == 0 {
		b.WriteString(noResultsText + "\n")
		return Report{Format: FormatMarkdown, Body: b.String()}, nil
	}

	for i, d := range docs {
		fmt.Fprintf(&b, "### Paper %d: %s\n", i+1, d.Title)
		fmt.Fprintf(&b, "**Type**: %s\n\n", d.DeclaredType())
		b.WriteString(summaryMarkdown(d.Summary))
		fmt.Fprintf(&b, "**Citation**: %s\n\n---\n\n", d.Citation)
	}
	return Report{Format: FormatMarkdown, Body: b.String()}, nil
}

func summaryMarkdown(s *document.Summary) string {
	if s == nil {
		return "No summary available\n\n"
	}
	if s.IsFallback() {
		raw := strings.TrimSpace(s.Raw)
		if raw == "" {
			return "No summary available\n\n"
		}
		return raw + "\n\n"
	}

	var sections []string
	if len(s.Causes) > 0 {
		sections = append(sections, bulletSection("Causes", s.Causes))
	}
	if len(s.KeyFindings) > 0 {
		sections = append(sections, bulletSection("Key Findings", s.KeyFindings))
	}
	if len(s.TreatmentMethods) > 0 {
		var items []string
		for _, m := range s.TreatmentMethods {
			items = append(items, labelled(m.Name, m.Approach))
		}
		sections = append(sections, bulletSection("Common Treatment Methods", items))
	}
	if len(s.TreatmentLimitations) > 0 {
		var items []string
		for _, l := range s.TreatmentLimitations {
			item := l.Limitation
			if l.Alternative != "" {
				item += " (alternative: " + l.Alternative + ")"
			}
			items = append(items, item)
		}
		sections = append(sections, bulletSection("Treatment Limitations", items))
	}
	if len(s.LatestTreatments) > 0 {
		var items []string
		for _, lt := range s.LatestTreatments {
			items = append(items, latestTreatmentLine(lt))
		}
		sections = append(sections, bulletSection("Latest Treatments", items))
	}

	if len(sections) == 0 {
		return "No summary available\n\n"
	}
	return strings.Join(sections, "\n") + "\n"
}

func bulletSection(heading string, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", heading)
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return b.String()
}

func labelled(name, detail string) string {
	if detail == "" {
		return name
	}
	if name == "" {
		return detail
	}
	return fmt.Sprintf("**%s**: %s", name, detail)
}

func latestTreatmentLine(lt document.LatestTreatment) string {
	var meta []string
	for _, v := range []string{lt.Institution, lt.Year, lt.ApprovalStatus} {
		if v != "" {
			meta = append(meta, v)
		}
	}
	name := lt.Name
	if len(meta) > 0 {
		name += " (" + strings.Join(meta, ", ") + ")"
	}
	return labelled(name, lt.Approach)
}

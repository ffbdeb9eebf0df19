// Package render turns assembled reports into PDF, HTML and terminal output.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"

	"github.com/TobiSchelling/medbrief/internal/assemble"
	"github.com/TobiSchelling/medbrief/internal/document"
)

const reportTitle = "Medical Research Summary Report"

type rgb struct{ r, g, b int }

var (
	colorTitle   = rgb{0, 0, 139}
	colorSection = rgb{0, 100, 0}
	colorPaper   = rgb{0, 0, 128}
	colorBody    = rgb{0, 0, 0}
	colorCite    = rgb{128, 128, 128}
)

// PDF renders the structured report as an A4 document with one page per paper.
type PDF struct {
	// Now stamps the generation date. Defaults to time.Now.
	Now func() time.Time
}

// Render produces the PDF bytes. The report is only read.
func (p PDF) Render(s *assemble.Structured) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("rendering PDF: nil report")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(25, 25, 25)
	pdf.SetAutoPageBreak(true, 15)
	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.AddPage()
	w.setStyle("B", 18, colorTitle)
	pdf.CellFormat(0, 12, w.tr(reportTitle), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	w.labelled("Research Query:", s.Query)
	w.labelled("Generated on:", now().Format("January 02, 2006"))
	pdf.Ln(8)

	if len(s.Papers) == 0 {
		w.body("No research papers found for this query.")
	} else {
		w.section(fmt.Sprintf("Research Papers (%d found)", len(s.Papers)))
		for i, paper := range s.Papers {
			if i > 0 {
				pdf.AddPage()
			}
			w.section(fmt.Sprintf("Paper %d:", i+1))
			w.paper(paper)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *pdfWriter) setStyle(style string, size float64, c rgb) {
	w.pdf.SetFont("Helvetica", style, size)
	w.pdf.SetTextColor(c.r, c.g, c.b)
}

func (w *pdfWriter) section(text string) {
	w.pdf.Ln(4)
	w.setStyle("B", 14, colorSection)
	w.pdf.MultiCell(0, 8, w.tr(text), "", "L", false)
	w.pdf.Ln(2)
}

func (w *pdfWriter) labelled(label, value string) {
	w.setStyle("B", 10, colorBody)
	w.pdf.Write(5, w.tr(label+" "))
	w.setStyle("", 10, colorBody)
	w.pdf.Write(5, w.tr(value))
	w.pdf.Ln(6)
}

func (w *pdfWriter) body(text string) {
	w.setStyle("", 10, colorBody)
	w.pdf.MultiCell(0, 5, w.tr(text), "", "J", false)
	w.pdf.Ln(1)
}

func (w *pdfWriter) list(heading string, items []string) {
	if len(items) == 0 {
		return
	}
	w.setStyle("B", 10, colorBody)
	w.pdf.MultiCell(0, 5, w.tr(heading), "", "L", false)
	for _, item := range items {
		w.setStyle("", 10, colorBody)
		w.pdf.MultiCell(0, 5, w.tr("- "+item), "", "J", false)
	}
	w.pdf.Ln(2)
}

func (w *pdfWriter) paper(p assemble.Paper) {
	title := p.Title
	if title == "" {
		title = "Unknown Title"
	}
	docType := p.Type
	if docType == "" {
		docType = "Unknown Type"
	}
	w.setStyle("B", 12, colorPaper)
	w.pdf.MultiCell(0, 6, w.tr(fmt.Sprintf("%s (%s)", title, titleCase(docType))), "", "L", false)
	w.pdf.Ln(2)

	if s := p.Summary; s != nil {
		if s.IsFallback() {
			w.body(s.Raw)
		} else {
			w.list("Causes:", s.Causes)
			w.list("Key Findings:", s.KeyFindings)
			w.list("Common Treatment Methods:", methodLines(s.TreatmentMethods))
			w.list("Treatment Limitations:", limitationLines(s.TreatmentLimitations))
			w.list("Latest Treatments:", latestLines(s.LatestTreatments))
		}
	}

	if p.Citation != "" {
		w.pdf.Ln(2)
		w.setStyle("B", 9, colorCite)
		w.pdf.Write(5, w.tr("Citation: "))
		w.setStyle("", 9, colorCite)
		w.pdf.Write(5, w.tr(p.Citation))
		w.pdf.Ln(8)
	}
}

func methodLines(ms []document.TreatmentMethod) []string {
	var out []string
	for _, m := range ms {
		out = append(out, joinNonEmpty(": ", m.Name, m.Approach))
	}
	return out
}

func limitationLines(ls []document.TreatmentLimitation) []string {
	var out []string
	for _, l := range ls {
		line := l.Limitation
		if l.Alternative != "" {
			line += " (alternative: " + l.Alternative + ")"
		}
		out = append(out, line)
	}
	return out
}

func latestLines(lts []document.LatestTreatment) []string {
	var out []string
	for _, lt := range lts {
		name := lt.Name
		if meta := joinNonEmpty(", ", lt.Institution, lt.Year, lt.ApprovalStatus); meta != "" {
			name += " (" + meta + ")"
		}
		out = append(out, joinNonEmpty(": ", name, lt.Approach))
	}
	return out
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// PDFFilename names a PDF report after its query and creation time, for
// example medical_research_diabetes_treatment_20250101_093000.pdf.
func PDFFilename(query string, now time.Time) string {
	var b strings.Builder
	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimRight(b.String(), " "), " ", "_")
	if runes := []rune(safe); len(runes) > 50 {
		safe = string(runes[:50])
	}
	if safe == "" {
		safe = "medical_research"
	}
	return fmt.Sprintf("medical_research_%s_%s.pdf", safe, now.Format("20060102_150405"))
}

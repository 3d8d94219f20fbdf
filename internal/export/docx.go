// Package export renders the drafted Markdown minutes into a DOCX binary for
// download. Rendering is short enough to complete within one request cycle,
// which is why export is the only stage not mediated by a callback.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

// ContentType is the MIME type of the exported document.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	fontName = "Calibri"
	fontSize = 11
)

var (
	reHeading  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBold     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet   = regexp.MustCompile(`^[\-\*]\s+(.+)$`)
	reNumbered = regexp.MustCompile(`^\d+\.\s+(.+)$`)
	reFilename = regexp.MustCompile(`[^a-z0-9]+`)
)

// Renderer converts minutes Markdown into a binary document.
type Renderer interface {
	Render(title, markdown string) ([]byte, error)
}

// DocxRenderer renders with an in-process DOCX writer.
type DocxRenderer struct{}

// NewRenderer returns the default DOCX renderer.
func NewRenderer() *DocxRenderer {
	return &DocxRenderer{}
}

// Render converts the Markdown body into DOCX bytes, with the job title as a
// leading heading.
func (dr *DocxRenderer) Render(title, markdown string) ([]byte, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("document body is empty")
	}

	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if title != "" {
		addStyledRun(doc.AddParagraph(""), title, true, 16)
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || trimmed == "---" {
			continue
		}

		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			addStyledRun(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
			continue
		}

		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			addRichText(doc.AddParagraph(""), "• "+m[1])
			continue
		}

		if m := reNumbered.FindStringSubmatch(trimmed); m != nil {
			addRichText(doc.AddParagraph(""), trimmed)
			continue
		}

		addRichText(doc.AddParagraph(""), trimmed)
	}

	return saveToBytes(doc)
}

// Filename derives the suggested download filename from the job title.
func Filename(title string) string {
	slug := reFilename.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "minutes"
	}
	return slug + ".docx"
}

// saveToBytes writes the document through a temp file; the writer only
// supports file targets.
func saveToBytes(doc *docx.RootDoc) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "documette-export")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "out.docx")
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 14
	case 3:
		return 12
	default:
		return fontSize
	}
}

func addStyledRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(cleanInline(text)).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

// addRichText renders **bold** spans as bold runs and the rest as plain runs.
func addRichText(p *docx.Paragraph, text string) {
	parts := reBold.Split(text, -1)
	matches := reBold.FindAllStringSubmatch(text, -1)

	for i, part := range parts {
		if part != "" {
			p.AddText(cleanInline(part)).Font(fontName).Size(fontSize).Color("000000")
		}
		if i < len(matches) {
			p.AddText(cleanInline(matches[i][1])).Font(fontName).Size(fontSize).Color("000000").Bold(true)
		}
	}
}

func cleanInline(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "`", "")
	return s
}

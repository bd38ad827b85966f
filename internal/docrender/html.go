package docrender

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"ludexdash/internal/appinfo"
)

//go:embed document_template.html
var documentTemplateFS embed.FS

const defaultTitle = "Game Design Document"

type documentTemplateData struct {
	AppDisplay string
	Title      string
	RunID      string
	Body       template.HTML
	Footer     string
}

var (
	documentTemplateOnce sync.Once
	documentTemplate     *template.Template
	documentTemplateErr  error
)

func getDocumentTemplate() (*template.Template, error) {
	documentTemplateOnce.Do(func() {
		b, err := documentTemplateFS.ReadFile("document_template.html")
		if err != nil {
			documentTemplateErr = err
			return
		}
		documentTemplate, documentTemplateErr = template.New("document_template.html").Parse(string(b))
	})
	return documentTemplate, documentTemplateErr
}

var htmlMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Linkify),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

var htmlMarkdownMu sync.Mutex

type HTMLOptions struct {
	Title string
	RunID string
	Now   time.Time
}

// RenderHTML renders the document as a standalone HTML page. The title
// defaults to the document's first heading.
func RenderHTML(markdown string, opts HTMLOptions) (string, error) {
	body := strings.TrimSpace(markdown)
	if body == "" {
		body = "_The design document is empty._"
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = FirstHeading(body)
	}
	if title == "" {
		title = defaultTitle
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var content bytes.Buffer
	htmlMarkdownMu.Lock()
	err := htmlMarkdown.Convert([]byte(body), &content)
	htmlMarkdownMu.Unlock()
	if err != nil {
		content.Reset()
		content.WriteString("<pre>")
		content.WriteString(template.HTMLEscapeString(body))
		content.WriteString("</pre>")
	}

	data := documentTemplateData{
		AppDisplay: appinfo.Display(),
		Title:      title,
		RunID:      strings.TrimSpace(opts.RunID),
		Body:       template.HTML(content.String()),
		Footer:     fmt.Sprintf("%s • %s", appinfo.Name, now.UTC().Format(time.RFC3339)),
	}
	tmpl, err := getDocumentTemplate()
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}

// FirstHeading returns the text of the first ATX heading in markdown.
func FirstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		text := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if text != "" {
			return text
		}
	}
	return ""
}

type ExportResult struct {
	MarkdownPath string
	HTMLPath     string
}

// Export writes the document to dir as <base>.md and <base>.html.
func Export(dir, base, markdown string, opts HTMLOptions) (ExportResult, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	base = strings.TrimSpace(base)
	if base == "" {
		base = "gdd"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{
		MarkdownPath: filepath.Join(dir, base+".md"),
		HTMLPath:     filepath.Join(dir, base+".html"),
	}
	if err := writeFileAtomic(res.MarkdownPath, []byte(markdown)); err != nil {
		return ExportResult{}, err
	}
	if err := ExportHTML(res.HTMLPath, markdown, opts); err != nil {
		return ExportResult{}, err
	}
	return res, nil
}

func ExportHTML(path, markdown string, opts HTMLOptions) error {
	page, err := RenderHTML(markdown, opts)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(page))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d", filepath.Base(path), time.Now().UTC().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

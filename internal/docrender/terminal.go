package docrender

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	terminalParserOnce sync.Once
	terminalParser     goldmark.Markdown
)

func getTerminalParser() goldmark.Markdown {
	terminalParserOnce.Do(func() {
		terminalParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return terminalParser
}

// Theme holds the styles used for terminal output.
type Theme struct {
	H1         lipgloss.Style
	H2         lipgloss.Style
	Heading    lipgloss.Style
	Rule       lipgloss.Style
	Bold       lipgloss.Style
	Italic     lipgloss.Style
	Strike     lipgloss.Style
	Code       lipgloss.Style
	CodeBlock  lipgloss.Style
	Link       lipgloss.Style
	Quote      lipgloss.Style
	Bullet     lipgloss.Style
	TableHead  lipgloss.Style
	TableLines lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		H1:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")),
		H2:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("117")),
		Heading:    lipgloss.NewStyle().Bold(true),
		Rule:       lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Bold:       lipgloss.NewStyle().Bold(true),
		Italic:     lipgloss.NewStyle().Italic(true),
		Strike:     lipgloss.NewStyle().Strikethrough(true),
		Code:       lipgloss.NewStyle().Foreground(lipgloss.Color("222")),
		CodeBlock:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		Link:       lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("75")),
		Quote:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Bullet:     lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
		TableHead:  lipgloss.NewStyle().Bold(true),
		TableLines: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// RenderTerminal renders markdown as styled text wrapped to width. Soft line
// breaks inside paragraphs become spaces so the text reflows.
func RenderTerminal(markdown string, width int, theme Theme) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	source := []byte(markdown)
	doc := getTerminalParser().Parser().Parse(text.NewReader(source))
	r := &termRenderer{source: source, width: width, theme: theme}
	_ = ast.Walk(doc, r.walk)
	return strings.TrimRight(r.out.String(), "\n")
}

type termRenderer struct {
	source []byte
	width  int
	theme  Theme

	out      strings.Builder
	inline   strings.Builder
	trailing int

	prefixes      []string
	prefixWidths  []int
	pendingBullet string

	bold, italic, strike, code, link int

	lists []listState

	table    [][]string
	tableRow []string
	header   int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (r *termRenderer) linePrefix() string {
	return strings.Join(r.prefixes, "")
}

func (r *termRenderer) contentWidth() int {
	w := r.width
	for _, pw := range r.prefixWidths {
		w -= pw
	}
	if w < 10 {
		w = 10
	}
	return w
}

func (r *termRenderer) pushPrefix(p string, width int) {
	r.prefixes = append(r.prefixes, p)
	r.prefixWidths = append(r.prefixWidths, width)
}

func (r *termRenderer) popPrefix() {
	if len(r.prefixes) == 0 {
		return
	}
	r.prefixes = r.prefixes[:len(r.prefixes)-1]
	r.prefixWidths = r.prefixWidths[:len(r.prefixWidths)-1]
}

func (r *termRenderer) write(s string) {
	if s == "" {
		return
	}
	r.out.WriteString(s)
	n := len(s) - len(strings.TrimRight(s, "\n"))
	if n == len(s) {
		r.trailing += n
	} else {
		r.trailing = n
	}
}

func (r *termRenderer) ensureNewline() {
	if r.out.Len() > 0 && r.trailing < 1 {
		r.write("\n")
	}
}

func (r *termRenderer) ensureBlankLine() {
	if r.out.Len() == 0 {
		return
	}
	for r.trailing < 2 {
		r.write("\n")
	}
}

// emitLines writes content line by line with the current prefixes. The
// first line takes a pending list bullet in place of the innermost prefix.
func (r *termRenderer) emitLines(content string) {
	prefix := r.linePrefix()
	for i, line := range strings.Split(content, "\n") {
		if i == 0 && r.pendingBullet != "" {
			outer := strings.Join(r.prefixes[:len(r.prefixes)-1], "")
			r.write(outer + r.pendingBullet + line + "\n")
			r.pendingBullet = ""
			continue
		}
		r.write(strings.TrimRight(prefix+line, " ") + "\n")
	}
}

func (r *termRenderer) flushInline(style *lipgloss.Style) {
	content := strings.TrimSpace(r.inline.String())
	r.inline.Reset()
	if content == "" {
		return
	}
	wrapped := wrap(content, r.contentWidth())
	if style != nil {
		lines := strings.Split(wrapped, "\n")
		for i, l := range lines {
			lines[i] = style.Render(l)
		}
		wrapped = strings.Join(lines, "\n")
	}
	r.ensureNewline()
	r.emitLines(wrapped)
}

func wrap(s string, width int) string {
	rendered := lipgloss.NewStyle().Width(width).Render(s)
	lines := strings.Split(rendered, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.Join(lines, "\n")
}

func (r *termRenderer) inTightList() bool {
	return len(r.lists) > 0 && r.lists[len(r.lists)-1].tight
}

func (r *termRenderer) styleInline(s string) string {
	st := lipgloss.NewStyle()
	styled := false
	if r.code > 0 {
		st = st.Inherit(r.theme.Code)
		styled = true
	}
	if r.link > 0 {
		st = st.Inherit(r.theme.Link)
		styled = true
	}
	if r.bold > 0 {
		st = st.Bold(true)
		styled = true
	}
	if r.italic > 0 {
		st = st.Italic(true)
		styled = true
	}
	if r.strike > 0 {
		st = st.Strikethrough(true)
		styled = true
	}
	if !styled {
		return s
	}
	return st.Render(s)
}

func (r *termRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Document:
	case *ast.Heading:
		if entering {
			r.ensureBlankLine()
			return ast.WalkContinue, nil
		}
		content := strings.TrimSpace(r.inline.String())
		r.inline.Reset()
		switch node.Level {
		case 1:
			r.emitLines(r.theme.H1.Render(content))
			r.emitLines(r.theme.Rule.Render(strings.Repeat("━", min(lipgloss.Width(content), r.contentWidth()))))
		case 2:
			r.emitLines(r.theme.H2.Render(content))
		default:
			r.emitLines(r.theme.Heading.Render(strings.Repeat("#", node.Level) + " " + content))
		}
		r.ensureBlankLine()
	case *ast.Paragraph:
		if entering {
			if !r.inTightList() {
				r.ensureBlankLine()
			}
			return ast.WalkContinue, nil
		}
		r.flushInline(nil)
		if !r.inTightList() {
			r.ensureBlankLine()
		}
	case *ast.TextBlock:
		if !entering {
			r.flushInline(nil)
		}
	case *ast.Text:
		if !entering {
			return ast.WalkContinue, nil
		}
		r.inline.WriteString(r.styleInline(string(node.Segment.Value(r.source))))
		switch {
		case node.HardLineBreak():
			r.inline.WriteString("\n")
		case node.SoftLineBreak():
			r.inline.WriteString(" ")
		}
	case *ast.String:
		if entering {
			r.inline.WriteString(r.styleInline(string(node.Value)))
		}
	case *ast.Emphasis:
		delta := 1
		if !entering {
			delta = -1
		}
		if node.Level >= 2 {
			r.bold += delta
		} else {
			r.italic += delta
		}
	case *extast.Strikethrough:
		if entering {
			r.strike++
		} else {
			r.strike--
		}
	case *ast.CodeSpan:
		if entering {
			r.code++
		} else {
			r.code--
		}
	case *ast.Link:
		if entering {
			r.link++
		} else {
			r.link--
		}
	case *ast.AutoLink:
		if entering {
			r.link++
			r.inline.WriteString(r.styleInline(string(node.Label(r.source))))
			r.link--
		}
		return ast.WalkSkipChildren, nil
	case *ast.Image:
		if entering {
			r.inline.WriteString("[image: ")
		} else {
			r.inline.WriteString("]")
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if !entering {
			return ast.WalkContinue, nil
		}
		r.ensureBlankLine()
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			line := strings.TrimRight(string(seg.Value(r.source)), "\r\n")
			r.emitLines("    " + r.theme.CodeBlock.Render(line))
		}
		r.ensureBlankLine()
		return ast.WalkSkipChildren, nil
	case *ast.Blockquote:
		if entering {
			r.ensureBlankLine()
			r.pushPrefix(r.theme.Quote.Render("│ "), 2)
		} else {
			r.popPrefix()
			r.ensureBlankLine()
		}
	case *ast.List:
		if entering {
			if len(r.lists) == 0 {
				r.ensureBlankLine()
			}
			r.lists = append(r.lists, listState{ordered: node.IsOrdered(), counter: node.Start, tight: node.IsTight})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
			if len(r.lists) == 0 {
				r.ensureBlankLine()
			}
		}
	case *ast.ListItem:
		if !entering {
			r.popPrefix()
			r.pendingBullet = ""
			return ast.WalkContinue, nil
		}
		st := &r.lists[len(r.lists)-1]
		bullet := "• "
		if st.ordered {
			bullet = fmt.Sprintf("%d. ", st.counter)
			st.counter++
		}
		width := lipgloss.Width(bullet)
		r.ensureNewline()
		r.pushPrefix(strings.Repeat(" ", width), width)
		r.pendingBullet = r.theme.Bullet.Render(bullet)
	case *extast.TaskCheckBox:
		if entering {
			if node.IsChecked {
				r.inline.WriteString("[x] ")
			} else {
				r.inline.WriteString("[ ] ")
			}
		}
	case *ast.ThematicBreak:
		if entering {
			r.ensureBlankLine()
			r.emitLines(r.theme.Rule.Render(strings.Repeat("─", r.contentWidth())))
			r.ensureBlankLine()
		}
	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil
	case *extast.Table:
		if entering {
			r.ensureBlankLine()
			r.table = nil
			r.header = 0
			return ast.WalkContinue, nil
		}
		r.emitLines(r.renderTable())
		r.table = nil
		r.ensureBlankLine()
	case *extast.TableHeader, *extast.TableRow:
		if entering {
			r.tableRow = nil
			return ast.WalkContinue, nil
		}
		r.table = append(r.table, r.tableRow)
		if _, ok := n.(*extast.TableHeader); ok {
			r.header = 1
		}
	case *extast.TableCell:
		if !entering {
			r.tableRow = append(r.tableRow, strings.TrimSpace(r.inline.String()))
			r.inline.Reset()
		}
	}
	return ast.WalkContinue, nil
}

func (r *termRenderer) renderTable() string {
	cols := 0
	for _, row := range r.table {
		cols = max(cols, len(row))
	}
	widths := make([]int, cols)
	for _, row := range r.table {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	sep := r.theme.TableLines.Render(" │ ")
	var lines []string
	for ri, row := range r.table {
		cells := make([]string, cols)
		for i := range cells {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			if ri < r.header {
				cell = r.theme.TableHead.Render(cell)
			}
			cells[i] = cell + pad
		}
		lines = append(lines, strings.Join(cells, sep))
		if ri+1 == r.header {
			parts := make([]string, cols)
			for i, w := range widths {
				parts[i] = strings.Repeat("─", w)
			}
			lines = append(lines, r.theme.TableLines.Render(strings.Join(parts, "─┼─")))
		}
	}
	return strings.Join(lines, "\n")
}

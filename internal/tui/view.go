package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ludexdash/internal/appinfo"
	"ludexdash/internal/config"
	"ludexdash/internal/dashboard"
	"ludexdash/internal/dashlog"
	"ludexdash/internal/docrender"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	gateStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	panelStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("8"))
)

const (
	headerHeight = 2
	footerHeight = 1
)

func (m model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return ""
	}
	snap := m.orch.Snapshot()

	leftW, rightW := m.sideWidths()
	midW := max(0, m.width-leftW-rightW)
	bodyH := max(0, m.height-headerHeight-footerHeight)

	header := m.renderHeader(snap, m.width)
	left := lipgloss.NewStyle().Width(leftW).Height(bodyH).Render(renderRoster(snap.Agents, leftW-1, bodyH))
	center := lipgloss.NewStyle().Width(midW).Height(bodyH).Render(m.renderCenter(midW, bodyH))
	right := panelStyle.BorderLeft(true).Width(rightW - 1).Height(bodyH).Render(
		m.renderSide(snap, rightW-2, bodyH),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, center, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderFooter(snap, m.width))
}

func (m *model) resize() {
	leftW, rightW := m.sideWidths()
	midW := max(0, m.width-leftW-rightW)
	m.viewport.Width = max(0, midW-2)
	m.viewport.Height = max(0, m.height-headerHeight-footerHeight-1)
	m.input.Width = max(10, m.width-4)
}

func (m *model) sideWidths() (leftW int, rightW int) {
	leftW = clamp(24, m.width/5, 38)
	rightW = clamp(30, m.width/3, 52)
	return leftW, rightW
}

// rerender refreshes the viewport content for the current view.
func (m *model) rerender() {
	if m.viewport.Width <= 0 || m.viewport.Height <= 0 {
		return
	}
	snap := m.orch.Snapshot()
	var lines []string
	switch m.view {
	case viewDocument:
		if snap.Document != m.docSource || m.viewport.Width != m.docWidth {
			m.docSource = snap.Document
			m.docWidth = m.viewport.Width
			rendered := docrender.RenderTerminal(snap.Document, m.viewport.Width, docrender.DefaultTheme())
			m.docLines = nil
			if rendered != "" {
				m.docLines = strings.Split(rendered, "\n")
			}
		}
		lines = m.docLines
		if len(lines) == 0 {
			lines = []string{dimStyle.Render("The design document appears here once the GDD writer produces it.")}
		}
	default:
		lines = activityLines(snap.ToolCalls, m.viewport.Width, m.spin.View(), time.Now())
		if len(lines) == 0 {
			lines = []string{dimStyle.Render("No tool activity yet.")}
		}
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	maxOffset := max(0, len(lines)-m.viewport.Height)
	if m.follow {
		m.viewport.SetYOffset(maxOffset)
	} else if m.viewport.YOffset > maxOffset {
		m.viewport.SetYOffset(maxOffset)
	}
}

func (m model) renderHeader(snap dashboard.Snapshot, width int) string {
	title := headerStyle.Render(appinfo.Display())
	status := statusBadge(snap.Status)
	if snap.Status == dashboard.RunRunning {
		status += " " + m.spin.View()
	}
	runID := "-"
	if snap.Status != dashboard.RunIdle {
		runID = snap.RunID
	}
	first := fmt.Sprintf("%s  %s  %s", title, dimStyle.Render("run "+runID), status)
	if m.concept != "" {
		first += "  " + dimStyle.Render("concept: "+m.concept)
	}

	var second string
	switch {
	case m.notice != "" && m.noticeErr:
		second = errorStyle.Render(m.notice)
	case m.notice != "":
		second = okStyle.Render(m.notice)
	case snap.Status.Terminal() && snap.EndReason != "":
		second = dimStyle.Render("ended: " + snap.EndReason)
	case snap.StatusMessage != "":
		second = dimStyle.Render(snap.StatusMessage)
	}
	return truncateANSI(first, width) + "\n" + truncateANSI(second, width)
}

func (m model) renderCenter(width, height int) string {
	label := "Activity"
	if m.view == viewDocument {
		label = "Design Document"
	}
	counts := m.orch.Snapshot().Counts()
	heading := titleStyle.Render(label) + dimStyle.Render(
		fmt.Sprintf("  running %d · done %d · failed %d", counts.Running, counts.Completed, counts.Failed),
	)
	return lipgloss.NewStyle().Padding(0, 1).Render(truncateANSI(heading, width-2) + "\n" + m.viewport.View())
}

func (m model) renderSide(snap dashboard.Snapshot, width, height int) string {
	var blocks []string
	if gate := renderGate(snap, m.cfg, width); gate != "" {
		blocks = append(blocks, gate)
	}
	if qs := renderQuestions(snap, width); qs != "" {
		blocks = append(blocks, qs)
	}
	if metrics := renderMetrics(snap, width); metrics != "" {
		blocks = append(blocks, metrics)
	}
	if len(blocks) == 0 {
		blocks = append(blocks, dimStyle.Render("Nothing needs your attention."))
	}
	if n := snap.Anomalies; n.Malformed+n.UnmatchedCompletions+n.UnknownAgents > 0 {
		blocks = append(blocks, dimStyle.Render(fmt.Sprintf(
			"dropped: %d malformed · %d unmatched · %d unknown agent",
			n.Malformed, n.UnmatchedCompletions, n.UnknownAgents,
		)))
	}
	return lipgloss.NewStyle().PaddingLeft(1).Render(strings.Join(blocks, "\n\n"))
}

func (m model) renderFooter(snap dashboard.Snapshot, width int) string {
	if m.inputFor != inputNone {
		return lipgloss.NewStyle().Padding(0, 1).Render(m.input.View())
	}
	hints := []string{"q quit", "tab activity/document", "e export"}
	if snap.Gate != nil {
		hints = append([]string{"y approve", "x reject"}, hints...)
	}
	if snap.Questions != nil {
		hints = append([]string{"a answer"}, hints...)
	}
	if snap.Status != dashboard.RunRunning {
		hints = append(hints, "n new run", "N new concept")
	}
	return dimStyle.Render(truncateANSI(" "+strings.Join(hints, " · "), width))
}

func statusBadge(s dashboard.RunStatus) string {
	switch s {
	case dashboard.RunRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("● running")
	case dashboard.RunCompleted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render("✔ completed")
	case dashboard.RunErrored:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("✖ errored")
	default:
		return dimStyle.Render("○ idle")
	}
}

func agentGlyph(s dashboard.AgentStatus) string {
	switch s {
	case dashboard.AgentWorking:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render("◐")
	case dashboard.AgentDone:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("●")
	case dashboard.AgentError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("✖")
	default:
		return dimStyle.Render("○")
	}
}

func renderRoster(agents []dashboard.AgentRecord, width, height int) string {
	lines := []string{titleStyle.Render("Agents"), ""}
	for _, a := range agents {
		lines = append(lines, truncateANSI(fmt.Sprintf("%s %s", agentGlyph(a.Status), a.Name), width))
		detail := a.Role
		if a.Message != "" {
			detail = a.Message
		}
		if detail != "" {
			lines = append(lines, truncateANSI(dimStyle.Render("  "+dashlog.Preview(detail, 200)), width))
		}
	}
	if len(agents) == 0 {
		lines = append(lines, dimStyle.Render("no agents declared"))
	}
	if height > 0 && len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

// activityLines renders ledger records oldest first, one line each.
func activityLines(records []dashboard.ToolCallRecord, width int, spin string, now time.Time) []string {
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		var mark, tail string
		switch rec.Status {
		case dashboard.ToolCallRunning:
			mark = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render(spin)
			tail = formatDuration(now.Sub(rec.StartedAt))
		case dashboard.ToolCallFailed:
			mark = errorStyle.Render("✖")
			tail = dashlog.Preview(firstNonEmpty(rec.Error, rawText(rec.Result)), 80)
		default:
			mark = okStyle.Render("✔")
			tail = strings.TrimSpace(formatDuration(rec.Duration()) + " " + dashlog.Preview(rawText(rec.Result), 80))
		}
		parts := []string{
			dimStyle.Render(rec.StartedAt.Local().Format("15:04:05")),
			mark,
			rec.Agent + " ›",
			titleStyle.Render(rec.Tool),
		}
		if args := dashlog.Preview(rawText(rec.Args), 60); args != "" {
			parts = append(parts, dimStyle.Render(args))
		}
		if tail != "" {
			if rec.Status == dashboard.ToolCallFailed {
				tail = errorStyle.Render(tail)
			} else {
				tail = dimStyle.Render(tail)
			}
			parts = append(parts, tail)
		}
		lines = append(lines, truncateANSI(strings.Join(parts, " "), width))
	}
	return lines
}

func renderGate(snap dashboard.Snapshot, cfg config.Config, width int) string {
	if snap.Gate == nil {
		return ""
	}
	info := cfg.Gate(snap.Gate.Name)
	lines := []string{gateStyle.Render("⏸ " + info.Title)}
	if info.Description != "" {
		lines = append(lines, wrapText(info.Description, width))
	}
	if data := rawText(snap.Gate.Data); data != "" && data != "{}" && data != "null" {
		lines = append(lines, dimStyle.Render(wrapText(dashlog.Preview(data, 400), width)))
	}
	lines = append(lines, dimStyle.Render("y approve · x reject"))
	return strings.Join(lines, "\n")
}

func renderQuestions(snap dashboard.Snapshot, width int) string {
	if snap.Questions == nil {
		return ""
	}
	lines := []string{gateStyle.Render("? Director Questions")}
	for i, q := range snap.Questions.Questions {
		lines = append(lines, wrapText(fmt.Sprintf("%d. %s", i+1, q), width))
	}
	lines = append(lines, dimStyle.Render("a answer"))
	return strings.Join(lines, "\n")
}

func renderMetrics(snap dashboard.Snapshot, width int) string {
	if !snap.ShowMetrics() {
		return ""
	}
	mt := snap.Metrics
	rows := [][2]string{
		{"Executions", fmt.Sprintf("%d", mt.TotalExecutions)},
		{"Success rate", fmt.Sprintf("%.1f%%", dashboard.SuccessRate(mt))},
		{"Completed / failed", fmt.Sprintf("%d / %d", mt.Completed, mt.Failed)},
		{"Avg latency", fmt.Sprintf("%.0f ms", mt.AvgLatencyMS)},
		{"Total tokens", fmt.Sprintf("%d", mt.TotalTokens)},
		{"Avg tokens/agent", fmt.Sprintf("%.0f", mt.AvgTokensPerAgent)},
	}
	lines := []string{titleStyle.Render("Metrics")}
	for _, r := range rows {
		lines = append(lines, truncateANSI(fmt.Sprintf("%-19s %s", r[0], r[1]), width))
	}
	return strings.Join(lines, "\n")
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func wrapText(text string, width int) string {
	if width <= 10 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

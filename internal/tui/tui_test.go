package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ludexdash/internal/config"
	"ludexdash/internal/dashboard"
	"ludexdash/internal/pipeline"
	"ludexdash/internal/protocol"
)

type fakeStream struct {
	mu     sync.Mutex
	sent   []string
	closed int
}

func (f *fakeStream) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) ReadLoop(ctx context.Context, deliver func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeStream) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type harness struct {
	t      *testing.T
	m      model
	stream *fakeStream
	starts []string
}

func newHarness(t *testing.T, startErr error) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{t: t, stream: &fakeStream{}}
	h.m = newModel(ctx, Options{
		Config:  config.Default(),
		Concept: "cozy asteroid farming",
		Genre:   "Simulation",
		Dial: func(context.Context) (pipeline.Stream, error) {
			return h.stream, nil
		},
		Start: func(_ context.Context, concept, genre string) error {
			h.starts = append(h.starts, concept+"|"+genre)
			return startErr
		},
		ExportDir: t.TempDir(),
	})
	h.send(tea.WindowSizeMsg{Width: 140, Height: 40})
	return h
}

// send applies msg and runs the returned command chain for messages that
// stay inside the model (dial and start results).
func (h *harness) send(msg tea.Msg) tea.Cmd {
	h.t.Helper()
	next, cmd := h.m.Update(msg)
	h.m = next.(model)
	return cmd
}

func (h *harness) start() {
	h.t.Helper()
	cmd := h.send(startRunMsg{})
	if cmd == nil {
		h.t.Fatalf("expected dial command")
	}
	cmd = h.send(cmd())
	if cmd == nil {
		h.t.Fatalf("expected start command")
	}
	h.send(cmd())
}

func (h *harness) frame(raw string) {
	h.t.Helper()
	h.send(pipeline.Frame{Src: h.stream, Data: []byte(raw)})
}

func (h *harness) key(k string) tea.Cmd {
	h.t.Helper()
	switch k {
	case "enter":
		return h.send(tea.KeyMsg{Type: tea.KeyEnter})
	case "esc":
		return h.send(tea.KeyMsg{Type: tea.KeyEsc})
	case "tab":
		return h.send(tea.KeyMsg{Type: tea.KeyTab})
	}
	return h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
}

func TestModelStartsRunAndAppliesFrames(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	if h.m.orch.Status() != dashboard.RunRunning {
		t.Fatalf("expected running, got %s", h.m.orch.Status())
	}
	if len(h.starts) != 1 || h.starts[0] != "cozy asteroid farming|Simulation" {
		t.Fatalf("unexpected start calls: %v", h.starts)
	}

	h.frame(`{"type":"tool_call_started","agent":"market_analyst","tool":"search_trends","args":{"q":"farming"}}`)
	h.frame(`{"type":"agent_update","agent":"market_analyst","status":"working","message":"Validating"}`)
	snap := h.m.orch.Snapshot()
	if len(snap.ToolCalls) != 1 || snap.Agents[0].Status != dashboard.AgentWorking {
		t.Fatalf("frames not applied: %+v", snap)
	}

	view := h.m.View()
	if !strings.Contains(view, "search_trends") || !strings.Contains(view, "Market Analyst") {
		t.Fatalf("view missing activity or roster:\n%s", view)
	}
}

func TestModelGateApproveAndReject(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.frame(`{"type":"gate_reached","gate_name":"mechanics_designer","data":{"summary":"strong niche"}}`)
	if !strings.Contains(h.m.View(), "Market Analysis Approval") {
		t.Fatalf("gate panel not rendered")
	}
	h.key("y")
	h.frame(`{"type":"gate_reached","gate_name":"producer"}`)
	h.key("x")

	want := []string{
		`{"type":"gate_approve","gate":"mechanics_designer"}`,
		`{"type":"gate_reject"}`,
	}
	got := h.stream.sentFrames()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected replies: %v", got)
	}
	snap := h.m.orch.Snapshot()
	if snap.Status != dashboard.RunCompleted || snap.EndReason != dashboard.EndReasonRejected {
		t.Fatalf("expected reject to end the run, got %s %q", snap.Status, snap.EndReason)
	}
	if h.stream.closed != 1 {
		t.Fatalf("expected transport closed once, got %d", h.stream.closed)
	}
}

func TestModelAnswerQuestions(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.key("a")
	if h.m.inputFor != inputNone {
		t.Fatalf("answer input must not open without questions")
	}
	h.frame(`{"type":"director_questions","questions":["Who is the audience?"]}`)
	h.key("a")
	if h.m.inputFor != inputAnswer {
		t.Fatalf("expected answer input")
	}
	h.key("enter")
	if h.m.inputFor != inputAnswer || len(h.stream.sentFrames()) != 0 {
		t.Fatalf("blank answer must keep the input open and send nothing")
	}
	h.key("Families")
	h.key("enter")

	got := h.stream.sentFrames()
	if len(got) != 1 || got[0] != `{"type":"director_answer","answer":"Families"}` {
		t.Fatalf("unexpected replies: %v", got)
	}
	if h.m.inputFor != inputNone || h.m.orch.Snapshot().Questions != nil {
		t.Fatalf("expected questions cleared after answer")
	}
}

func TestModelStartFailureEndsRun(t *testing.T) {
	h := newHarness(t, errors.New("http 500"))
	h.start()

	snap := h.m.orch.Snapshot()
	if snap.Status != dashboard.RunErrored || !strings.Contains(snap.EndReason, "http 500") {
		t.Fatalf("expected errored run, got %s %q", snap.Status, snap.EndReason)
	}
	if !h.m.noticeErr {
		t.Fatalf("expected error notice")
	}
}

func TestModelStreamEndAndStaleFrames(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	stale := &fakeStream{}
	h.send(pipeline.Frame{Src: stale, Data: []byte(`{"type":"tool_call_started","agent":"a","tool":"t"}`)})
	if len(h.m.orch.Snapshot().ToolCalls) != 0 {
		t.Fatalf("frame from a stale stream was applied")
	}

	h.send(pipeline.Frame{Src: h.stream, Done: true, Err: errors.New("connection reset")})
	if h.m.orch.Status() != dashboard.RunErrored {
		t.Fatalf("expected errored after stream end, got %s", h.m.orch.Status())
	}
}

func TestModelPolledMetricsOnlyWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.MetricsUpdate{Metrics: protocol.Metrics{TotalExecutions: 3}})
	if h.m.orch.Snapshot().HasMetrics {
		t.Fatalf("metrics applied while idle")
	}
	h.start()
	h.send(protocol.MetricsUpdate{Metrics: protocol.Metrics{TotalExecutions: 4, Completed: 3, Failed: 1}})
	if !strings.Contains(h.m.View(), "75.0%") {
		t.Fatalf("metrics panel not rendered")
	}
}

func TestModelExportDocument(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	h.key("e")
	if h.m.noticeErr || !strings.Contains(h.m.notice, "no design document") {
		t.Fatalf("unexpected notice %q", h.m.notice)
	}
	h.frame(`{"type":"gdd_update","markdown":"# Starfarm\n\nPlant, harvest, repeat."}`)
	h.key("tab")
	if h.m.view != viewDocument || !strings.Contains(h.m.View(), "Starfarm") {
		t.Fatalf("document view not rendered")
	}
	h.key("e")
	runID := h.m.orch.Snapshot().RunID
	if _, err := os.Stat(filepath.Join(h.m.opts.ExportDir, "gdd-"+runID+".html")); err != nil {
		t.Fatalf("expected exported html: %v (notice %q)", err, h.m.notice)
	}
}

func TestModelQuit(t *testing.T) {
	h := newHarness(t, nil)
	cmd := h.key("q")
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestTruncateANSI(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdef", 4, "abc…"},
		{"abcdef", 1, "…"},
		{"\x1b[31mhello world\x1b[0m", 6, "\x1b[31mhello…" + ansiReset},
		{"漢字テスト", 5, "漢字…"},
	}
	for _, tc := range cases {
		if got := truncateANSI(tc.in, tc.width); got != tc.want {
			t.Fatalf("truncateANSI(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestRenderMetricsVisibility(t *testing.T) {
	t.Parallel()

	snap := dashboard.Snapshot{HasMetrics: true, Metrics: protocol.Metrics{TotalExecutions: 0}}
	if got := renderMetrics(snap, 40); got != "" {
		t.Fatalf("expected hidden metrics, got %q", got)
	}
	snap.Metrics = protocol.Metrics{TotalExecutions: 8, Completed: 6, Failed: 2, AvgLatencyMS: 812.4, TotalTokens: 4200}
	got := renderMetrics(snap, 40)
	for _, want := range []string{"75.0%", "6 / 2", "812 ms", "4200"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestActivityLines(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []dashboard.ToolCallRecord{
		{Agent: "producer", Tool: "estimate", Status: dashboard.ToolCallCompleted, Result: []byte(`"12 weeks"`), StartedAt: start, CompletedAt: start.Add(1500 * time.Millisecond)},
		{Agent: "producer", Tool: "budget", Status: dashboard.ToolCallFailed, Error: "quota exceeded", StartedAt: start},
		{Agent: "gdd_writer", Tool: "compile", Status: dashboard.ToolCallRunning, StartedAt: start},
	}
	lines := activityLines(records, 200, "*", start.Add(2*time.Second))
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "estimate") || !strings.Contains(lines[0], "12 weeks") || !strings.Contains(lines[0], "1.5s") {
		t.Fatalf("unexpected completed line %q", lines[0])
	}
	if !strings.Contains(lines[1], "quota exceeded") {
		t.Fatalf("unexpected failed line %q", lines[1])
	}
	if !strings.Contains(lines[2], "compile") || !strings.Contains(lines[2], "2s") {
		t.Fatalf("unexpected running line %q", lines[2])
	}
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"ludexdash/internal/config"
	"ludexdash/internal/dashboard"
	"ludexdash/internal/docrender"
	"ludexdash/internal/pipeline"
	"ludexdash/internal/presence"
	"ludexdash/internal/protocol"
)

type Options struct {
	Config  config.Config
	Concept string
	Genre   string

	// Dial opens the event stream for a new run.
	Dial func(ctx context.Context) (pipeline.Stream, error)
	// Start asks the backend to begin a run once the stream is bound.
	Start func(ctx context.Context, concept, genre string) error
	// FetchMetrics, when set, is polled on Config.Server.MetricsPoll.
	FetchMetrics func(ctx context.Context) (protocol.Metrics, error)

	Publisher *presence.Publisher
	ExportDir string
	Logf      func(format string, args ...any)
}

// Run starts the dashboard on out. It refuses to run when out is not a TTY.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	if opts.Dial == nil || opts.Start == nil {
		return errors.New("dashboard requires dial and start functions")
	}
	if f, ok := out.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("stdout is not a TTY; use `ludex tail`")
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(ctx, opts)
	if opts.FetchMetrics != nil {
		events := m.events
		poller, err := pipeline.NewPoller(pipeline.PollerOptions{
			Schedule: opts.Config.Server.MetricsPoll,
			Fetch:    opts.FetchMetrics,
			Deliver: func(u protocol.MetricsUpdate) {
				select {
				case events <- u:
				case <-ctx.Done():
				}
			},
			Logf: m.logf,
		})
		if err != nil {
			return err
		}
		poller.Start(ctx)
		defer poller.Stop()
	}

	prog := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)
	final, err := prog.Run()
	if fm, ok := final.(model); ok {
		fm.orch.Close()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

type viewMode int

const (
	viewActivity viewMode = iota
	viewDocument
)

type inputMode int

const (
	inputNone inputMode = iota
	inputAnswer
	inputConcept
)

type model struct {
	ctx  context.Context
	opts Options
	cfg  config.Config
	orch *dashboard.Orchestrator
	logf func(format string, args ...any)

	events chan tea.Msg

	width  int
	height int

	input    textinput.Model
	inputFor inputMode
	viewport viewport.Model
	spin     spinner.Model
	view     viewMode
	follow   bool

	concept    string
	genre      string
	connecting bool
	notice     string
	noticeErr  bool

	docSource string
	docWidth  int
	docLines  []string
}

type refreshMsg struct{}

type dialedMsg struct {
	stream pipeline.Stream
	err    error
}

type startedMsg struct {
	src dashboard.Transport
	err error
}

func newModel(ctx context.Context, opts Options) model {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	cfg := opts.Config

	inp := textinput.New()
	inp.Prompt = "› "
	inp.CharLimit = 0

	return model{
		ctx:  ctx,
		opts: opts,
		cfg:  cfg,
		orch: dashboard.NewOrchestrator(dashboard.OrchestratorOptions{
			Agents: cfg.AgentSpecs(),
			Logf:   logf,
		}),
		logf:     logf,
		events:   make(chan tea.Msg, 512),
		input:    inp,
		viewport: viewport.New(0, 0),
		spin:     spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		follow:   true,
		concept:  strings.TrimSpace(opts.Concept),
		genre:    strings.TrimSpace(opts.Genre),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), waitAsyncCmd(m.events), m.spin.Tick}
	if m.concept != "" {
		cmds = append(cmds, func() tea.Msg { return startRunMsg{} })
	}
	return tea.Batch(cmds...)
}

type startRunMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return refreshMsg{} })
}

func waitAsyncCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func dialCmd(ctx context.Context, dial func(context.Context) (pipeline.Stream, error)) tea.Cmd {
	return func() tea.Msg {
		s, err := dial(ctx)
		return dialedMsg{stream: s, err: err}
	}
}

func startCmd(ctx context.Context, start func(context.Context, string, string) error, src dashboard.Transport, concept, genre string) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{src: src, err: start(ctx, concept, genre)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.rerender()
		return m, nil
	case refreshMsg:
		m.rerender()
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case startRunMsg:
		return m, m.beginRun()
	case dialedMsg:
		m.connecting = false
		if msg.err != nil {
			m.setNotice("connect failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.orch.StartRun(msg.stream)
		m.docSource, m.docLines = "", nil
		m.follow = true
		m.setNotice("", false)
		go pipeline.Pump(m.ctx, msg.stream, frameSink(m.ctx, m.events))
		m.publish()
		m.rerender()
		return m, startCmd(m.ctx, m.opts.Start, msg.stream, m.concept, m.genre)
	case startedMsg:
		if msg.err != nil {
			if m.orch.TransportFailed(msg.src, fmt.Errorf("start request: %w", msg.err)) {
				m.setNotice("start failed: "+msg.err.Error(), true)
				m.publish()
			}
		}
		m.rerender()
		return m, nil
	case pipeline.Frame:
		m.applyFrame(msg)
		return m, waitAsyncCmd(m.events)
	case protocol.MetricsUpdate:
		if m.orch.Apply(msg) {
			m.publish()
			m.rerender()
		}
		return m, waitAsyncCmd(m.events)
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// frameSink adapts the async channel to the Frame channel Pump writes to.
func frameSink(ctx context.Context, events chan<- tea.Msg) chan<- pipeline.Frame {
	ch := make(chan pipeline.Frame)
	go func() {
		for {
			select {
			case f := <-ch:
				select {
				case events <- f:
				case <-ctx.Done():
					return
				}
				if f.Done {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (m *model) applyFrame(f pipeline.Frame) {
	before := m.orch.Status()
	changed := false
	if f.Done {
		changed = m.orch.TransportFailed(f.Src, f.Err)
	} else {
		changed = m.orch.Deliver(f.Src, f.Data)
	}
	if !changed {
		return
	}
	if after := m.orch.Status(); after != before && after.Terminal() {
		snap := m.orch.Snapshot()
		m.setNotice(fmt.Sprintf("run %s: %s", after, snap.EndReason), after == dashboard.RunErrored)
	}
	m.publish()
	m.rerender()
}

func (m *model) beginRun() tea.Cmd {
	if m.connecting {
		return nil
	}
	if m.concept == "" {
		m.openInput(inputConcept)
		return nil
	}
	m.connecting = true
	m.setNotice("connecting to "+m.cfg.WSURL(), false)
	return dialCmd(m.ctx, m.opts.Dial)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.inputFor != inputNone {
		switch msg.String() {
		case "esc":
			m.closeInput()
			return m, nil
		case "enter":
			return m.submitInput()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "y":
		m.resolveGate(true)
	case "x":
		m.resolveGate(false)
	case "a", "enter":
		if m.orch.Snapshot().Questions == nil {
			m.setNotice("no questions are waiting for an answer", false)
		} else {
			m.openInput(inputAnswer)
		}
	case "n":
		if m.orch.Status() == dashboard.RunRunning {
			m.setNotice("a run is already in progress", false)
			return m, nil
		}
		return m, m.beginRun()
	case "N":
		m.openInput(inputConcept)
	case "tab":
		if m.view == viewActivity {
			m.view = viewDocument
		} else {
			m.view = viewActivity
		}
		m.viewport.SetYOffset(0)
		m.follow = m.view == viewActivity
	case "e":
		m.exportDocument()
	case "up", "k":
		m.scroll(-1)
	case "down", "j":
		m.scroll(1)
	case "pgup", "left":
		m.scroll(-max(1, m.viewport.Height-1))
	case "pgdown", "right":
		m.scroll(max(1, m.viewport.Height-1))
	case "G", "end":
		m.follow = true
	}
	m.rerender()
	return m, nil
}

func (m *model) openInput(mode inputMode) {
	m.inputFor = mode
	m.input.SetValue("")
	switch mode {
	case inputAnswer:
		m.input.Placeholder = "Answer the director's questions…"
	case inputConcept:
		m.input.Placeholder = "Game concept (genre after a |, e.g. cozy farming | Simulation)"
	}
	m.input.Focus()
}

func (m *model) closeInput() {
	m.inputFor = inputNone
	m.input.SetValue("")
	m.input.Blur()
}

func (m model) submitInput() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	mode := m.inputFor
	switch mode {
	case inputAnswer:
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		err := m.orch.SubmitAnswer(ctx, value)
		cancel()
		if err != nil {
			m.setNotice("answer not sent: "+err.Error(), true)
			if errors.Is(err, dashboard.ErrEmptyAnswer) {
				return m, nil
			}
		} else {
			m.setNotice("answer sent", false)
		}
		m.closeInput()
		m.publish()
		m.rerender()
		return m, nil
	case inputConcept:
		concept, genre, _ := strings.Cut(value, "|")
		concept = strings.TrimSpace(concept)
		if concept == "" {
			m.setNotice("concept is required", true)
			return m, nil
		}
		m.concept = concept
		m.genre = strings.TrimSpace(genre)
		m.closeInput()
		return m, m.beginRun()
	}
	m.closeInput()
	return m, nil
}

func (m *model) resolveGate(approve bool) {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	var err error
	if approve {
		err = m.orch.ApproveGate(ctx)
	} else {
		err = m.orch.RejectGate(ctx)
	}
	switch {
	case err == nil && approve:
		m.setNotice("gate approved", false)
	case err == nil:
		m.setNotice("gate rejected: run ended", false)
	default:
		m.setNotice(err.Error(), !errors.Is(err, dashboard.ErrNoPendingGate))
		return
	}
	m.publish()
}

func (m *model) exportDocument() {
	snap := m.orch.Snapshot()
	if strings.TrimSpace(snap.Document) == "" {
		m.setNotice("no design document to export yet", false)
		return
	}
	res, err := docrender.Export(m.opts.ExportDir, "gdd-"+snap.RunID, snap.Document, docrender.HTMLOptions{RunID: snap.RunID})
	if err != nil {
		m.setNotice("export failed: "+err.Error(), true)
		return
	}
	m.setNotice("exported "+res.MarkdownPath+" and "+res.HTMLPath, false)
}

func (m *model) publish() {
	if m.opts.Publisher != nil {
		m.opts.Publisher.Offer(m.orch.Snapshot())
	}
}

func (m *model) setNotice(text string, isErr bool) {
	m.notice = strings.TrimSpace(text)
	m.noticeErr = isErr
}

func (m *model) scroll(delta int) {
	m.follow = false
	m.viewport.SetYOffset(max(0, m.viewport.YOffset+delta))
}

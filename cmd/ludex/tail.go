package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ludexdash/internal/dashboard"
	"ludexdash/internal/dashlog"
	"ludexdash/internal/pipeline"
	"ludexdash/internal/protocol"
)

func runTail(args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (JSON or YAML)")
	concept := fs.String("concept", "", "game concept (required)")
	genre := fs.String("genre", "", "genre sent with the concept")
	autoApprove := fs.Bool("auto-approve", false, "approve every gate as it is reached")
	answer := fs.String("answer", "", "answer sent to every round of director questions")
	fs.Usage = func() { printCommandUsage(fs.Output(), "tail") }
	fs.Parse(args)

	if strings.TrimSpace(*concept) == "" {
		return fmt.Errorf("--concept is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(*configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.startPresence(ctx); err != nil {
		return err
	}

	orch := dashboard.NewOrchestrator(dashboard.OrchestratorOptions{
		Agents: a.cfg.AgentSpecs(),
		Logf:   a.log.Func(dashlog.KindDebug),
	})
	defer orch.Close()

	stream, err := a.dial(ctx)
	if err != nil {
		return err
	}
	orch.StartRun(stream)
	frames := make(chan pipeline.Frame, 64)
	go pipeline.Pump(ctx, stream, frames)

	if err := a.start(ctx, *concept, *genre); err != nil {
		orch.TransportFailed(stream, fmt.Errorf("start request: %w", err))
		return err
	}

	t := &tailer{
		app:         a,
		orch:        orch,
		autoApprove: *autoApprove,
		answer:      strings.TrimSpace(*answer),
	}
	for orch.Status() == dashboard.RunRunning {
		select {
		case f := <-frames:
			t.handle(ctx, f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	snap := orch.Snapshot()
	counts := snap.Counts()
	a.log.Logf(dashlog.KindInfo, "run %s %s: %s (tools: %d done, %d failed)", snap.RunID, snap.Status, snap.EndReason, counts.Completed, counts.Failed)
	if snap.Status == dashboard.RunErrored {
		return fmt.Errorf("run ended in error: %s", snap.EndReason)
	}
	return nil
}

type tailer struct {
	app         *app
	orch        *dashboard.Orchestrator
	autoApprove bool
	answer      string

	// ReceivedAt of the last gate and question set acted on.
	lastGate      time.Time
	lastQuestions time.Time
}

func (t *tailer) handle(ctx context.Context, f pipeline.Frame) {
	log := t.app.log
	if f.Done {
		if t.orch.TransportFailed(f.Src, f.Err) {
			log.Logf(dashlog.KindError, "stream ended: %v", f.Err)
		}
		return
	}
	if evt, err := protocol.Decode(f.Data); err == nil {
		kind, line := describeEvent(evt)
		log.Log(kind, line)
	} else {
		log.Logf(dashlog.KindWarn, "%v: %s", err, dashlog.Preview(string(f.Data), 160))
	}
	if !t.orch.Deliver(f.Src, f.Data) {
		return
	}
	if t.app.publisher != nil {
		t.app.publisher.Offer(t.orch.Snapshot())
	}

	snap := t.orch.Snapshot()
	if snap.Gate != nil && !snap.Gate.ReceivedAt.Equal(t.lastGate) {
		t.lastGate = snap.Gate.ReceivedAt
		t.onGate(ctx, *snap.Gate)
	}
	if snap.Questions != nil && !snap.Questions.ReceivedAt.Equal(t.lastQuestions) {
		t.lastQuestions = snap.Questions.ReceivedAt
		t.onQuestions(ctx)
	}
}

func (t *tailer) onGate(ctx context.Context, gate dashboard.GateRequest) {
	log := t.app.log
	info := t.app.cfg.Gate(gate.Name)
	if !t.autoApprove {
		log.Logf(dashlog.KindGate, "%s is waiting; rerun with --auto-approve or use watch to decide", info.Title)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.orch.ApproveGate(sctx); err != nil {
		log.Logf(dashlog.KindError, "approve %s: %v", gate.Name, err)
		return
	}
	log.Logf(dashlog.KindGate, "approved %s", info.Title)
}

func (t *tailer) onQuestions(ctx context.Context) {
	log := t.app.log
	if t.answer == "" {
		log.Log(dashlog.KindGate, "director questions are waiting; rerun with --answer or use watch to reply")
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.orch.SubmitAnswer(sctx, t.answer); err != nil {
		log.Logf(dashlog.KindError, "answer: %v", err)
		return
	}
	log.Log(dashlog.KindGate, "answered director questions")
}

// describeEvent renders one event as a log line.
func describeEvent(evt protocol.Event) (dashlog.Kind, string) {
	switch e := evt.(type) {
	case protocol.ToolCallStarted:
		return dashlog.KindEvent, fmt.Sprintf("%s › %s started %s", e.Agent, e.Tool, dashlog.Preview(string(e.Args), 120))
	case protocol.ToolCallCompleted:
		if e.Failed() {
			return dashlog.KindWarn, fmt.Sprintf("%s › %s failed: %s", e.Agent, e.Tool, firstNonEmpty(e.Error, string(e.Result)))
		}
		return dashlog.KindEvent, fmt.Sprintf("%s › %s completed %s", e.Agent, e.Tool, dashlog.Preview(string(e.Result), 120))
	case protocol.AgentUpdate:
		return dashlog.KindEvent, strings.TrimSpace(fmt.Sprintf("%s is %s %s", e.Agent, e.Status, e.Message))
	case protocol.GateReached:
		return dashlog.KindGate, fmt.Sprintf("gate reached: %s %s", e.GateName, dashlog.Preview(string(e.Data), 200))
	case protocol.DirectorQuestions:
		return dashlog.KindGate, "director asks: " + strings.Join(e.Questions, " / ")
	case protocol.MetricsUpdate:
		m := e.Metrics
		return dashlog.KindInfo, fmt.Sprintf("metrics: %d executions, %.1f%% success, %d tokens", m.TotalExecutions, dashboard.SuccessRate(m), m.TotalTokens)
	case protocol.DocumentUpdate:
		return dashlog.KindInfo, fmt.Sprintf("design document updated (%d bytes)", len(e.Markdown))
	case protocol.RunStatus:
		kind := dashlog.KindInfo
		if _, failed := e.Terminal(); failed {
			kind = dashlog.KindError
		}
		return kind, strings.TrimSpace("status " + e.Status + " " + e.Message)
	case protocol.RunError:
		return dashlog.KindError, "pipeline error: " + e.Message
	case protocol.Ack:
		return dashlog.KindDebug, strings.TrimSpace(fmt.Sprintf("ack %s %s %s", e.Kind, e.Status, e.Gate))
	}
	return dashlog.KindDebug, evt.EventType()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

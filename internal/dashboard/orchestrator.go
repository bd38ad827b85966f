package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ludexdash/internal/dashlog"
	"ludexdash/internal/protocol"
)

var (
	ErrNotRunning  = errors.New("run is not active")
	ErrNoTransport = errors.New("run has no transport")
)

// Transport is the live connection a running session reads events from and
// sends replies on.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

const (
	EndReasonCompleted  = "completed"
	EndReasonRejected   = "gate rejected"
	EndReasonSuperseded = "superseded by a new run"
)

type OrchestratorOptions struct {
	Agents []AgentSpec
	Logf   func(format string, args ...any)
	Now    func() time.Time
}

// Orchestrator owns the run lifecycle Idle -> Running -> Completed|Errored
// and is the only place session state is mutated. It is not safe for
// concurrent use: callers deliver events and user actions from one goroutine.
type Orchestrator struct {
	agents  []AgentSpec
	session *Session
	logf    func(format string, args ...any)
	now     func() time.Time
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	agents := append([]AgentSpec(nil), opts.Agents...)
	return &Orchestrator{
		agents:  agents,
		session: newSession(agents, now),
		logf:    logf,
		now:     now,
	}
}

func (o *Orchestrator) Session() *Session {
	return o.session
}

func (o *Orchestrator) Status() RunStatus {
	return o.session.Status
}

func (o *Orchestrator) Snapshot() Snapshot {
	return o.session.snapshot()
}

// StartRun ends the current session if it is still running, releases its
// transport, and then builds a fresh running session bound to t.
func (o *Orchestrator) StartRun(t Transport) *Session {
	prev := o.session
	if prev.Status == RunRunning {
		o.finish(RunCompleted, EndReasonSuperseded)
	}
	prev.closeTransport(o.logf)

	s := newSession(o.agents, o.now)
	s.Status = RunRunning
	s.StartedAt = o.now()
	s.transport = t
	o.session = s
	o.logf("run started run_id=%s agents=%d", s.ID, s.Roster.Len())
	return s
}

// Owns reports whether t is the transport of the current session.
func (o *Orchestrator) Owns(t Transport) bool {
	return t != nil && o.session.transport == t
}

// Deliver applies a raw frame read from src. Frames from a transport that
// no longer belongs to the current session are dropped.
func (o *Orchestrator) Deliver(src Transport, raw []byte) bool {
	if !o.Owns(src) {
		o.session.Anomalies.Discarded++
		o.logf("discarded frame from stale transport: %s", dashlog.Preview(string(raw), 160))
		return false
	}
	return o.HandleFrame(raw)
}

// HandleFrame decodes raw and applies it. Decode failures are logged and
// dropped.
func (o *Orchestrator) HandleFrame(raw []byte) bool {
	evt, err := protocol.Decode(raw)
	if err != nil {
		o.session.Anomalies.Malformed++
		o.logf("dropped frame: %v frame=%s", err, dashlog.Preview(string(raw), 160))
		return false
	}
	return o.Apply(evt)
}

// Apply routes one event to the component that owns it and reports whether
// session state changed. Events outside Running are discarded.
func (o *Orchestrator) Apply(evt protocol.Event) bool {
	if evt == nil {
		return false
	}
	s := o.session
	if s.Status != RunRunning {
		s.Anomalies.Discarded++
		o.logf("discarded %s event: run is %s", evt.EventType(), s.Status)
		return false
	}
	now := o.now()

	switch e := evt.(type) {
	case protocol.ToolCallStarted:
		id := s.Ledger.OnStart(CallStart{
			CallID: e.CallID,
			Agent:  e.Agent,
			Tool:   e.Tool,
			Args:   e.Args,
			At:     eventTime(e.TS, now),
		})
		o.logf("tool started id=%s", id)
		return true
	case protocol.ToolCallCompleted:
		ok := s.Ledger.OnComplete(CallCompletion{
			CallID: e.CallID,
			Agent:  e.Agent,
			Tool:   e.Tool,
			Result: e.Result,
			Error:  e.Error,
			Failed: e.Failed(),
			At:     eventTime(e.TS, now),
		})
		if !ok {
			s.Anomalies.UnmatchedCompletions++
			o.logf("unmatched completion agent=%s tool=%s call_id=%s", e.Agent, e.Tool, e.CallID)
		}
		return ok
	case protocol.AgentUpdate:
		if !s.Roster.OnUpdate(e.Agent, e.Status, e.Message, now) {
			s.Anomalies.UnknownAgents++
			o.logf("unknown agent key=%q status=%q", e.Agent, e.Status)
			return false
		}
		return true
	case protocol.GateReached:
		if s.Gates.OnGateReached(e.GateName, e.Data, now) {
			o.logf("gate %q replaced an unresolved gate", e.GateName)
		}
		return true
	case protocol.DirectorQuestions:
		if s.Gates.OnQuestions(e.Questions, now) {
			o.logf("questions replaced an unanswered set")
		}
		return true
	case protocol.MetricsUpdate:
		s.Metrics.OnUpdate(e.Metrics, now)
		return true
	case protocol.DocumentUpdate:
		s.Document = e.Markdown
		return true
	case protocol.RunStatus:
		if terminal, failed := e.Terminal(); terminal {
			reason := strings.TrimSpace(e.Message)
			if failed {
				if reason == "" {
					reason = "pipeline reported status " + e.Status
				}
				o.finish(RunErrored, reason)
				return true
			}
			if reason == "" {
				reason = EndReasonCompleted
			}
			o.finish(RunCompleted, reason)
			return true
		}
		s.StatusMessage = strings.TrimSpace(e.Message)
		return true
	case protocol.RunError:
		reason := strings.TrimSpace(e.Message)
		if reason == "" {
			reason = "pipeline error"
		}
		o.finish(RunErrored, reason)
		return true
	case protocol.Ack:
		o.logf("server ack %s status=%s gate=%s", e.Kind, e.Status, e.Gate)
		return false
	default:
		o.logf("unhandled event type %s", evt.EventType())
		return false
	}
}

// TransportFailed ends the current run as errored when src is its transport.
func (o *Orchestrator) TransportFailed(src Transport, err error) bool {
	if !o.Owns(src) || o.session.Status != RunRunning {
		return false
	}
	reason := "transport closed"
	if err != nil {
		reason = fmt.Sprintf("transport failure: %v", err)
	}
	o.finish(RunErrored, reason)
	return true
}

func (o *Orchestrator) SubmitAnswer(ctx context.Context, text string) error {
	s, err := o.interactive()
	if err != nil {
		return err
	}
	return s.Gates.Answer(text, o.sender(ctx, s))
}

func (o *Orchestrator) ApproveGate(ctx context.Context) error {
	s, err := o.interactive()
	if err != nil {
		return err
	}
	return s.Gates.ResolveGate(DecisionApprove, o.sender(ctx, s))
}

// RejectGate sends the rejection and then ends the run without error.
func (o *Orchestrator) RejectGate(ctx context.Context) error {
	s, err := o.interactive()
	if err != nil {
		return err
	}
	if err := s.Gates.ResolveGate(DecisionReject, o.sender(ctx, s)); err != nil {
		return err
	}
	o.finish(RunCompleted, EndReasonRejected)
	return nil
}

// Close releases the current transport without changing run status.
func (o *Orchestrator) Close() {
	o.session.closeTransport(o.logf)
}

func (o *Orchestrator) interactive() (*Session, error) {
	s := o.session
	if s.Status != RunRunning {
		return nil, ErrNotRunning
	}
	if s.transport == nil || s.closed {
		return nil, ErrNoTransport
	}
	return s, nil
}

func (o *Orchestrator) sender(ctx context.Context, s *Session) func(protocol.Reply) error {
	return func(reply protocol.Reply) error {
		data, err := reply.Marshal()
		if err != nil {
			return err
		}
		if err := s.transport.Send(ctx, data); err != nil {
			return fmt.Errorf("send %s: %w", reply.Type, err)
		}
		o.logf("sent %s", reply.Type)
		return nil
	}
}

func (o *Orchestrator) finish(status RunStatus, reason string) {
	s := o.session
	s.Status = status
	s.EndReason = reason
	s.EndedAt = o.now()
	s.closeTransport(o.logf)
	o.logf("run %s run_id=%s reason=%s", status, s.ID, reason)
}

func (s *Session) closeTransport(logf func(string, ...any)) {
	if s.transport == nil || s.closed {
		return
	}
	s.closed = true
	if err := s.transport.Close(); err != nil {
		logf("close transport: %v", err)
	}
}

func eventTime(ms int64, fallback time.Time) time.Time {
	if t := protocol.EventTime(ms); !t.IsZero() {
		return t
	}
	return fallback
}

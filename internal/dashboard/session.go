package dashboard

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"ludexdash/internal/protocol"
)

type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunErrored   RunStatus = "errored"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunErrored
}

// Anomalies counts per-event problems that were tolerated and dropped.
type Anomalies struct {
	Malformed            int `json:"malformed"`
	UnmatchedCompletions int `json:"unmatched_completions"`
	UnknownAgents        int `json:"unknown_agents"`
	Discarded            int `json:"discarded"`
}

// Session is the state of one run. It is owned by the Orchestrator and is
// never shared with another run.
type Session struct {
	ID            string
	Status        RunStatus
	StatusMessage string
	EndReason     string
	StartedAt     time.Time
	EndedAt       time.Time

	Roster    *Roster
	Ledger    *Ledger
	Gates     *GateController
	Metrics   *MetricsAccumulator
	Document  string
	Anomalies Anomalies

	transport Transport
	closed    bool
}

func newSession(agents []AgentSpec, now func() time.Time) *Session {
	ledger := NewLedger()
	ledger.now = now
	return &Session{
		ID:      newRunID(),
		Status:  RunIdle,
		Roster:  NewRoster(agents),
		Ledger:  ledger,
		Gates:   &GateController{},
		Metrics: &MetricsAccumulator{},
	}
}

func newRunID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "run-" + hex.EncodeToString(b[:])
}

// Snapshot is a read-only copy of a session, safe to hand to presentation
// code or to another goroutine.
type Snapshot struct {
	RunID         string           `json:"run_id"`
	Status        RunStatus        `json:"status"`
	StatusMessage string           `json:"status_message,omitempty"`
	EndReason     string           `json:"end_reason,omitempty"`
	StartedAt     time.Time        `json:"started_at,omitempty"`
	EndedAt       time.Time        `json:"ended_at,omitempty"`
	Agents        []AgentRecord    `json:"agents"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
	Gate          *GateRequest     `json:"gate,omitempty"`
	Questions     *QuestionSet     `json:"questions,omitempty"`
	Metrics       protocol.Metrics `json:"metrics"`
	HasMetrics    bool             `json:"has_metrics"`
	Document      string           `json:"document,omitempty"`
	Anomalies     Anomalies        `json:"anomalies"`
}

// ShowMetrics reports whether the metrics panel should be rendered: a run
// that has produced no executions yet hides it.
func (s Snapshot) ShowMetrics() bool {
	return s.HasMetrics && s.Metrics.TotalExecutions > 0
}

func (s Snapshot) Counts() LedgerCounts {
	var c LedgerCounts
	for _, rec := range s.ToolCalls {
		switch rec.Status {
		case ToolCallRunning:
			c.Running++
		case ToolCallCompleted:
			c.Completed++
		case ToolCallFailed:
			c.Failed++
		}
	}
	return c
}

func (s *Session) snapshot() Snapshot {
	out := Snapshot{
		RunID:         s.ID,
		Status:        s.Status,
		StatusMessage: s.StatusMessage,
		EndReason:     s.EndReason,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Agents:        s.Roster.Snapshot(),
		ToolCalls:     s.Ledger.Snapshot(),
		Document:      s.Document,
		Anomalies:     s.Anomalies,
	}
	if gate, ok := s.Gates.PendingGate(); ok {
		out.Gate = &gate
	}
	if qs, ok := s.Gates.PendingQuestions(); ok {
		out.Questions = &qs
	}
	out.Metrics, out.HasMetrics = s.Metrics.Latest()
	return out
}

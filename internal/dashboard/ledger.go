package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// ToolCallRecord is one observed tool invocation. Records are never removed
// from the ledger; completion mutates status, result and CompletedAt in place.
type ToolCallRecord struct {
	ID          string          `json:"id"`
	CallID      string          `json:"call_id,omitempty"`
	Agent       string          `json:"agent"`
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args,omitempty"`
	Status      ToolCallStatus  `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

func (r ToolCallRecord) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

type CallStart struct {
	CallID string
	Agent  string
	Tool   string
	Args   json.RawMessage
	At     time.Time
}

type CallCompletion struct {
	CallID string
	Agent  string
	Tool   string
	Result json.RawMessage
	Error  string
	Failed bool
	At     time.Time
}

type callPair struct {
	agent string
	tool  string
}

// Ledger is the ordered set of tool-call records for one run. Insertion
// order is display order.
type Ledger struct {
	records []ToolCallRecord

	// running holds, per (agent, tool), indices into records of calls still
	// running, oldest first.
	running map[callPair][]int
	byCall  map[string]int
	lastSeq int64
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		running: make(map[callPair][]int),
		byCall:  make(map[string]int),
		now:     time.Now,
	}
}

// OnStart appends a new running record and returns its id. It never updates
// an existing record, even when the same pair is already running.
func (l *Ledger) OnStart(in CallStart) string {
	at := in.At
	if at.IsZero() {
		at = l.now().UTC()
	}
	seq := at.UnixNano()
	if seq <= l.lastSeq {
		seq = l.lastSeq + 1
	}
	l.lastSeq = seq

	agent := strings.TrimSpace(in.Agent)
	tool := strings.TrimSpace(in.Tool)
	rec := ToolCallRecord{
		ID:        fmt.Sprintf("%s-%s-%d", agent, tool, seq),
		CallID:    strings.TrimSpace(in.CallID),
		Agent:     agent,
		Tool:      tool,
		Args:      in.Args,
		Status:    ToolCallRunning,
		StartedAt: at,
	}
	idx := len(l.records)
	l.records = append(l.records, rec)

	key := callPair{agent: agent, tool: tool}
	l.running[key] = append(l.running[key], idx)
	if rec.CallID != "" {
		l.byCall[rec.CallID] = idx
	}
	return rec.ID
}

// OnComplete resolves one running record and reports whether a match was
// found. A completion carrying a call id resolves the record started with
// that id; otherwise, or when that id is unknown, the most recently started
// running record for the same (agent, tool) pair is resolved.
func (l *Ledger) OnComplete(in CallCompletion) bool {
	key := callPair{agent: strings.TrimSpace(in.Agent), tool: strings.TrimSpace(in.Tool)}
	callID := strings.TrimSpace(in.CallID)

	idx := -1
	if callID != "" {
		if i, ok := l.byCall[callID]; ok {
			idx = i
			key = callPair{agent: l.records[i].Agent, tool: l.records[i].Tool}
		}
	}
	if idx < 0 {
		idx = l.latestRunning(key, callID != "")
	}
	if idx < 0 {
		return false
	}

	at := in.At
	if at.IsZero() {
		at = l.now().UTC()
	}
	rec := &l.records[idx]
	rec.Status = ToolCallCompleted
	if in.Failed {
		rec.Status = ToolCallFailed
	}
	rec.Result = in.Result
	rec.Error = strings.TrimSpace(in.Error)
	rec.CompletedAt = at

	l.dropRunning(key, idx)
	if rec.CallID != "" {
		delete(l.byCall, rec.CallID)
	}
	return true
}

// latestRunning walks the running subset of a pair newest first. With
// uncorrelatedOnly set, records that were started with a call id are skipped.
func (l *Ledger) latestRunning(key callPair, uncorrelatedOnly bool) int {
	stack := l.running[key]
	for i := len(stack) - 1; i >= 0; i-- {
		idx := stack[i]
		if uncorrelatedOnly && l.records[idx].CallID != "" {
			continue
		}
		return idx
	}
	return -1
}

func (l *Ledger) dropRunning(key callPair, idx int) {
	stack := l.running[key]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != idx {
			continue
		}
		stack = append(stack[:i], stack[i+1:]...)
		break
	}
	if len(stack) == 0 {
		delete(l.running, key)
		return
	}
	l.running[key] = stack
}

// Snapshot returns a copy of the records in insertion order.
func (l *Ledger) Snapshot() []ToolCallRecord {
	out := make([]ToolCallRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Len() int {
	return len(l.records)
}

type LedgerCounts struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (l *Ledger) Counts() LedgerCounts {
	var c LedgerCounts
	for _, rec := range l.records {
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

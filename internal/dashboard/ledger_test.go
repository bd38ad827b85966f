package dashboard

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return l
}

func TestLedgerStartNeverCoalesces(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		ids[l.OnStart(CallStart{Agent: "A", Tool: "T"})] = true
	}
	l.OnStart(CallStart{Agent: "B", Tool: "T"})
	if l.Len() != 6 {
		t.Fatalf("expected 6 records, got %d", l.Len())
	}
	if len(ids) != 5 {
		t.Fatalf("expected distinct ids per start, got %v", ids)
	}
	for _, rec := range l.Snapshot() {
		if rec.Status != ToolCallRunning {
			t.Fatalf("expected running record, got %+v", rec)
		}
	}
}

func TestLedgerIDsStayUniqueForSameTimestamp(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := l.OnStart(CallStart{Agent: "A", Tool: "T", At: at})
	b := l.OnStart(CallStart{Agent: "A", Tool: "T", At: at})
	if a == b {
		t.Fatalf("expected distinct ids, both were %s", a)
	}
	recs := l.Snapshot()
	if !recs[0].StartedAt.Equal(at) || !recs[1].StartedAt.Equal(at) {
		t.Fatalf("start timestamps must be kept as given: %v %v", recs[0].StartedAt, recs[1].StartedAt)
	}
}

func TestLedgerCompletesMostRecentRunningMatch(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	first := l.OnStart(CallStart{Agent: "A", Tool: "T", Args: json.RawMessage(`{"n":1}`)})
	other := l.OnStart(CallStart{Agent: "A", Tool: "U"})
	second := l.OnStart(CallStart{Agent: "A", Tool: "T", Args: json.RawMessage(`{"n":2}`)})

	if !l.OnComplete(CallCompletion{Agent: "A", Tool: "T", Result: json.RawMessage(`"r2"`)}) {
		t.Fatalf("expected first completion to match")
	}
	byID := recordsByID(l.Snapshot())
	if byID[second].Status != ToolCallCompleted || string(byID[second].Result) != `"r2"` {
		t.Fatalf("expected most recent start to complete, got %+v", byID[second])
	}
	if byID[first].Status != ToolCallRunning || byID[other].Status != ToolCallRunning {
		t.Fatalf("expected other records untouched: first=%+v other=%+v", byID[first], byID[other])
	}
	if byID[second].CompletedAt.IsZero() || byID[second].Duration() <= 0 {
		t.Fatalf("expected completion timestamp, got %+v", byID[second])
	}

	if !l.OnComplete(CallCompletion{Agent: "A", Tool: "T", Result: json.RawMessage(`"r1"`)}) {
		t.Fatalf("expected second completion to match the older call")
	}
	byID = recordsByID(l.Snapshot())
	if byID[first].Status != ToolCallCompleted || string(byID[first].Result) != `"r1"` {
		t.Fatalf("expected older call to complete, got %+v", byID[first])
	}
}

func TestLedgerDuplicateCompletionIsNoop(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	l.OnStart(CallStart{Agent: "A", Tool: "T"})
	if !l.OnComplete(CallCompletion{Agent: "A", Tool: "T", Result: json.RawMessage(`"ok"`)}) {
		t.Fatalf("expected match")
	}
	before := l.Snapshot()
	if l.OnComplete(CallCompletion{Agent: "A", Tool: "T", Result: json.RawMessage(`"dup"`)}) {
		t.Fatalf("expected duplicate completion to be a no-op")
	}
	if !reflect.DeepEqual(before, l.Snapshot()) {
		t.Fatalf("ledger changed on duplicate completion")
	}
}

func TestLedgerUnmatchedCompletion(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	if l.OnComplete(CallCompletion{Agent: "A", Tool: "T"}) {
		t.Fatalf("expected no match on empty ledger")
	}
	l.OnStart(CallStart{Agent: "A", Tool: "T"})
	before := l.Snapshot()
	if l.OnComplete(CallCompletion{Agent: "B", Tool: "T"}) {
		t.Fatalf("expected no match for a different agent")
	}
	if l.OnComplete(CallCompletion{Agent: "A", Tool: "X"}) {
		t.Fatalf("expected no match for a different tool")
	}
	if !reflect.DeepEqual(before, l.Snapshot()) {
		t.Fatalf("ledger changed on unmatched completion")
	}
}

func TestLedgerFailedCompletion(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	id := l.OnStart(CallStart{Agent: "A", Tool: "T"})
	l.OnComplete(CallCompletion{Agent: "A", Tool: "T", Error: " rate limited ", Failed: true})
	rec := recordsByID(l.Snapshot())[id]
	if rec.Status != ToolCallFailed || rec.Error != "rate limited" {
		t.Fatalf("unexpected failed record: %+v", rec)
	}
	if c := l.Counts(); c != (LedgerCounts{Failed: 1}) {
		t.Fatalf("unexpected counts: %+v", c)
	}
}

func TestLedgerCallIDExactMatch(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	c1 := l.OnStart(CallStart{CallID: "c1", Agent: "A", Tool: "T"})
	c2 := l.OnStart(CallStart{CallID: "c2", Agent: "A", Tool: "T"})

	if !l.OnComplete(CallCompletion{CallID: "c1", Agent: "A", Tool: "T", Result: json.RawMessage(`1`)}) {
		t.Fatalf("expected exact match on c1")
	}
	byID := recordsByID(l.Snapshot())
	if byID[c1].Status != ToolCallCompleted || byID[c2].Status != ToolCallRunning {
		t.Fatalf("expected c1 completed and c2 running: %+v %+v", byID[c1], byID[c2])
	}
	if l.OnComplete(CallCompletion{CallID: "c1", Agent: "A", Tool: "T"}) {
		t.Fatalf("expected repeat completion of c1 to be a no-op")
	}
}

func TestLedgerUnknownCallIDFallsBackToUncorrelatedCalls(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	plain := l.OnStart(CallStart{Agent: "A", Tool: "T"})
	tagged := l.OnStart(CallStart{CallID: "c9", Agent: "A", Tool: "T"})

	if !l.OnComplete(CallCompletion{CallID: "zz", Agent: "A", Tool: "T"}) {
		t.Fatalf("expected fallback match")
	}
	byID := recordsByID(l.Snapshot())
	if byID[plain].Status != ToolCallCompleted {
		t.Fatalf("expected uncorrelated record to complete, got %+v", byID[plain])
	}
	if byID[tagged].Status != ToolCallRunning {
		t.Fatalf("expected record with its own call id untouched, got %+v", byID[tagged])
	}

	if !l.OnComplete(CallCompletion{Agent: "A", Tool: "T"}) {
		t.Fatalf("expected completion without call id to match remaining running call")
	}
	if recordsByID(l.Snapshot())[tagged].Status != ToolCallCompleted {
		t.Fatalf("expected tagged record completed by heuristic")
	}
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	l := testLedger(t)
	l.OnStart(CallStart{Agent: "A", Tool: "T"})
	snap := l.Snapshot()
	snap[0].Status = ToolCallFailed
	if l.Snapshot()[0].Status != ToolCallRunning {
		t.Fatalf("mutating a snapshot must not change the ledger")
	}
}

func recordsByID(recs []ToolCallRecord) map[string]ToolCallRecord {
	out := make(map[string]ToolCallRecord, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec
	}
	return out
}

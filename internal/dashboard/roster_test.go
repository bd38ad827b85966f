package dashboard

import (
	"reflect"
	"testing"
	"time"
)

var ludexAgents = []AgentSpec{
	{Key: "market_analyst", Name: "Market Analyst", Role: "Validating Concept"},
	{Key: "mechanics_designer", Name: "Mechanics Designer", Role: "Designing Systems"},
	{Key: "system_designer", Name: "System Designer", Role: "Checking Tech Feasibility"},
	{Key: "producer", Name: "Producer", Role: "Estimating Scope"},
	{Key: "gdd_writer", Name: "GDD Writer", Role: "Compiling Document"},
}

func TestRosterInitializeStartsIdle(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, len(ludexAgents)} {
		r := NewRoster(ludexAgents[:n])
		if r.Len() != n {
			t.Fatalf("expected %d agents, got %d", n, r.Len())
		}
		for _, rec := range r.Snapshot() {
			if rec.Status != AgentIdle {
				t.Fatalf("expected idle agent, got %+v", rec)
			}
		}
	}
}

func TestRosterInitializeResetsStatusAndSkipsBadSpecs(t *testing.T) {
	t.Parallel()

	r := NewRoster(ludexAgents)
	r.OnUpdate("producer", "done", "scope estimated", time.Now())
	r.Initialize(append([]AgentSpec{{Key: " "}, {Key: "producer", Name: "Dup"}}, ludexAgents...))

	if r.Len() != len(ludexAgents) {
		t.Fatalf("expected %d agents, got %d", len(ludexAgents), r.Len())
	}
	rec, ok := r.Get("producer")
	if !ok || rec.Name != "Dup" || rec.Status != AgentIdle || rec.Message != "" {
		t.Fatalf("unexpected producer after re-initialize: ok=%v %+v", ok, rec)
	}
}

func TestRosterUpdateByBackendKey(t *testing.T) {
	t.Parallel()

	r := NewRoster(ludexAgents)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !r.OnUpdate("market_analyst", "done", "", at) {
		t.Fatalf("expected update to apply")
	}
	rec, _ := r.Get("market_analyst")
	if rec.Name != "Market Analyst" || rec.Status != AgentDone || !rec.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	before := r.Snapshot()
	if r.OnUpdate("unknown_agent", "done", "x", at) {
		t.Fatalf("expected unknown key to be dropped")
	}
	if r.OnUpdate("Market Analyst", "done", "", at) {
		t.Fatalf("display names must not resolve as keys")
	}
	if !reflect.DeepEqual(before, r.Snapshot()) {
		t.Fatalf("roster changed on unknown key")
	}
}

func TestRosterUpdatesAreLastWriterWins(t *testing.T) {
	t.Parallel()

	r := NewRoster(ludexAgents)
	r.OnUpdate("producer", "done", "finished", time.Now())
	r.OnUpdate("producer", "running", "", time.Now())
	rec, _ := r.Get("producer")
	if rec.Status != AgentWorking {
		t.Fatalf("expected working after regression, got %s", rec.Status)
	}
	if rec.Message != "finished" {
		t.Fatalf("expected last message kept when update has none, got %q", rec.Message)
	}
}

func TestMapAgentStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]AgentStatus{
		"done":      AgentDone,
		"Completed": AgentDone,
		"error":     AgentError,
		"failed":    AgentError,
		"started":   AgentWorking,
		"":          AgentWorking,
	}
	for in, want := range cases {
		if got := MapAgentStatus(in); got != want {
			t.Fatalf("MapAgentStatus(%q): expected %s, got %s", in, want, got)
		}
	}
}

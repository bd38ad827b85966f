package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeToolCallEvents(t *testing.T) {
	t.Parallel()

	evt, err := Decode([]byte(`{"type":"tool_call_started","agent":"A","tool":"T","args":{"x":1}}`))
	if err != nil {
		t.Fatalf("Decode started: %v", err)
	}
	started, ok := evt.(ToolCallStarted)
	if !ok {
		t.Fatalf("expected ToolCallStarted, got %T", evt)
	}
	if started.Agent != "A" || started.Tool != "T" || string(started.Args) != `{"x":1}` {
		t.Fatalf("unexpected started event: %+v", started)
	}

	evt, err = Decode([]byte(`{"type":"tool_call_completed","agent":"A","tool":"T","result":"ok"}`))
	if err != nil {
		t.Fatalf("Decode completed: %v", err)
	}
	completed := evt.(ToolCallCompleted)
	if string(completed.Result) != `"ok"` || completed.Failed() {
		t.Fatalf("unexpected completed event: %+v failed=%v", completed, completed.Failed())
	}

	evt, err = Decode([]byte(`{"type":"tool_call_completed","agent":"A","tool":"T","error":"timeout"}`))
	if err != nil {
		t.Fatalf("Decode failed completion: %v", err)
	}
	if !evt.(ToolCallCompleted).Failed() {
		t.Fatalf("expected completion with error to be failed")
	}
	if !(ToolCallCompleted{Status: "FAILED"}).Failed() {
		t.Fatalf("expected status=failed to be failed")
	}
}

func TestDecodeDefaultsAbsentFields(t *testing.T) {
	t.Parallel()

	evt, err := Decode([]byte(`{"type":"tool_call_started"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	started := evt.(ToolCallStarted)
	if started.Agent != "" || started.Tool != "" || started.Args != nil || started.TS != 0 {
		t.Fatalf("expected zero fields, got %+v", started)
	}

	evt, err = Decode([]byte(`{"type":"director_questions"}`))
	if err != nil {
		t.Fatalf("Decode questions: %v", err)
	}
	if qs := evt.(DirectorQuestions).Questions; len(qs) != 0 {
		t.Fatalf("expected no questions, got %v", qs)
	}

	evt, err = Decode([]byte(`{"type":"metrics_update"}`))
	if err != nil {
		t.Fatalf("Decode metrics: %v", err)
	}
	if m := evt.(MetricsUpdate).Metrics; m != (Metrics{}) {
		t.Fatalf("expected zero metrics, got %+v", m)
	}
}

func TestDecodeEveryInboundType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		frame string
		want  string
	}{
		{`{"type":"agent_update","agent":"producer","status":"done","data":{"k":1}}`, TypeAgentUpdate},
		{`{"type":"gate_reached","gate_name":"producer","data":{"plan":"x"}}`, TypeGateReached},
		{`{"type":"director_questions","questions":["q1","q2"]}`, TypeDirectorQuestions},
		{`{"type":"metrics_update","metrics":{"total_executions":3,"completed":2,"failed":1,"avg_latency_ms":12.5}}`, TypeMetricsUpdate},
		{`{"type":"gdd_update","markdown":"# Title"}`, TypeDocumentUpdate},
		{`{"type":"status","agent":"system","status":"started","message":"go"}`, TypeStatus},
		{`{"type":"error","message":"boom"}`, TypeError},
		{`{"type":"gate_approved","gate":"producer"}`, TypeGateApproved},
		{`{"type":"director_answer_received","status":"processing"}`, TypeDirectorAnswerReceived},
	}
	for _, tc := range cases {
		evt, err := Decode([]byte(tc.frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.frame, err)
		}
		if evt.EventType() != tc.want {
			t.Fatalf("Decode(%s): expected %s, got %s", tc.frame, tc.want, evt.EventType())
		}
	}

	evt, _ := Decode([]byte(`{"type":"metrics_update","metrics":{"total_executions":3,"completed":2,"failed":1,"avg_latency_ms":12.5}}`))
	m := evt.(MetricsUpdate).Metrics
	if m.TotalExecutions != 3 || m.Completed != 2 || m.Failed != 1 || m.AvgLatencyMS != 12.5 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	evt, _ = Decode([]byte(`{"type":"gate_approved","gate":"producer"}`))
	if ack := evt.(Ack); ack.Kind != TypeGateApproved || ack.Gate != "producer" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		frame string
		want  error
	}{
		{`not json`, ErrMalformed},
		{`{"agent":"A"}`, ErrMalformed},
		{`{"type":"  "}`, ErrMalformed},
		{`{"type":"director_questions","questions":"one"}`, ErrMalformed},
		{`{"type":"metrics_update","metrics":{"total_executions":"many"}}`, ErrMalformed},
		{`{"type":"something_new"}`, ErrUnknownType},
		{`[1,2]`, ErrMalformed},
	}
	for _, tc := range cases {
		evt, err := Decode([]byte(tc.frame))
		if !errors.Is(err, tc.want) {
			t.Fatalf("Decode(%s): expected %v, got evt=%v err=%v", tc.frame, tc.want, evt, err)
		}
	}
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	if term, failed := (RunStatus{Status: "started"}).Terminal(); term || failed {
		t.Fatalf("started must not be terminal")
	}
	if term, failed := (RunStatus{Status: "completed"}).Terminal(); !term || failed {
		t.Fatalf("completed must be terminal without failure")
	}
	if term, failed := (RunStatus{Status: "failed"}).Terminal(); !term || !failed {
		t.Fatalf("failed must be terminal with failure")
	}
}

func TestEncodeAddsDiscriminant(t *testing.T) {
	t.Parallel()

	data, err := Encode(GateReached{GateName: "producer", Data: json.RawMessage(`{"budget":10}`)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	evt, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	gate, ok := evt.(GateReached)
	if !ok || gate.GateName != "producer" || string(gate.Data) != `{"budget":10}` {
		t.Fatalf("unexpected decoded gate: %T %+v", evt, evt)
	}
}

func TestReplyMarshal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reply Reply
		want  string
	}{
		{NewDirectorAnswer("a roguelike"), `{"type":"director_answer","answer":"a roguelike"}`},
		{NewGateApprove("producer"), `{"type":"gate_approve","gate":"producer"}`},
		{NewGateReject(), `{"type":"gate_reject"}`},
	}
	for _, tc := range cases {
		data, err := tc.reply.Marshal()
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", tc.reply, err)
		}
		if string(data) != tc.want {
			t.Fatalf("Marshal(%+v): expected %s, got %s", tc.reply, tc.want, data)
		}
	}
	if _, err := (Reply{}).Marshal(); err == nil {
		t.Fatalf("expected error for empty reply type")
	}
	if _, err := (Reply{Type: "gate_maybe"}).Marshal(); err == nil {
		t.Fatalf("expected error for unsupported reply type")
	}
}

func TestDecodeReply(t *testing.T) {
	t.Parallel()

	r, err := DecodeReply([]byte(`{"type":"gate_approve","gate":"producer"}`))
	if err != nil || r.Type != TypeGateApprove || r.Gate != "producer" {
		t.Fatalf("unexpected reply: %+v err=%v", r, err)
	}
	if _, err := DecodeReply([]byte(`{"type":"hello"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

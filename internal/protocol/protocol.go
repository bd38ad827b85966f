package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound event discriminants (wire field "type").
const (
	TypeToolCallStarted   = "tool_call_started"
	TypeToolCallCompleted = "tool_call_completed"
	TypeAgentUpdate       = "agent_update"
	TypeGateReached       = "gate_reached"
	TypeDirectorQuestions = "director_questions"
	TypeMetricsUpdate     = "metrics_update"
	TypeDocumentUpdate    = "gdd_update"
	TypeStatus            = "status"
	TypeError             = "error"

	TypeDirectorAnswerReceived = "director_answer_received"
	TypeGateApproved           = "gate_approved"
	TypeGateRejected           = "gate_rejected"
)

// Outbound reply discriminants.
const (
	TypeDirectorAnswer = "director_answer"
	TypeGateApprove    = "gate_approve"
	TypeGateReject     = "gate_reject"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown event type")
)

// Event is one decoded inbound frame. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

type ToolCallStarted struct {
	Agent  string          `json:"agent"`
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

type ToolCallCompleted struct {
	Agent  string          `json:"agent"`
	Tool   string          `json:"tool"`
	Result json.RawMessage `json:"result,omitempty"`
	Status string          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	TS     int64           `json:"ts,omitempty"`
}

// Failed reports whether the completion signals a failed call.
func (e ToolCallCompleted) Failed() bool {
	if strings.TrimSpace(e.Error) != "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(e.Status)) {
	case StatusFailed, "error":
		return true
	}
	return false
}

type AgentUpdate struct {
	Agent   string          `json:"agent"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type GateReached struct {
	GateName string          `json:"gate_name"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type DirectorQuestions struct {
	Questions []string `json:"questions"`
}

// Metrics is the flat counter record carried by metrics_update and served by GET /metrics.
type Metrics struct {
	TotalExecutions   int64   `json:"total_executions"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	TotalLatencyMS    float64 `json:"total_latency_ms"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	TotalTokens       int64   `json:"total_tokens"`
	AvgTokensPerAgent float64 `json:"avg_tokens_per_agent"`
}

type MetricsUpdate struct {
	Metrics Metrics `json:"metrics"`
}

type DocumentUpdate struct {
	Markdown string `json:"markdown"`
}

type RunStatus struct {
	Agent   string `json:"agent,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the status ends the run, and whether it ended in error.
func (e RunStatus) Terminal() (terminal bool, failed bool) {
	switch strings.ToLower(strings.TrimSpace(e.Status)) {
	case StatusCompleted:
		return true, false
	case StatusFailed, "error":
		return true, true
	}
	return false, false
}

type RunError struct {
	Message string `json:"message"`
}

// Ack is a server acknowledgement of a reply. It never changes dashboard state.
type Ack struct {
	Kind   string `json:"-"`
	Status string `json:"status,omitempty"`
	Gate   string `json:"gate,omitempty"`
}

func (ToolCallStarted) EventType() string   { return TypeToolCallStarted }
func (ToolCallCompleted) EventType() string { return TypeToolCallCompleted }
func (AgentUpdate) EventType() string       { return TypeAgentUpdate }
func (GateReached) EventType() string       { return TypeGateReached }
func (DirectorQuestions) EventType() string { return TypeDirectorQuestions }
func (MetricsUpdate) EventType() string     { return TypeMetricsUpdate }
func (DocumentUpdate) EventType() string    { return TypeDocumentUpdate }
func (RunStatus) EventType() string         { return TypeStatus }
func (RunError) EventType() string          { return TypeError }
func (a Ack) EventType() string             { return a.Kind }

func (ToolCallStarted) isEvent()   {}
func (ToolCallCompleted) isEvent() {}
func (AgentUpdate) isEvent()       {}
func (GateReached) isEvent()       {}
func (DirectorQuestions) isEvent() {}
func (MetricsUpdate) isEvent()     {}
func (DocumentUpdate) isEvent()    {}
func (RunStatus) isEvent()         {}
func (RunError) isEvent()          {}
func (Ack) isEvent()               {}

// Decode parses one text frame. Absent fields keep their zero value; a frame
// whose type is missing or outside the known set is rejected.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ := strings.TrimSpace(head.Type)
	if typ == "" {
		return nil, fmt.Errorf("%w: type is required", ErrMalformed)
	}

	switch typ {
	case TypeToolCallStarted:
		return decodeAs[ToolCallStarted](typ, data)
	case TypeToolCallCompleted:
		return decodeAs[ToolCallCompleted](typ, data)
	case TypeAgentUpdate:
		return decodeAs[AgentUpdate](typ, data)
	case TypeGateReached:
		return decodeAs[GateReached](typ, data)
	case TypeDirectorQuestions:
		return decodeAs[DirectorQuestions](typ, data)
	case TypeMetricsUpdate:
		return decodeAs[MetricsUpdate](typ, data)
	case TypeDocumentUpdate:
		return decodeAs[DocumentUpdate](typ, data)
	case TypeStatus:
		return decodeAs[RunStatus](typ, data)
	case TypeError:
		return decodeAs[RunError](typ, data)
	case TypeDirectorAnswerReceived, TypeGateApproved, TypeGateRejected:
		ack, err := decodeAs[Ack](typ, data)
		if err != nil {
			return nil, err
		}
		a := ack.(Ack)
		a.Kind = typ
		return a, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

func decodeAs[T Event](typ string, data []byte) (Event, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	return out, nil
}

// Encode renders an event as a flat JSON object with its "type" discriminant.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, errors.New("event is nil")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage)
	}
	typ, err := json.Marshal(evt.EventType())
	if err != nil {
		return nil, err
	}
	obj["type"] = typ
	return json.Marshal(obj)
}

// EventTime returns the event timestamp carried on the wire, or the zero time.
func EventTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

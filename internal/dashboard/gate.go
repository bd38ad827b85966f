package dashboard

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ludexdash/internal/protocol"
)

var (
	ErrNoPendingGate      = errors.New("no gate is pending")
	ErrNoPendingQuestions = errors.New("no questions are pending")
	ErrEmptyAnswer        = errors.New("answer is empty")
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type GateRequest struct {
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

type QuestionSet struct {
	Questions  []string  `json:"questions"`
	ReceivedAt time.Time `json:"received_at"`
}

// GateController holds at most one pending gate and at most one pending
// question set. The two are independent: setting one never clears the other.
type GateController struct {
	gate      *GateRequest
	questions *QuestionSet
}

// OnGateReached sets the pending gate and reports whether an unresolved gate
// was overwritten.
func (g *GateController) OnGateReached(name string, data json.RawMessage, at time.Time) bool {
	replaced := g.gate != nil
	g.gate = &GateRequest{
		Name:       strings.TrimSpace(name),
		Data:       data,
		ReceivedAt: at,
	}
	return replaced
}

// OnQuestions sets the pending question set and reports whether an
// unanswered set was overwritten.
func (g *GateController) OnQuestions(questions []string, at time.Time) bool {
	replaced := g.questions != nil
	qs := make([]string, len(questions))
	copy(qs, questions)
	g.questions = &QuestionSet{Questions: qs, ReceivedAt: at}
	return replaced
}

func (g *GateController) PendingGate() (GateRequest, bool) {
	if g.gate == nil {
		return GateRequest{}, false
	}
	return *g.gate, true
}

func (g *GateController) PendingQuestions() (QuestionSet, bool) {
	if g.questions == nil {
		return QuestionSet{}, false
	}
	qs := *g.questions
	qs.Questions = append([]string(nil), g.questions.Questions...)
	return qs, true
}

// ResolveGate builds the reply for decision and hands it to send. The pending
// gate is cleared only when send succeeds, so a failed send can be retried.
func (g *GateController) ResolveGate(decision Decision, send func(protocol.Reply) error) error {
	if g.gate == nil {
		return ErrNoPendingGate
	}
	var reply protocol.Reply
	switch decision {
	case DecisionApprove:
		reply = protocol.NewGateApprove(g.gate.Name)
	case DecisionReject:
		reply = protocol.NewGateReject()
	default:
		return errors.New("unknown gate decision: " + string(decision))
	}
	if err := send(reply); err != nil {
		return err
	}
	g.gate = nil
	return nil
}

// Answer sends text as the reply to the pending question set. Blank answers
// are refused locally without touching state.
func (g *GateController) Answer(text string, send func(protocol.Reply) error) error {
	answer := strings.TrimSpace(text)
	if answer == "" {
		return ErrEmptyAnswer
	}
	if g.questions == nil {
		return ErrNoPendingQuestions
	}
	if err := send(protocol.NewDirectorAnswer(answer)); err != nil {
		return err
	}
	g.questions = nil
	return nil
}

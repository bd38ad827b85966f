package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reply is a message sent back to the pipeline in response to a gate or a
// clarification request.
type Reply struct {
	Type   string `json:"type"`
	Answer string `json:"answer,omitempty"`
	Gate   string `json:"gate,omitempty"`
}

func NewDirectorAnswer(answer string) Reply {
	return Reply{Type: TypeDirectorAnswer, Answer: answer}
}

func NewGateApprove(gate string) Reply {
	return Reply{Type: TypeGateApprove, Gate: gate}
}

func NewGateReject() Reply {
	return Reply{Type: TypeGateReject}
}

func (r Reply) Marshal() ([]byte, error) {
	switch strings.TrimSpace(r.Type) {
	case TypeDirectorAnswer, TypeGateApprove, TypeGateReject:
	case "":
		return nil, errors.New("reply.type is required")
	default:
		return nil, fmt.Errorf("unsupported reply type %q", r.Type)
	}
	return json.Marshal(r)
}

func DecodeReply(data []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r.Type = strings.TrimSpace(r.Type)
	switch r.Type {
	case TypeDirectorAnswer, TypeGateApprove, TypeGateReject:
		return r, nil
	case "":
		return Reply{}, fmt.Errorf("%w: type is required", ErrMalformed)
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
	}
}

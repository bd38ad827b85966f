package presence

import (
	"context"
	"time"

	"ludexdash/internal/dashboard"
	"ludexdash/internal/protocol"
)

// Store publishes live run summaries for other processes to observe. It is
// write-only: nothing in the dashboard reads a summary back.
type Store interface {
	Publish(ctx context.Context, summary Summary, ttl time.Duration) error
	Delete(ctx context.Context, runID string) error
	Close() error
}

type NoopStore struct{}

func (NoopStore) Publish(ctx context.Context, summary Summary, ttl time.Duration) error {
	return nil
}

func (NoopStore) Delete(ctx context.Context, runID string) error {
	return nil
}

func (NoopStore) Close() error {
	return nil
}

type AgentState struct {
	Key    string                `json:"key"`
	Name   string                `json:"name"`
	Status dashboard.AgentStatus `json:"status"`
}

// Summary is the compact, JSON-encodable view of a run that is published.
type Summary struct {
	RunID            string                 `json:"run_id"`
	Status           dashboard.RunStatus    `json:"status"`
	StatusMessage    string                 `json:"status_message,omitempty"`
	EndReason        string                 `json:"end_reason,omitempty"`
	StartedAt        time.Time              `json:"started_at"`
	EndedAt          *time.Time             `json:"ended_at,omitempty"`
	Agents           []AgentState           `json:"agents"`
	ToolCalls        dashboard.LedgerCounts `json:"tool_calls"`
	PendingGate      string                 `json:"pending_gate,omitempty"`
	PendingQuestions int                    `json:"pending_questions,omitempty"`
	Metrics          *protocol.Metrics      `json:"metrics,omitempty"`
	DocumentBytes    int                    `json:"document_bytes"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func Summarize(snap dashboard.Snapshot, now time.Time) Summary {
	out := Summary{
		RunID:         snap.RunID,
		Status:        snap.Status,
		StatusMessage: snap.StatusMessage,
		EndReason:     snap.EndReason,
		StartedAt:     snap.StartedAt,
		Agents:        make([]AgentState, 0, len(snap.Agents)),
		ToolCalls:     snap.Counts(),
		DocumentBytes: len(snap.Document),
		UpdatedAt:     now.UTC(),
	}
	if !snap.EndedAt.IsZero() {
		ended := snap.EndedAt
		out.EndedAt = &ended
	}
	for _, a := range snap.Agents {
		out.Agents = append(out.Agents, AgentState{Key: a.Key, Name: a.Name, Status: a.Status})
	}
	if snap.Gate != nil {
		out.PendingGate = snap.Gate.Name
	}
	if snap.Questions != nil {
		out.PendingQuestions = len(snap.Questions.Questions)
	}
	if snap.HasMetrics {
		m := snap.Metrics
		out.Metrics = &m
	}
	return out
}

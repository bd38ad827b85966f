package dashboard

import (
	"strings"
	"time"
)

type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentDone    AgentStatus = "done"
	AgentError   AgentStatus = "error"
)

// AgentSpec declares one roster entry. Key is the backend identifier carried
// by agent_update events; Name is what the dashboard shows.
type AgentSpec struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

type AgentRecord struct {
	Key       string      `json:"key"`
	Name      string      `json:"name"`
	Role      string      `json:"role,omitempty"`
	Status    AgentStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// Roster is the fixed set of agents for a run. Entries are declared once by
// Initialize and afterwards only their status fields change.
type Roster struct {
	records []AgentRecord
	index   map[string]int
}

func NewRoster(specs []AgentSpec) *Roster {
	r := &Roster{}
	r.Initialize(specs)
	return r
}

// Initialize replaces the whole roster. Every agent starts idle. Specs with an
// empty key are skipped and the first declaration of a key wins.
func (r *Roster) Initialize(specs []AgentSpec) {
	r.records = make([]AgentRecord, 0, len(specs))
	r.index = make(map[string]int, len(specs))
	for _, spec := range specs {
		key := strings.TrimSpace(spec.Key)
		if key == "" {
			continue
		}
		if _, dup := r.index[key]; dup {
			continue
		}
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			name = key
		}
		r.index[key] = len(r.records)
		r.records = append(r.records, AgentRecord{
			Key:    key,
			Name:   name,
			Role:   strings.TrimSpace(spec.Role),
			Status: AgentIdle,
		})
	}
}

// OnUpdate applies a reported status to the agent with the given backend key.
// Updates are applied unconditionally (last writer wins). It returns false,
// leaving the roster untouched, when the key is not part of the roster.
func (r *Roster) OnUpdate(key string, reported string, message string, at time.Time) bool {
	idx, ok := r.index[strings.TrimSpace(key)]
	if !ok {
		return false
	}
	rec := &r.records[idx]
	rec.Status = MapAgentStatus(reported)
	if msg := strings.TrimSpace(message); msg != "" {
		rec.Message = msg
	}
	rec.UpdatedAt = at
	return true
}

// MapAgentStatus folds a backend-reported status into the roster's status set.
// Anything that is not a completion or an error counts as progress.
func MapAgentStatus(reported string) AgentStatus {
	switch strings.ToLower(strings.TrimSpace(reported)) {
	case "done", "completed", "complete":
		return AgentDone
	case "error", "failed":
		return AgentError
	default:
		return AgentWorking
	}
}

func (r *Roster) Get(key string) (AgentRecord, bool) {
	idx, ok := r.index[strings.TrimSpace(key)]
	if !ok {
		return AgentRecord{}, false
	}
	return r.records[idx], true
}

func (r *Roster) Snapshot() []AgentRecord {
	out := make([]AgentRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Roster) Len() int {
	return len(r.records)
}

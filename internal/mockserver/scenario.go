package mockserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ludexdash/internal/protocol"
)

// Step is one scripted emission. A gate_reached step pauses the run until a
// gate decision arrives; a director_questions step pauses until an answer
// arrives.
type Step struct {
	Event protocol.Event

	// Metrics replaces Event with a metrics_update carrying the running totals.
	Metrics bool

	// LatencyMS and Tokens are charged to the metrics when Event is a tool
	// completion.
	LatencyMS float64
	Tokens    int64
}

// ScenarioFunc builds the steps for one run.
type ScenarioFunc func(concept, genre string) []Step

// DefaultScenario walks the five pipeline agents, asks the director one
// round of questions, stops at both approval gates and ends with the
// compiled design document.
func DefaultScenario(concept, genre string) []Step {
	concept = strings.TrimSpace(concept)
	if genre = strings.TrimSpace(genre); genre == "" {
		genre = defaultGenre
	}

	var steps []Step
	emit := func(evt protocol.Event) { steps = append(steps, Step{Event: evt}) }
	tool := func(agent, name string, args any, result any, latency float64, tokens int64) {
		id := uuid.NewString()
		emit(protocol.ToolCallStarted{Agent: agent, Tool: name, Args: mustJSON(args), CallID: id})
		steps = append(steps, Step{
			Event:     protocol.ToolCallCompleted{Agent: agent, Tool: name, Result: mustJSON(result), Status: protocol.StatusCompleted, CallID: id},
			LatencyMS: latency,
			Tokens:    tokens,
		})
	}
	working := func(agent, message string) {
		emit(protocol.AgentUpdate{Agent: agent, Status: "working", Message: message})
	}
	done := func(agent, summary string) {
		emit(protocol.AgentUpdate{Agent: agent, Status: "done", Message: summary, Data: mustJSON(map[string]string{"summary": summary})})
		steps = append(steps, Step{Metrics: true})
	}

	emit(protocol.RunStatus{Status: protocol.StatusStarted, Message: fmt.Sprintf("Generating design for %q (%s)", concept, genre)})
	emit(protocol.DirectorQuestions{Questions: []string{
		"Who is the primary audience?",
		"Which platforms should the first release target?",
	}})

	working("market_analyst", "Validating concept")
	tool("market_analyst", "search_market_trends", map[string]string{"genre": genre}, "Steady growth in the genre over three years", 820, 640)
	tool("market_analyst", "analyze_competitors", map[string]any{"concept": concept, "limit": 5}, []string{"Stardew Valley", "Slime Rancher"}, 1140, 910)
	done("market_analyst", "Concept is viable with a clear niche")

	emit(protocol.GateReached{GateName: "mechanics_designer", Data: mustJSON(map[string]string{
		"summary":        "Market analysis complete",
		"recommendation": "proceed",
	})})

	working("mechanics_designer", "Designing core loop")
	tool("mechanics_designer", "design_core_loop", map[string]string{"concept": concept}, "Plant, tend, harvest, expand", 1530, 1200)
	done("mechanics_designer", "Core loop and progression drafted")

	working("system_designer", "Checking technical feasibility")
	steps = append(steps,
		Step{Event: protocol.ToolCallStarted{Agent: "system_designer", Tool: "benchmark_engine", Args: mustJSON(map[string]string{"engine": "custom"})}},
		Step{Event: protocol.ToolCallCompleted{Agent: "system_designer", Tool: "benchmark_engine", Status: protocol.StatusFailed, Error: "benchmark service unavailable"}, LatencyMS: 300},
	)
	tool("system_designer", "assess_tech_stack", map[string]string{"engine": "Godot"}, map[string]any{"feasible": true, "risk": "low"}, 960, 780)
	done("system_designer", "Tech stack is feasible")

	emit(protocol.GateReached{GateName: "producer", Data: mustJSON(map[string]string{
		"summary": "System design complete",
		"engine":  "Godot",
	})})

	working("producer", "Estimating scope")
	tool("producer", "estimate_scope", map[string]int{"team_size": 4}, "14 months to 1.0", 700, 520)
	done("producer", "Scope estimated")

	working("gdd_writer", "Compiling document")
	tool("gdd_writer", "compile_gdd", map[string]string{"format": "markdown"}, "ok", 2100, 2400)
	emit(protocol.DocumentUpdate{Markdown: designDocument(concept, genre)})
	done("gdd_writer", "Design document compiled")

	emit(protocol.RunStatus{Status: protocol.StatusCompleted, Message: "Game design document ready"})
	return steps
}

func designDocument(concept, genre string) string {
	title := concept
	if title == "" {
		title = "Untitled Concept"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Genre:** %s\n\n", genre)
	b.WriteString("## Market\n\nThe genre shows steady growth. Closest competitors are *Stardew Valley* and *Slime Rancher*.\n\n")
	b.WriteString("## Core Loop\n\n1. Plant\n2. Tend\n3. Harvest\n4. Expand\n\n")
	b.WriteString("## Technology\n\n| Area | Choice |\n|---|---|\n| Engine | Godot |\n| Risk | Low |\n\n")
	b.WriteString("## Scope\n\n- Team of four\n- Fourteen months to 1.0\n")
	return b.String()
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

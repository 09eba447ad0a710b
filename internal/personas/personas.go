// Package personas builds the goal strings for Convoy's stock agent
// roles. A persona is nothing more than a goal template, an optional
// marker pair for recovering a structured deliverable, and a turn
// budget; the orchestrator never knows which persona started a
// conversation.
package personas

import (
	"fmt"
	"strings"

	"github.com/mthorsley/convoy/internal/protocol"
)

// Persona describes one stock role.
type Persona struct {
	Name     string
	MaxTurns int
	// BeginMarker/EndMarker bracket the structured deliverable in the
	// final assistant output. Empty when the persona has no structured
	// result.
	BeginMarker string
	EndMarker   string
	// BuildGoal turns the user's input into the conversation goal.
	BuildGoal func(input string) string
}

// HasDeliverable reports whether the persona expects a marker-wrapped
// structured result.
func (p Persona) HasDeliverable() bool {
	return p.BeginMarker != "" && p.EndMarker != ""
}

// ExtractDeliverable recovers the persona's structured result from a
// finished conversation history. For personas without markers it
// returns a failed extraction.
func (p Persona) ExtractDeliverable(history []protocol.Entry) protocol.Extraction {
	if !p.HasDeliverable() {
		return protocol.Extraction{Failed: true}
	}
	return protocol.Extract(history, p.BeginMarker, p.EndMarker)
}

const (
	memoryBegin  = "---BEGIN MEMORY---"
	memoryEnd    = "---END MEMORY---"
	resultsBegin = "---BEGIN RESULTS---"
	resultsEnd   = "---END RESULTS---"
)

// MemoryKeeper distills an observation into a durable instruction-file
// memory. The deliverable is the memory text itself.
func MemoryKeeper() Persona {
	return Persona{
		Name:        "memory-keeper",
		MaxTurns:    6,
		BeginMarker: memoryBegin,
		EndMarker:   memoryEnd,
		BuildGoal: func(input string) string {
			var b strings.Builder
			b.WriteString("You are a memory keeper. Distill the following observation into a single ")
			b.WriteString("concise memory suitable for appending to an instruction file. Keep only ")
			b.WriteString("what will matter in future sessions; drop transient details.\n\n")
			fmt.Fprintf(&b, "Observation:\n%s\n\n", input)
			fmt.Fprintf(&b, "When you are done, output the memory between %s and %s on their own lines, then say %s.",
				memoryBegin, memoryEnd, protocol.CompletionSentinel)
			return b.String()
		},
	}
}

// InteractiveProgramming drives a REPL-first coding session. There is
// no structured deliverable; the work product is the side effects of
// the tool calls.
func InteractiveProgramming() Persona {
	return Persona{
		Name:     "interactive-programming",
		MaxTurns: 25,
		BuildGoal: func(input string) string {
			var b strings.Builder
			b.WriteString("You are an interactive programming agent. Work incrementally: make one ")
			b.WriteString("small change at a time, evaluate it with your tools, and inspect the ")
			b.WriteString("result before moving on. Prefer many small verified steps over large ")
			b.WriteString("unverified edits.\n\n")
			fmt.Fprintf(&b, "Task:\n%s\n\n", input)
			fmt.Fprintf(&b, "Say %s only when the task is genuinely finished and verified.", protocol.CompletionSentinel)
			return b.String()
		},
	}
}

// InstructionSelector picks the instruction files relevant to a query.
// The deliverable is the selected file list, one per line.
func InstructionSelector(available []string) Persona {
	return Persona{
		Name:        "instruction-selector",
		MaxTurns:    4,
		BeginMarker: resultsBegin,
		EndMarker:   resultsEnd,
		BuildGoal: func(input string) string {
			var b strings.Builder
			b.WriteString("You are an instruction selector. From the list below, pick the files ")
			b.WriteString("relevant to the query. Select nothing that is not clearly relevant; an ")
			b.WriteString("empty selection is a valid answer.\n\n")
			b.WriteString("Available instruction files:\n")
			for _, f := range available {
				fmt.Fprintf(&b, "- %s\n", f)
			}
			fmt.Fprintf(&b, "\nQuery:\n%s\n\n", input)
			fmt.Fprintf(&b, "Output the selected file names, one per line, between %s and %s, then say %s.",
				resultsBegin, resultsEnd, protocol.CompletionSentinel)
			return b.String()
		},
	}
}

// ByName resolves a persona by its CLI name. The selector persona needs
// the available file list, so it is resolved with an empty one here;
// callers wanting selection should construct it directly.
func ByName(name string) (Persona, error) {
	switch name {
	case "memory-keeper":
		return MemoryKeeper(), nil
	case "interactive-programming":
		return InteractiveProgramming(), nil
	case "instruction-selector":
		return InstructionSelector(nil), nil
	default:
		return Persona{}, fmt.Errorf("unknown persona: %q", name)
	}
}

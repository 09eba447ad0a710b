// Package completion decides, after each turn, whether a conversation
// continues or stops. The decision combines an authoritative sentinel
// token with loose natural-language heuristics; the heuristics are a
// deliberate fallback for models that omit the sentinel, and are a
// known source of false positives. Callers that control the prompt
// should always teach the model the sentinel.
package completion

import (
	"regexp"
	"strings"

	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
)

// Signals classifies model text. It is pluggable so the regex
// heuristics can be swapped or dropped for models that reliably emit
// the sentinel.
type Signals interface {
	// Complete reports whether text signals the task is finished.
	Complete(text string) bool
	// Continues reports whether text signals intent to keep going.
	Continues(text string) bool
}

// Decide evaluates the outcome of one completed turn, in fixed
// precedence order:
//
//  1. turn > maxTurns           → max_turns_reached
//  2. tool calls present        → tools_executing (continue)
//  3. completion signal in text → task_complete
//  4. continuation signal       → continuing
//  5. neither                   → agent_finished (a natural stop)
//
// The max-turns boundary is exclusive: a conversation may run turns
// 1..maxTurns, and only turn maxTurns+1 is refused. Cancellation is
// not decided here — the turn loop checks it at turn boundaries.
func Decide(turn, maxTurns int, text string, hasToolCalls bool, sig Signals) registry.Status {
	if turn > maxTurns {
		return registry.StatusMaxTurns
	}
	if hasToolCalls {
		return registry.StatusToolsExecuting
	}
	if sig.Complete(text) {
		return registry.StatusTaskComplete
	}
	if sig.Continues(text) {
		return registry.StatusContinuing
	}
	return registry.StatusAgentFinished
}

// HeuristicSignals is the default Signals implementation: sentinel
// match first, then phrase heuristics with a simple negation guard.
type HeuristicSignals struct{}

var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btask\b.{0,40}?\b(complete|completed|done|finished)\b`),
	regexp.MustCompile(`(?i)\bgoal\b.{0,40}?\b(achieved|reached|accomplished)\b`),
	regexp.MustCompile(`(?i)\bsuccessfully (completed|finished)\b`),
}

var continuationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bnext (step|action)\b`),
	regexp.MustCompile(`(?i)\bI('ll| will)\b`),
	regexp.MustCompile(`(?i)\blet me\b`),
	regexp.MustCompile(`(?i)\bcontinu`),
	regexp.MustCompile(`(?i)\bproceed`),
}

// negatedBefore reports whether the text immediately preceding index
// ends in a negation word ("not", "isn't", "hasn't", ...).
func negatedBefore(text string, idx int) bool {
	prefix := strings.ToLower(strings.TrimRight(text[:idx], " \t"))
	for _, neg := range []string{"not", "isn't", "isnt", "hasn't", "hasnt", "never"} {
		if strings.HasSuffix(prefix, neg) {
			return true
		}
	}
	return false
}

// matchesUnnegated reports whether any pattern matches text at a
// position not immediately preceded by a negation. Both the match
// start and the keyword capture group are guarded, so "not complete"
// and "task is not complete" are excluded alike.
func matchesUnnegated(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		for _, loc := range p.FindAllStringSubmatchIndex(text, -1) {
			if negatedBefore(text, loc[0]) {
				continue
			}
			if len(loc) >= 4 && loc[2] >= 0 && negatedBefore(text, loc[2]) {
				continue
			}
			return true
		}
	}
	return false
}

// Complete implements Signals. The sentinel is authoritative; phrases
// are the fallback.
func (HeuristicSignals) Complete(text string) bool {
	if containsFold(text, protocol.CompletionSentinel) {
		return true
	}
	return matchesUnnegated(completionPatterns, text)
}

// Continues implements Signals.
func (HeuristicSignals) Continues(text string) bool {
	if containsFold(text, protocol.ContinuationSentinel) {
		return true
	}
	return matchesUnnegated(continuationPatterns, text)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

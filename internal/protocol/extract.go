package protocol

import (
	"regexp"
	"strings"
)

// Extraction is the outcome of scanning history for a marker pair.
// On success Content holds the trimmed text between the markers. On
// failure, Failed is true and Debug explains why without re-dumping
// the full history.
type Extraction struct {
	Content string
	Failed  bool
	Debug   ExtractionDebug
}

// ExtractionDebug distinguishes "agent never tried" from "agent tried
// but the marker pair was malformed".
type ExtractionDebug struct {
	TotalEntries     int
	AssistantEntries int
	HasBeginMarker   bool
	HasEndMarker     bool
}

// Extract scans history from most recent to oldest for the first
// assistant entry containing endMarker, then applies a non-greedy
// "beginMarker ... endMarker" pattern to that entry's text and returns
// the trimmed capture. Marker strings are treated as literal text, so
// punctuation-heavy markers like "---BEGIN RESULTS---" are safe.
func Extract(history []Entry, beginMarker, endMarker string) Extraction {
	debug := ExtractionDebug{TotalEntries: len(history)}

	var assistant []Entry
	for _, e := range history {
		if e.Kind == EntryAssistant {
			assistant = append(assistant, e)
		}
	}
	debug.AssistantEntries = len(assistant)

	for _, e := range assistant {
		if strings.Contains(e.Text, beginMarker) {
			debug.HasBeginMarker = true
		}
		if strings.Contains(e.Text, endMarker) {
			debug.HasEndMarker = true
		}
	}

	pattern := regexp.MustCompile(`(?s)` + regexp.QuoteMeta(beginMarker) + `(.*?)` + regexp.QuoteMeta(endMarker))

	for i := len(assistant) - 1; i >= 0; i-- {
		if !strings.Contains(assistant[i].Text, endMarker) {
			continue
		}
		if m := pattern.FindStringSubmatch(assistant[i].Text); m != nil {
			return Extraction{Content: strings.TrimSpace(m[1])}
		}
		// End marker present but the pair didn't match (begin missing
		// or out of order). Report failure with what we know.
		break
	}

	return Extraction{Failed: true, Debug: debug}
}

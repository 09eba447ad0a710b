// Package convlog is the conversation transcript sink: one append-only
// text channel shared by every conversation, each line prefixed with
// the conversation ID that produced it. It is distinct from slog — slog
// carries operational events, the sink carries the human-readable
// running commentary the monitor tails.
package convlog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// maxRecent bounds the in-memory tail kept for late subscribers.
const maxRecent = 500

// Sink is an append-only, ID-prefixed log channel. All methods are
// safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	recent []string
	subs   map[chan string]struct{}
}

// NewSink creates a sink writing to out. A nil out keeps lines only in
// the in-memory tail, which is what tests and the embedded monitor use.
func NewSink(out io.Writer) *Sink {
	return &Sink{
		out:  out,
		subs: make(map[chan string]struct{}),
	}
}

var (
	defaultOnce sync.Once
	defaultSink *Sink
)

// Default returns the process-wide sink, lazily created on first use.
func Default() *Sink {
	defaultOnce.Do(func() {
		defaultSink = NewSink(nil)
	})
	return defaultSink
}

// Log splits message on newlines and appends one prefixed line per
// physical line, so the conversation ID survives embedded newlines and
// very long messages. The prefix format is "[HH:MM:SS][Conv-N]".
func (s *Sink) Log(convID int, message string) {
	stamp := time.Now().Format("15:04:05")
	prefix := fmt.Sprintf("[%s][Conv-%d] ", stamp, convID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range strings.Split(message, "\n") {
		s.append(prefix + line)
	}
}

// append stores one finished line, writes it out, and fans it out to
// subscribers. Caller holds s.mu.
func (s *Sink) append(line string) {
	s.recent = append(s.recent, line)
	if len(s.recent) > maxRecent {
		s.recent = s.recent[len(s.recent)-maxRecent:]
	}

	if s.out != nil {
		fmt.Fprintln(s.out, line)
	}

	for ch := range s.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber: drop the line rather than stall the
			// turn loop.
		}
	}
}

// Clear resets the in-memory tail. Idempotent; the underlying writer
// is append-only and untouched.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = nil
}

// Recent returns a copy of the buffered tail, oldest first.
func (s *Sink) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recent))
	copy(out, s.recent)
	return out
}

// Subscribe registers a channel that receives every future line. The
// returned cancel func removes the subscription and closes the channel.
func (s *Sink) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

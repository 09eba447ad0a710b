package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mthorsley/convoy/internal/convlog"
	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
)

// Archiver persists finished conversations. Implemented by the store
// package; nil disables archiving.
type Archiver interface {
	SaveConversation(ctx context.Context, conv registry.Conversation, history []protocol.Entry, reason registry.Status) error
}

// Spec describes a conversation to start.
type Spec struct {
	Goal     string
	Caller   string
	Model    string
	MaxTurns int
	// Progress, when set, receives per-turn status strings for this
	// conversation only.
	Progress func(status string)
}

// Monitor is the dispatch facade: it registers conversations, plumbs
// cancellation tokens, runs the turn loop as an independent goroutine
// per conversation, and keeps the transcript log and registry in step
// for the monitoring UI. It is the only creation path personas should
// use.
type Monitor struct {
	runner  *Runner
	reg     *registry.Registry
	sink    *convlog.Sink
	logger  *slog.Logger
	archive Archiver
	refresh func()
}

// NewMonitor wires a monitor around a runner. The runner's Registry
// and Sink are shared with the monitor; refresh (may be nil) fires
// after every registry mutation a UI should observe.
func NewMonitor(runner *Runner, logger *slog.Logger, archive Archiver, refresh func()) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	runner.Refresh = refresh
	return &Monitor{
		runner:  runner,
		reg:     runner.Registry,
		sink:    runner.Sink,
		logger:  logger,
		archive: archive,
		refresh: refresh,
	}
}

// Start registers a conversation, logs the start, and launches its
// turn loop as an independent goroutine. It returns the conversation
// ID and a channel that delivers the single terminal Result.
func (m *Monitor) Start(ctx context.Context, spec Spec) (int, <-chan Result) {
	id := m.reg.Register(registry.Conversation{
		Goal:     spec.Goal,
		Caller:   spec.Caller,
		Model:    spec.Model,
		MaxTurns: spec.MaxTurns,
		Cancel:   registry.NewCancelToken(),
	})

	m.LogAndUpdate(id, registry.Update{}, fmt.Sprintf("Starting conversation for %s: %s", orUnknown(spec.Caller), spec.Goal))

	done := make(chan Result, 1)
	go func() {
		runner := *m.runner
		runner.Progress = spec.Progress
		result := runner.Run(ctx, id)

		if m.archive != nil {
			if conv := m.reg.Get(id); conv != nil {
				if err := m.archive.SaveConversation(context.WithoutCancel(ctx), *conv, result.History, result.Reason); err != nil {
					m.logger.Error("archive conversation", "conversation", id, "error", err)
				}
			}
		}

		m.sink.Log(id, "Finished: "+string(result.Reason))
		if m.refresh != nil {
			m.refresh()
		}
		done <- result
	}()

	return id, done
}

// LogAndUpdate atomically logs a transcript message and applies a
// registry update, then fires the refresh hook. Use this instead of
// separate sink/registry calls so the UI never observes a log line
// without the corresponding state.
func (m *Monitor) LogAndUpdate(id int, u registry.Update, message string) {
	if message != "" {
		m.sink.Log(id, message)
	}
	m.reg.Apply(id, u)
	if m.refresh != nil {
		m.refresh()
	}
}

// Cancel signals the conversation's cancellation token (if present)
// and marks the registry entry cancelled. Cancellation is cooperative:
// an in-flight transport call is never interrupted; the loop observes
// the flag at the next turn boundary.
func (m *Monitor) Cancel(id int) {
	if conv := m.reg.Get(id); conv != nil && conv.Cancel != nil {
		conv.Cancel.Signal()
	}
	m.reg.MarkCancelled(id)
	m.sink.Log(id, "Cancellation requested")
	if m.refresh != nil {
		m.refresh()
	}
}

// Registry exposes the underlying registry for read-only UI use.
func (m *Monitor) Registry() *registry.Registry {
	return m.reg
}

// Sink exposes the shared transcript sink for UI tailing.
func (m *Monitor) Sink() *convlog.Sink {
	return m.sink
}

func orUnknown(caller string) string {
	if caller == "" {
		return "Unknown"
	}
	return caller
}

// Package registry tracks live conversations. It is the single shared
// record of what the orchestrator is running: status, turn progress,
// and cancellation state for every conversation, keyed by a monotonic
// integer ID. The registry is purely in-memory — durable history lives
// in the store package.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusStarted        Status = "started"
	StatusWorking        Status = "working"
	StatusToolsExecuting Status = "tools_executing"
	StatusContinuing     Status = "continuing"
	StatusTaskComplete   Status = "task_complete"
	StatusAgentFinished  Status = "agent_finished"
	StatusMaxTurns       Status = "max_turns_reached"
	StatusError          Status = "error"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether a conversation in this status will run no
// further turns.
func (s Status) Terminal() bool {
	switch s {
	case StatusTaskComplete, StatusAgentFinished, StatusMaxTurns, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Conversation is one tracked run of the turn loop toward a single goal.
// The Goal never changes after registration; it is re-injected into
// every turn's message list rather than stored in history.
type Conversation struct {
	ID          int
	Goal        string
	Caller      string
	Model       string
	MaxTurns    int
	Status      Status
	CurrentTurn int
	StartedAt   time.Time
	UpdatedAt   time.Time
	ErrorMsg    string
	Cancelled   bool

	// Cancel is owned exclusively by this conversation. It may be nil
	// for conversations that were registered without a token.
	Cancel *CancelToken
}

// Update is a partial conversation update. Nil fields are left
// untouched, matching the merge semantics callers expect when status
// updates race with external cancellation.
type Update struct {
	Status      *Status
	CurrentTurn *int
	ErrorMsg    *string
}

// Registry is a thread-safe store of conversation records. The zero
// value is not usable; call New.
type Registry struct {
	mu     sync.Mutex
	nextID int
	convs  map[int]*Conversation
}

// New creates an empty registry. IDs start at 1.
func New() *Registry {
	return &Registry{
		nextID: 1,
		convs:  make(map[int]*Conversation),
	}
}

// Register allocates the next ID, fills in defaults (status started,
// turn 0, caller "Unknown"), stores the record, and returns the ID.
// Safe for concurrent use.
func (r *Registry) Register(conv Conversation) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv.ID = r.nextID
	r.nextID++

	if conv.Caller == "" {
		conv.Caller = "Unknown"
	}
	conv.Status = StatusStarted
	conv.CurrentTurn = 0
	conv.Cancelled = false

	now := time.Now()
	conv.StartedAt = now
	conv.UpdatedAt = now

	r.convs[conv.ID] = &conv
	return conv.ID
}

// Apply merges a partial update into the stored record. Unknown IDs
// are silently ignored: a turn-loop status update may race with an
// external cancellation that already observed the conversation gone.
func (r *Registry) Apply(id int, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return
	}

	if u.Status != nil {
		conv.Status = *u.Status
	}
	if u.CurrentTurn != nil {
		conv.CurrentTurn = *u.CurrentTurn
	}
	if u.ErrorMsg != nil {
		conv.ErrorMsg = *u.ErrorMsg
	}
	conv.UpdatedAt = time.Now()
}

// MarkCancelled flags the conversation cancelled and moves it to the
// cancelled status. It does not require a live cancel token; the turn
// loop also checks the Cancelled flag at turn boundaries.
func (r *Registry) MarkCancelled(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return
	}
	conv.Cancelled = true
	conv.Status = StatusCancelled
	conv.UpdatedAt = time.Now()
}

// Get returns a copy of the conversation record, or nil if the ID is
// unknown. Returning a copy keeps callers from mutating shared state
// behind the registry's back; the Cancel token pointer stays shared so
// external cancellation reaches the running loop.
func (r *Registry) Get(id int) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[id]
	if !ok {
		return nil
	}
	c := *conv
	return &c
}

// GetAll returns copies of every conversation, ordered by ID.
func (r *Registry) GetAll() []*Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conversation, 0, len(r.convs))
	for _, conv := range r.convs {
		c := *conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

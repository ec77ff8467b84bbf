package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soundsense/soundsense/bus"
	"github.com/soundsense/soundsense/internal/types"
)

// historyCapacity bounds the transition history; oldest entries are dropped.
const historyCapacity = 20

// Persister receives every accepted state for session-resume persistence.
// Persist failures are logged and otherwise ignored.
type Persister interface {
	SaveAppState(s State) error
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	Forced    bool
}

// Machine validates and applies lifecycle transitions.
type Machine struct {
	mu       sync.Mutex
	current  State
	previous State
	data     any
	history  []HistoryEntry

	bus     *bus.Bus
	persist Persister
	now     func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithPersister sets the state persistence hook.
func WithPersister(p Persister) Option {
	return func(m *Machine) { m.persist = p }
}

// WithNow overrides the history timestamp source.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a machine in the Initializing state.
func NewMachine(b *bus.Bus, opts ...Option) *Machine {
	m := &Machine{
		current: Initializing,
		bus:     b,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transition applies the edge current→to if the table allows it.
// On rejection the state is unchanged, state-transition-invalid is published
// and false is returned. On success the history is appended, state-changed
// is published, the new state is persisted and true is returned.
func (m *Machine) Transition(to State, data any, reason string) bool {
	m.mu.Lock()
	from := m.current
	if !to.Valid() || !from.CanTransition(to) {
		m.mu.Unlock()
		slog.Warn("transition rejected", "from", from, "to", to, "reason", reason)
		m.bus.Publish(types.EventStateInvalid, types.StateChange{
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
		})
		return false
	}
	m.apply(to, data, reason, false)
	m.mu.Unlock()

	m.announce(types.EventStateChanged, from, to, data, reason)
	return true
}

// ForceState applies the transition without table validation. It exists for
// recovery paths; the history entry is flagged as forced and both
// state-forced and state-changed are published.
func (m *Machine) ForceState(to State, data any, reason string) {
	m.mu.Lock()
	from := m.current
	m.apply(to, data, reason, true)
	m.mu.Unlock()

	slog.Warn("state forced", "from", from, "to", to, "reason", reason)
	m.announce(types.EventStateForced, from, to, data, reason)
	m.announce(types.EventStateChanged, from, to, data, reason)
}

// apply mutates state and appends history. Caller holds the lock.
func (m *Machine) apply(to State, data any, reason string, forced bool) {
	m.previous = m.current
	m.current = to
	m.data = data

	m.history = append(m.history, HistoryEntry{
		From:      m.previous,
		To:        to,
		Timestamp: m.now(),
		Reason:    reason,
		Forced:    forced,
	})
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
}

func (m *Machine) announce(event string, from, to State, data any, reason string) {
	m.bus.Publish(event, types.StateChange{
		From:   from.String(),
		To:     to.String(),
		Data:   data,
		Reason: reason,
	})
	if event == types.EventStateChanged && m.persist != nil {
		if err := m.persist.SaveAppState(to); err != nil {
			slog.Error("persist app state", "state", to, "error", err)
		}
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state before the last applied transition.
func (m *Machine) Previous() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// Data returns the data attached to the last applied transition.
func (m *Machine) Data() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// History returns a copy of the bounded transition history, oldest first.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

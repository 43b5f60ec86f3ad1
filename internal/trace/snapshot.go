package trace

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Entry is one visited point of a Snapshot.
type Entry struct {
	Stack CallStack
	State RunState
}

// Snapshot is an immutable copy of a Tracer's states at one moment. It is
// safe to share between goroutines. A nil *Snapshot is empty.
type Snapshot struct {
	log []entry

	once  sync.Once
	index map[string]int
}

// EmptySnapshot returns a Snapshot with no visited points.
func EmptySnapshot() *Snapshot {
	return &Snapshot{}
}

// NewSnapshot builds a Snapshot from entries. Later entries for the same
// stack replace earlier ones.
func NewSnapshot(entries ...Entry) *Snapshot {
	log := make([]entry, len(entries))
	for i, e := range entries {
		log[i] = entry{stack: e.Stack, state: e.State}
	}
	return &Snapshot{log: log}
}

func (s *Snapshot) build() {
	s.once.Do(func() {
		s.index = make(map[string]int, len(s.log))
		for i, e := range s.log {
			s.index[e.stack.key] = i
		}
	})
}

// Status returns the state of cs, NotRun if it was not visited.
func (s *Snapshot) Status(cs CallStack) RunState {
	if s == nil {
		return NotRun
	}
	s.build()
	if i, ok := s.index[cs.key]; ok {
		return s.log[i].state
	}
	return NotRun
}

// Len returns the number of visited points.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	s.build()
	return len(s.index)
}

// Entries returns the latest state of every visited point, ordered by
// CallStack.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	s.build()
	out := make([]Entry, 0, len(s.index))
	for _, i := range s.index {
		out = append(out, Entry{Stack: s.log[i].stack, State: s.log[i].state})
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Stack.Compare(b.Stack) })
	return out
}

// Equal reports whether both snapshots hold the same states.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, e := range s.Entries() {
		if other.Status(e.Stack) != e.State {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the snapshot as an object from call-stack key to
// state name.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	m := make(map[string]RunState, s.Len())
	for _, e := range s.Entries() {
		m[e.Stack.Key()] = e.State
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var m map[string]RunState
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("trace: decode snapshot: %w", err)
	}
	log := make([]entry, 0, len(m))
	index := make(map[string]int, len(m))
	for key, state := range m {
		cs, err := ParseCallStack(key)
		if err != nil {
			return err
		}
		index[cs.key] = len(log)
		log = append(log, entry{stack: cs, state: state})
	}
	s.once.Do(func() {})
	s.log = log
	s.index = index
	return nil
}

package trace

import "fmt"

// TransitionError reports an attempt to move a point backwards or to
// record the same point twice.
type TransitionError struct {
	Stack CallStack
	From  RunState
	To    RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trace: invalid transition %s -> %s at %s", e.From, e.To, e.Stack)
}

type entry struct {
	stack CallStack
	state RunState
}

// Tracer holds the run states of one pass. It is written by a single
// goroutine; other goroutines only ever see Snapshots.
//
// Every transition is appended to a log. A Snapshot is a capacity-capped
// prefix of that log, so taking one is O(1) and later appends never touch
// memory a Snapshot can read.
type Tracer struct {
	log   []entry
	index map[string]int // key -> position of the latest entry
}

// NewTracer returns an empty Tracer.
func NewTracer() *Tracer {
	return &Tracer{index: make(map[string]int)}
}

// SetStatus records a forward transition for cs.
func (t *Tracer) SetStatus(cs CallStack, state RunState) error {
	cur := t.Status(cs)
	if !cur.CanTransition(state) {
		return &TransitionError{Stack: cs, From: cur, To: state}
	}
	t.log = append(t.log, entry{stack: cs, state: state})
	t.index[cs.key] = len(t.log) - 1
	return nil
}

// Status returns the state of cs, NotRun if it has not been visited.
func (t *Tracer) Status(cs CallStack) RunState {
	if i, ok := t.index[cs.key]; ok {
		return t.log[i].state
	}
	return NotRun
}

// Len returns the number of visited points.
func (t *Tracer) Len() int {
	return len(t.index)
}

// Snapshot returns an immutable view of the current states.
func (t *Tracer) Snapshot() *Snapshot {
	n := len(t.log)
	return &Snapshot{log: t.log[:n:n]}
}

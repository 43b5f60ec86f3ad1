package trace

import "fmt"

// RunState is the status of a traced point within one run pass.
type RunState uint8

const (
	NotRun RunState = iota
	Running
	Successful
	PredicateTrue
	PredicateFalse
	Failed
)

// PredicateSuccessful returns the state of a branch condition that
// evaluated to value.
func PredicateSuccessful(value bool) RunState {
	if value {
		return PredicateTrue
	}
	return PredicateFalse
}

// Predicate returns the branch value of a PredicateSuccessful state.
func (s RunState) Predicate() (value, ok bool) {
	switch s {
	case PredicateTrue:
		return true, true
	case PredicateFalse:
		return false, true
	}
	return false, false
}

// IsFinished reports whether s ends the Running phase of a point.
func (s RunState) IsFinished() bool {
	switch s {
	case Successful, PredicateTrue, PredicateFalse, Failed:
		return true
	}
	return false
}

// CanTransition reports whether a point in state s may move to next.
// Points only move forward: NotRun, then Running, then a finished state.
// A call whose arguments failed goes straight from NotRun to Failed, and a
// branch whose block failed goes from its predicate state to Failed.
func (s RunState) CanTransition(next RunState) bool {
	switch s {
	case NotRun:
		return next == Running || next == Failed
	case Running:
		return next.IsFinished()
	case PredicateTrue, PredicateFalse:
		return next == Failed
	}
	return false
}

var stateNames = [...]string{
	NotRun:         "NotRun",
	Running:        "Running",
	Successful:     "Successful",
	PredicateTrue:  "PredicateSuccessful(true)",
	PredicateFalse: "PredicateSuccessful(false)",
	Failed:         "Failed",
}

func (s RunState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("RunState(%d)", uint8(s))
}

// ParseRunState parses the String form of a RunState.
func ParseRunState(s string) (RunState, error) {
	for i, name := range stateNames {
		if name == s {
			return RunState(i), nil
		}
	}
	return NotRun, fmt.Errorf("trace: unknown run state %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s RunState) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("trace: invalid run state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunState) UnmarshalText(text []byte) error {
	parsed, err := ParseRunState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

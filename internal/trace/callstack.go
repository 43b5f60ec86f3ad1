// Package trace records the run state of every traced point of one run
// pass, keyed by CallStack, and publishes immutable snapshots of it to any
// number of observers.
package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/serpent/internal/library"
)

// FrameKind tags a StackFrame.
type FrameKind uint8

const (
	FunctionFrame FrameKind = iota
	ArgumentFrame
	StatementFrame
)

var framePrefix = [...]string{
	FunctionFrame:  "f",
	ArgumentFrame:  "a",
	StatementFrame: "s",
}

func (k FrameKind) String() string {
	switch k {
	case FunctionFrame:
		return "function"
	case ArgumentFrame:
		return "argument"
	case StatementFrame:
		return "statement"
	}
	return fmt.Sprintf("FrameKind(%d)", k)
}

// StackFrame is one step of a CallStack: entering a function, evaluating an
// argument, or executing a statement.
type StackFrame struct {
	Kind  FrameKind
	Index int
}

// Function returns a frame for entering the function with the given id.
func Function(id library.FunctionID) StackFrame {
	return StackFrame{Kind: FunctionFrame, Index: int(id)}
}

// Argument returns a frame for evaluating argument i of a call.
func Argument(i int) StackFrame {
	return StackFrame{Kind: ArgumentFrame, Index: i}
}

// Statement returns a frame for executing statement i of a block.
func Statement(i int) StackFrame {
	return StackFrame{Kind: StatementFrame, Index: i}
}

// FunctionID returns the function id of a FunctionFrame.
func (f StackFrame) FunctionID() (library.FunctionID, bool) {
	return library.FunctionID(f.Index), f.Kind == FunctionFrame
}

func (f StackFrame) String() string {
	return framePrefix[f.Kind] + ":" + strconv.Itoa(f.Index)
}

// CallStack is the dynamic address of a point in execution. It is
// immutable: Push returns a new CallStack. The zero value is the empty
// stack.
type CallStack struct {
	frames []StackFrame
	key    string
}

// NewCallStack builds a CallStack from frames.
func NewCallStack(frames ...StackFrame) CallStack {
	var cs CallStack
	for _, f := range frames {
		cs = cs.Push(f)
	}
	return cs
}

// Push returns cs with f appended.
func (cs CallStack) Push(f StackFrame) CallStack {
	frames := make([]StackFrame, len(cs.frames)+1)
	copy(frames, cs.frames)
	frames[len(cs.frames)] = f

	key := f.String()
	if cs.key != "" {
		key = cs.key + "/" + key
	}
	return CallStack{frames: frames, key: key}
}

// Len returns the number of frames.
func (cs CallStack) Len() int {
	return len(cs.frames)
}

// Frame returns frame i.
func (cs CallStack) Frame(i int) StackFrame {
	return cs.frames[i]
}

// Frames returns a copy of the frames.
func (cs CallStack) Frames() []StackFrame {
	out := make([]StackFrame, len(cs.frames))
	copy(out, cs.frames)
	return out
}

// Parent returns cs without its last frame. The parent of the empty stack
// is the empty stack.
func (cs CallStack) Parent() CallStack {
	if len(cs.frames) <= 1 {
		return CallStack{}
	}
	return NewCallStack(cs.frames[:len(cs.frames)-1]...)
}

// Key returns the canonical text form, e.g. "f:0/s:1/a:0". Two CallStacks
// have equal keys exactly when their frames are equal.
func (cs CallStack) Key() string {
	return cs.key
}

func (cs CallStack) String() string {
	if cs.key == "" {
		return "<root>"
	}
	return cs.key
}

// Equal reports structural equality.
func (cs CallStack) Equal(other CallStack) bool {
	return cs.key == other.key
}

// Compare orders CallStacks frame by frame; a prefix sorts first.
func (cs CallStack) Compare(other CallStack) int {
	n := min(len(cs.frames), len(other.frames))
	for i := 0; i < n; i++ {
		a, b := cs.frames[i], other.frames[i]
		if a.Kind != b.Kind {
			if a.Kind < b.Kind {
				return -1
			}
			return 1
		}
		if a.Index != b.Index {
			if a.Index < b.Index {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(cs.frames) < len(other.frames):
		return -1
	case len(cs.frames) > len(other.frames):
		return 1
	}
	return 0
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) cs.
func (cs CallStack) HasPrefix(prefix CallStack) bool {
	if len(prefix.frames) > len(cs.frames) {
		return false
	}
	return prefix.key == "" || cs.key == prefix.key || strings.HasPrefix(cs.key, prefix.key+"/")
}

// MarshalText implements encoding.TextMarshaler.
func (cs CallStack) MarshalText() ([]byte, error) {
	return []byte(cs.key), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (cs *CallStack) UnmarshalText(text []byte) error {
	parsed, err := ParseCallStack(string(text))
	if err != nil {
		return err
	}
	*cs = parsed
	return nil
}

// ParseCallStack parses the canonical text form produced by Key.
func ParseCallStack(s string) (CallStack, error) {
	var cs CallStack
	if s == "" {
		return cs, nil
	}
	for _, part := range strings.Split(s, "/") {
		prefix, idx, ok := strings.Cut(part, ":")
		if !ok {
			return CallStack{}, fmt.Errorf("trace: malformed frame %q in call stack %q", part, s)
		}
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 || strconv.Itoa(n) != idx {
			return CallStack{}, fmt.Errorf("trace: bad frame index %q in call stack %q", idx, s)
		}
		var kind FrameKind
		switch prefix {
		case "f":
			kind = FunctionFrame
		case "a":
			kind = ArgumentFrame
		case "s":
			kind = StatementFrame
		default:
			return CallStack{}, fmt.Errorf("trace: unknown frame kind %q in call stack %q", prefix, s)
		}
		cs = cs.Push(StackFrame{Kind: kind, Index: n})
	}
	return cs, nil
}

// Package syntax defines the syntax tree of the automation language and the
// parser that produces it.
//
// Tree types are generic over R, the way a call refers to its callee. The
// parser produces trees with R = string (plain names). The linker rewrites
// them to dense function ids, so an unlinked tree can never reach the
// interpreter.
package syntax

// Value is a runtime value: nil (None), bool, int64, float64 or string.
type Value any

// Truthy reports whether v counts as true in a condition.
func Truthy(v Value) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// Module is an ordered collection of functions.
type Module[R any] struct {
	Functions []*Function[R]
}

// Function is a named function with parameters and a body.
type Function[R any] struct {
	Name   string
	Params []string
	Body   Body[R]

	// Line is the 0-based line of the def keyword.
	Line int
}

// IsExternal reports whether the function delegates to the host.
func (f *Function[R]) IsExternal() bool {
	_, ok := f.Body.(External[R])
	return ok
}

// Body is either Local or External.
type Body[R any] interface {
	body(R)
}

// Local is a body of interpretable statements.
type Local[R any] struct {
	Statements []Statement[R]
}

// External is a body implemented by the host. Its steps are never traced.
type External[R any] struct{}

func (Local[R]) body(R)    {}
func (External[R]) body(R) {}

// Statement is Pass, ExpressionStatement or If.
type Statement[R any] interface {
	statement(R)
}

// Pass does nothing.
type Pass[R any] struct{}

// ExpressionStatement evaluates an expression and discards its value.
type ExpressionStatement[R any] struct {
	Expr Expression[R]
}

// If runs Then when Condition is truthy and Else otherwise.
type If[R any] struct {
	Condition Expression[R]
	Then      []Statement[R]
	Else      []Statement[R]
}

func (Pass[R]) statement(R)                {}
func (ExpressionStatement[R]) statement(R) {}
func (If[R]) statement(R)                  {}

// Expression is Variable, Literal or Call.
type Expression[R any] interface {
	expression(R)
}

// Variable reads a parameter of the enclosing function.
type Variable[R any] struct {
	Name string
}

// Literal produces a constant value.
type Literal[R any] struct {
	Value Value
}

// Call invokes Callee with the values of Args.
type Call[R any] struct {
	Callee R
	Args   []Expression[R]
}

func (Variable[R]) expression(R) {}
func (Literal[R]) expression(R)  {}
func (Call[R]) expression(R)     {}

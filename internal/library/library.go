// Package library links a parsed module into an immutable Library whose
// calls refer to functions by dense FunctionID.
package library

import (
	"fmt"

	"github.com/jward/serpent/internal/syntax"
)

// MainName is the name of the entry point.
const MainName = "main"

// FunctionID is a dense index into a Library. IDs are only meaningful for
// the Library that issued them.
type FunctionID int

// Linked tree aliases.
type (
	LinkedFunction   = syntax.Function[FunctionID]
	LinkedStatement  = syntax.Statement[FunctionID]
	LinkedExpression = syntax.Expression[FunctionID]
)

// LinkError reports a call to a function name that is not declared.
type LinkError struct {
	Name     string // the undeclared name
	Function string // the function containing the call
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: function %q calls undeclared function %q", e.Function, e.Name)
}

// Library is the linked, densely indexed collection of functions. It is
// never mutated after Link returns and is safe for concurrent use.
type Library struct {
	functions []*LinkedFunction
	byName    map[string]FunctionID
	mainID    FunctionID
	hasMain   bool
	shadowed  []FunctionID
}

// Link assigns every function an id in declaration order and rewrites all
// calls to refer to ids. When names are duplicated the last declaration
// wins; earlier ones keep their ids but are unreachable by name.
func Link(m *syntax.Module[string]) (*Library, error) {
	lib := &Library{
		functions: make([]*LinkedFunction, 0, len(m.Functions)),
		byName:    make(map[string]FunctionID, len(m.Functions)),
	}

	for i, fn := range m.Functions {
		id := FunctionID(i)
		if prev, ok := lib.byName[fn.Name]; ok {
			lib.shadowed = append(lib.shadowed, prev)
		}
		lib.byName[fn.Name] = id
		if fn.Name == MainName {
			lib.mainID = id
			lib.hasMain = true
		}
	}

	for _, fn := range m.Functions {
		linked, err := lib.linkFunction(fn)
		if err != nil {
			return nil, err
		}
		lib.functions = append(lib.functions, linked)
	}
	return lib, nil
}

func (l *Library) linkFunction(fn *syntax.Function[string]) (*LinkedFunction, error) {
	out := &LinkedFunction{
		Name:   fn.Name,
		Params: fn.Params,
		Line:   fn.Line,
	}
	switch body := fn.Body.(type) {
	case syntax.Local[string]:
		stmts, err := l.linkStatements(fn.Name, body.Statements)
		if err != nil {
			return nil, err
		}
		out.Body = syntax.Local[FunctionID]{Statements: stmts}
	case syntax.External[string]:
		out.Body = syntax.External[FunctionID]{}
	default:
		return nil, fmt.Errorf("library: function %q has unknown body type %T", fn.Name, fn.Body)
	}
	return out, nil
}

func (l *Library) linkStatements(owner string, stmts []syntax.Statement[string]) ([]LinkedStatement, error) {
	if stmts == nil {
		return nil, nil
	}
	out := make([]LinkedStatement, 0, len(stmts))
	for _, st := range stmts {
		linked, err := l.linkStatement(owner, st)
		if err != nil {
			return nil, err
		}
		out = append(out, linked)
	}
	return out, nil
}

func (l *Library) linkStatement(owner string, st syntax.Statement[string]) (LinkedStatement, error) {
	switch s := st.(type) {
	case syntax.Pass[string]:
		return syntax.Pass[FunctionID]{}, nil
	case syntax.ExpressionStatement[string]:
		expr, err := l.linkExpression(owner, s.Expr)
		if err != nil {
			return nil, err
		}
		return syntax.ExpressionStatement[FunctionID]{Expr: expr}, nil
	case syntax.If[string]:
		cond, err := l.linkExpression(owner, s.Condition)
		if err != nil {
			return nil, err
		}
		then, err := l.linkStatements(owner, s.Then)
		if err != nil {
			return nil, err
		}
		els, err := l.linkStatements(owner, s.Else)
		if err != nil {
			return nil, err
		}
		return syntax.If[FunctionID]{Condition: cond, Then: then, Else: els}, nil
	default:
		return nil, fmt.Errorf("library: unknown statement type %T in %q", st, owner)
	}
}

func (l *Library) linkExpression(owner string, e syntax.Expression[string]) (LinkedExpression, error) {
	switch ex := e.(type) {
	case syntax.Variable[string]:
		return syntax.Variable[FunctionID]{Name: ex.Name}, nil
	case syntax.Literal[string]:
		return syntax.Literal[FunctionID]{Value: ex.Value}, nil
	case syntax.Call[string]:
		id, ok := l.byName[ex.Callee]
		if !ok {
			return nil, &LinkError{Name: ex.Callee, Function: owner}
		}
		call := syntax.Call[FunctionID]{Callee: id}
		for _, arg := range ex.Args {
			linked, err := l.linkExpression(owner, arg)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, linked)
		}
		return call, nil
	default:
		return nil, fmt.Errorf("library: unknown expression type %T in %q", e, owner)
	}
}

// Lookup returns the function with the given id. Every id issued by this
// Library, including every callee inside its functions, is valid.
func (l *Library) Lookup(id FunctionID) *LinkedFunction {
	return l.functions[id]
}

// MainID returns the id of the function named "main", if any.
func (l *Library) MainID() (FunctionID, bool) {
	return l.mainID, l.hasMain
}

// Main returns the function named "main", if any.
func (l *Library) Main() (*LinkedFunction, bool) {
	if !l.hasMain {
		return nil, false
	}
	return l.Lookup(l.mainID), true
}

// Resolve returns the id a call to name links to.
func (l *Library) Resolve(name string) (FunctionID, bool) {
	id, ok := l.byName[name]
	return id, ok
}

// Len returns the number of functions, including shadowed ones.
func (l *Library) Len() int {
	return len(l.functions)
}

// Functions returns all functions in id order. The slice is a copy; the
// functions themselves must be treated as read-only.
func (l *Library) Functions() []*LinkedFunction {
	out := make([]*LinkedFunction, len(l.functions))
	copy(out, l.functions)
	return out
}

// Shadowed returns the ids of functions hidden by a later declaration of
// the same name.
func (l *Library) Shadowed() []FunctionID {
	out := make([]FunctionID, len(l.shadowed))
	copy(out, l.shadowed)
	return out
}

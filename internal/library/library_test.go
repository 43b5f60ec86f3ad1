package library

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/serpent/internal/syntax"
)

func mustLink(t *testing.T, src string) *Library {
	t.Helper()
	m, err := syntax.Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	lib, err := Link(m)
	require.NoError(t, err)
	return lib
}

// collectCallees walks every linked body and returns every callee id.
func collectCallees(lib *Library) []FunctionID {
	var ids []FunctionID
	var walkExpr func(e LinkedExpression)
	var walkStmts func(stmts []LinkedStatement)
	walkExpr = func(e LinkedExpression) {
		if c, ok := e.(syntax.Call[FunctionID]); ok {
			ids = append(ids, c.Callee)
			for _, a := range c.Args {
				walkExpr(a)
			}
		}
	}
	walkStmts = func(stmts []LinkedStatement) {
		for _, s := range stmts {
			switch st := s.(type) {
			case syntax.ExpressionStatement[FunctionID]:
				walkExpr(st.Expr)
			case syntax.If[FunctionID]:
				walkExpr(st.Condition)
				walkStmts(st.Then)
				walkStmts(st.Else)
			}
		}
	}
	for _, fn := range lib.Functions() {
		if body, ok := fn.Body.(syntax.Local[FunctionID]); ok {
			walkStmts(body.Statements)
		}
	}
	return ids
}

func TestLink_AssignsDenseIDsInDeclarationOrder(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, `def a():
    pass

def main():
    a()

def b():
    pass
`)
	require.Equal(t, 3, lib.Len())
	for i, name := range []string{"a", "main", "b"} {
		id, ok := lib.Resolve(name)
		require.True(t, ok, name)
		assert.Equal(t, FunctionID(i), id)
		assert.Equal(t, name, lib.Lookup(id).Name)
	}

	mainID, ok := lib.MainID()
	require.True(t, ok)
	assert.Equal(t, FunctionID(1), mainID)

	main, ok := lib.Main()
	require.True(t, ok)
	assert.Equal(t, "main", main.Name)
}

func TestLink_EveryCalleeIsLookupable(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, `def main():
    if check(1):
        step(fetch("a"), fetch("b"))
    else:
        cleanup()

def check(x):
    pass

def step(a, b):
    cleanup()

@external
def fetch(url):
    ...

def cleanup():
    pass
`)
	callees := collectCallees(lib)
	require.Len(t, callees, 6)
	for _, id := range callees {
		assert.NotPanics(t, func() { lib.Lookup(id) })
		assert.Less(t, int(id), lib.Len())
	}
}

func TestLink_RewritesCalls(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, `def main():
    f(x, 1)

def f(a, b):
    pass
`)
	main, _ := lib.Main()
	body := main.Body.(syntax.Local[FunctionID])
	assert.Equal(t, []LinkedStatement{
		syntax.ExpressionStatement[FunctionID]{Expr: syntax.Call[FunctionID]{
			Callee: 1,
			Args: []LinkedExpression{
				syntax.Variable[FunctionID]{Name: "x"},
				syntax.Literal[FunctionID]{Value: int64(1)},
			},
		}},
	}, body.Statements)
	assert.Equal(t, []string{"a", "b"}, lib.Lookup(1).Params)
}

func TestLink_UndeclaredNameIsLinkError(t *testing.T) {
	t.Parallel()
	m, err := syntax.Parse(context.Background(), []byte(`def main():
    if ok():
        missing(1)

def ok():
    pass
`))
	require.NoError(t, err)

	lib, err := Link(m)
	require.Error(t, err)
	assert.Nil(t, lib)

	var le *LinkError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "missing", le.Name)
	assert.Equal(t, "main", le.Function)
	assert.Contains(t, err.Error(), `undeclared function "missing"`)
}

func TestLink_UndeclaredNameInArgument(t *testing.T) {
	t.Parallel()
	m, err := syntax.Parse(context.Background(), []byte("def main():\n    main(nope())\n"))
	require.NoError(t, err)
	_, err = Link(m)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "nope", le.Name)
}

func TestLink_NoMain(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, "def helper():\n    pass\n")
	_, ok := lib.MainID()
	assert.False(t, ok)
	fn, ok := lib.Main()
	assert.False(t, ok)
	assert.Nil(t, fn)
}

func TestLink_DuplicateNamesLastWins(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, `def main():
    f()

def f():
    pass

def f(x):
    pass
`)
	require.Equal(t, 3, lib.Len())
	id, ok := lib.Resolve("f")
	require.True(t, ok)
	assert.Equal(t, FunctionID(2), id)
	assert.Equal(t, []FunctionID{1}, lib.Shadowed())

	// The shadowed declaration keeps its slot.
	assert.Equal(t, "f", lib.Lookup(1).Name)
	assert.Empty(t, lib.Lookup(1).Params)

	main, _ := lib.Main()
	call := main.Body.(syntax.Local[FunctionID]).Statements[0].(syntax.ExpressionStatement[FunctionID]).Expr
	assert.Equal(t, syntax.Call[FunctionID]{Callee: 2}, call)
}

func TestLink_ExternalBody(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, "@external\ndef io(x):\n    ...\n")
	fn := lib.Lookup(0)
	assert.True(t, fn.IsExternal())
	assert.Equal(t, []string{"x"}, fn.Params)
}

func TestLibrary_FunctionsReturnsCopy(t *testing.T) {
	t.Parallel()
	lib := mustLink(t, "def main():\n    pass\n")
	fns := lib.Functions()
	fns[0] = nil
	assert.NotNil(t, lib.Lookup(0))
}

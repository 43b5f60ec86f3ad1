package syntax

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Module[string] {
	t.Helper()
	m, err := Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	return m
}

func parseErr(t *testing.T, src string) *ParseError {
	t.Helper()
	_, err := Parse(context.Background(), []byte(src))
	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe), "expected *ParseError, got %T: %v", err, err)
	return pe
}

func localBody(t *testing.T, fn *Function[string]) []Statement[string] {
	t.Helper()
	body, ok := fn.Body.(Local[string])
	require.True(t, ok, "function %s is not local", fn.Name)
	return body.Statements
}

// --- Functions ---

func TestParse_FunctionsInDeclarationOrder(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def main():
    f()

def f():
    pass
`)
	require.Len(t, m.Functions, 2)
	assert.Equal(t, "main", m.Functions[0].Name)
	assert.Equal(t, "f", m.Functions[1].Name)
	assert.Equal(t, 0, m.Functions[0].Line)
	assert.Equal(t, 3, m.Functions[1].Line)

	stmts := localBody(t, m.Functions[0])
	require.Len(t, stmts, 1)
	assert.Equal(t, ExpressionStatement[string]{Expr: Call[string]{Callee: "f"}}, stmts[0])

	assert.Equal(t, []Statement[string]{Pass[string]{}}, localBody(t, m.Functions[1]))
}

func TestParse_Parameters(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def greet(name, greeting):
    say(greeting, name)
`)
	fn := m.Functions[0]
	assert.Equal(t, []string{"name", "greeting"}, fn.Params)
	stmts := localBody(t, fn)
	assert.Equal(t, ExpressionStatement[string]{Expr: Call[string]{
		Callee: "say",
		Args:   []Expression[string]{Variable[string]{Name: "greeting"}, Variable[string]{Name: "name"}},
	}}, stmts[0])
}

func TestParse_ExternalFunction(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `@external
def deploy(target):
    ...

def main():
    deploy("prod")
`)
	require.Len(t, m.Functions, 2)
	deploy := m.Functions[0]
	assert.Equal(t, "deploy", deploy.Name)
	assert.Equal(t, []string{"target"}, deploy.Params)
	assert.True(t, deploy.IsExternal())
	assert.False(t, m.Functions[1].IsExternal())
}

func TestParse_CommentsIgnored(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `# leading comment
def main():
    # inside
    pass  # trailing
`)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, []Statement[string]{Pass[string]{}}, localBody(t, m.Functions[0]))
}

func TestParse_EmptySource(t *testing.T) {
	t.Parallel()
	m := mustParse(t, "")
	assert.Empty(t, m.Functions)
}

// --- Statements ---

func TestParse_IfElse(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def main():
    if True:
        g()
    else:
        h()
`)
	stmts := localBody(t, m.Functions[0])
	require.Len(t, stmts, 1)
	assert.Equal(t, If[string]{
		Condition: Literal[string]{Value: true},
		Then:      []Statement[string]{ExpressionStatement[string]{Expr: Call[string]{Callee: "g"}}},
		Else:      []Statement[string]{ExpressionStatement[string]{Expr: Call[string]{Callee: "h"}}},
	}, stmts[0])
}

func TestParse_ElifDesugarsToNestedIf(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def main():
    if a():
        pass
    elif b():
        c()
    else:
        d()
`)
	stmts := localBody(t, m.Functions[0])
	require.Len(t, stmts, 1)
	outer, ok := stmts[0].(If[string])
	require.True(t, ok)
	assert.Equal(t, Call[string]{Callee: "a"}, outer.Condition)
	require.Len(t, outer.Else, 1)

	inner, ok := outer.Else[0].(If[string])
	require.True(t, ok)
	assert.Equal(t, Call[string]{Callee: "b"}, inner.Condition)
	assert.Equal(t, []Statement[string]{ExpressionStatement[string]{Expr: Call[string]{Callee: "c"}}}, inner.Then)
	assert.Equal(t, []Statement[string]{ExpressionStatement[string]{Expr: Call[string]{Callee: "d"}}}, inner.Else)
}

func TestParse_IfWithoutElse(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def main():
    if x:
        pass
`)
	st := localBody(t, m.Functions[0])[0].(If[string])
	assert.Equal(t, Variable[string]{Name: "x"}, st.Condition)
	assert.Nil(t, st.Else)
}

// --- Literals ---

func TestParse_Literals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want Value
	}{
		{"True", true},
		{"False", false},
		{"None", nil},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"0x1f", int64(31)},
		{"1_000", int64(1000)},
		{"2.5", 2.5},
		{"-0.5", -0.5},
		{`"hello"`, "hello"},
		{`'it\'s'`, "it's"},
		{`"tab\there"`, "tab\there"},
		{`r"raw\n"`, `raw\n`},
		{`"""triple"""`, "triple"},
		{`"a" "b"`, "ab"},
		{`"\x41é"`, "Aé"},
		{`(5)`, int64(5)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			m := mustParse(t, "def main():\n    f("+tt.src+")\n")
			call := localBody(t, m.Functions[0])[0].(ExpressionStatement[string]).Expr.(Call[string])
			require.Len(t, call.Args, 1)
			assert.Equal(t, Literal[string]{Value: tt.want}, call.Args[0])
		})
	}
}

func TestParse_NestedCalls(t *testing.T) {
	t.Parallel()
	m := mustParse(t, `def main():
    outer(inner(1), x)
`)
	call := localBody(t, m.Functions[0])[0].(ExpressionStatement[string]).Expr.(Call[string])
	assert.Equal(t, "outer", call.Callee)
	assert.Equal(t, []Expression[string]{
		Call[string]{Callee: "inner", Args: []Expression[string]{Literal[string]{Value: int64(1)}}},
		Variable[string]{Name: "x"},
	}, call.Args)
}

// --- Errors ---

func TestParse_SyntaxError(t *testing.T) {
	t.Parallel()
	pe := parseErr(t, "def main(:\n    pass\n")
	assert.Equal(t, 0, pe.Line)
	assert.Contains(t, pe.Error(), "parse error at 1:")
}

func TestParse_UnsupportedConstructs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"top-level statement", "f()\n", "only function definitions"},
		{"return", "def main():\n    return 1\n", "unsupported statement return_statement"},
		{"assignment", "def main():\n    x = 1\n", "unsupported expression assignment"},
		{"binary operator", "def main():\n    f(1 + 2)\n", "unsupported expression binary_operator"},
		{"keyword argument", "def main():\n    f(a=1)\n", "keyword arguments"},
		{"default parameter", "def f(a=1):\n    pass\n", "unsupported parameter kind default_parameter"},
		{"unknown decorator", "@cached\ndef f():\n    pass\n", "unsupported decorator @cached"},
		{"method call", "def main():\n    os.exit()\n", "plain function names"},
		{"f-string", "def main():\n    f(f\"x\")\n", "f-strings"},
		{"return annotation", "def f() -> int:\n    pass\n", "return type annotations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := parseErr(t, tt.src)
			assert.Contains(t, pe.Message, tt.msg)
		})
	}
}

func TestParseError_ReportsPosition(t *testing.T) {
	t.Parallel()
	pe := parseErr(t, "def main():\n    pass\n    while True:\n        pass\n")
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, 4, pe.Column)
	assert.Equal(t, "parse error at 3:5: unsupported statement while_statement", pe.Error())
}

// --- Unquote ---

func TestUnquote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{`"plain"`, "plain", false},
		{`''`, "", false},
		{`'''multi
line'''`, "multi\nline", false},
		{`"keep\q"`, `keep\q`, false},
		{`"\101"`, "A", false},
		{`"join\
ed"`, "joined", false},
		{`b"bytes"`, "bytes", false},
		{`"\x4"`, "", true},
		{`"\u00e9"`, "é", false},
		{`"\U0001F40D"`, "\U0001F40D", false},
		{`r"\N{BULLET}"`, `\N{BULLET}`, false},
		{`"\N{BULLET}"`, "", true},
		{`"\uD800"`, "", true},
		{`"\U00110000"`, "", true},
		{`F"nope"`, "", true},
		{`"open`, "", true},
	}
	for _, tt := range tests {
		got, err := unquote(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

package syntax

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// The automation language is a strict subset of Python, so the tree-sitter
// Python grammar does the tokenizing and indentation handling. Lazily
// initialized on first parse.
var (
	grammar     *sitter.Language
	grammarOnce sync.Once
)

func language() *sitter.Language {
	grammarOnce.Do(func() {
		grammar = python.GetLanguage()
	})
	return grammar
}

// ExternalDecorator marks a function whose body is provided by the host.
const ExternalDecorator = "external"

// ParseError describes malformed or unsupported source. Line and Column are
// 0-based.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line+1, e.Column+1, e.Message)
}

// Parse parses source text into a module whose calls refer to functions by
// name. Names are not resolved here; that is the linker's job.
func Parse(ctx context.Context, source []byte) (*Module[string], error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("syntax: tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		bad := firstErrorNode(root)
		if bad == nil {
			bad = root
		}
		msg := "invalid syntax"
		if bad.IsMissing() {
			msg = fmt.Sprintf("missing %s", bad.Type())
		}
		return nil, errorAt(bad, "%s", msg)
	}

	p := &moduleParser{src: source}
	return p.module(root)
}

type moduleParser struct {
	src []byte
}

func (p *moduleParser) text(n *sitter.Node) string {
	return n.Content(p.src)
}

func errorAt(n *sitter.Node, format string, args ...any) *ParseError {
	pt := n.StartPoint()
	return &ParseError{
		Line:    int(pt.Row),
		Column:  int(pt.Column),
		Message: fmt.Sprintf(format, args...),
	}
}

// firstErrorNode finds the first ERROR or MISSING node in document order.
func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !child.HasError() && !child.IsMissing() {
			continue
		}
		if found := firstErrorNode(child); found != nil {
			return found
		}
	}
	return nil
}

// namedChildren returns the named children of n, skipping comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

func (p *moduleParser) module(root *sitter.Node) (*Module[string], error) {
	m := &Module[string]{}
	for _, node := range namedChildren(root) {
		var (
			fn  *Function[string]
			err error
		)
		switch node.Type() {
		case "function_definition":
			fn, err = p.function(node, false)
		case "decorated_definition":
			fn, err = p.decorated(node)
		default:
			err = errorAt(node, "only function definitions are allowed at the top level, found %s", node.Type())
		}
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, fn)
	}
	return m, nil
}

func (p *moduleParser) decorated(node *sitter.Node) (*Function[string], error) {
	external := false
	var def *sitter.Node
	for _, child := range namedChildren(node) {
		switch child.Type() {
		case "decorator":
			name := strings.TrimSpace(strings.TrimPrefix(p.text(child), "@"))
			if name != ExternalDecorator {
				return nil, errorAt(child, "unsupported decorator @%s", name)
			}
			external = true
		case "function_definition":
			def = child
		default:
			return nil, errorAt(child, "unsupported decorated definition %s", child.Type())
		}
	}
	if def == nil {
		return nil, errorAt(node, "decorator without a function definition")
	}
	return p.function(def, external)
}

func (p *moduleParser) function(node *sitter.Node, external bool) (*Function[string], error) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil, errorAt(node, "function without a name")
	}
	if rt := node.ChildByFieldName("return_type"); rt != nil {
		return nil, errorAt(rt, "return type annotations are not supported")
	}

	fn := &Function[string]{
		Name: p.text(nameNode),
		Line: int(node.StartPoint().Row),
	}

	if params := node.ChildByFieldName("parameters"); params != nil {
		for _, param := range namedChildren(params) {
			if param.Type() != "identifier" {
				return nil, errorAt(param, "unsupported parameter kind %s", param.Type())
			}
			fn.Params = append(fn.Params, p.text(param))
		}
	}

	if external {
		fn.Body = External[string]{}
		return fn, nil
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return nil, errorAt(node, "function %s has no body", fn.Name)
	}
	stmts, err := p.block(body)
	if err != nil {
		return nil, err
	}
	fn.Body = Local[string]{Statements: stmts}
	return fn, nil
}

func (p *moduleParser) block(node *sitter.Node) ([]Statement[string], error) {
	var stmts []Statement[string]
	for _, child := range namedChildren(node) {
		st, err := p.statement(child)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func (p *moduleParser) statement(node *sitter.Node) (Statement[string], error) {
	switch node.Type() {
	case "pass_statement":
		return Pass[string]{}, nil
	case "expression_statement":
		children := namedChildren(node)
		if len(children) != 1 {
			return nil, errorAt(node, "expected a single expression")
		}
		expr, err := p.expression(children[0])
		if err != nil {
			return nil, err
		}
		return ExpressionStatement[string]{Expr: expr}, nil
	case "if_statement":
		return p.ifStatement(node)
	default:
		return nil, errorAt(node, "unsupported statement %s", node.Type())
	}
}

// ifStatement desugars elif chains into nested Ifs, each the only
// statement of the enclosing else block.
func (p *moduleParser) ifStatement(node *sitter.Node) (Statement[string], error) {
	cond := node.ChildByFieldName("condition")
	cons := node.ChildByFieldName("consequence")
	if cond == nil || cons == nil {
		return nil, errorAt(node, "incomplete if statement")
	}

	var clauses []*sitter.Node
	for _, child := range namedChildren(node) {
		switch child.Type() {
		case "elif_clause", "else_clause":
			clauses = append(clauses, child)
		}
	}
	return p.conditional(cond, cons, clauses)
}

func (p *moduleParser) conditional(cond, cons *sitter.Node, rest []*sitter.Node) (Statement[string], error) {
	condition, err := p.expression(cond)
	if err != nil {
		return nil, err
	}
	then, err := p.block(cons)
	if err != nil {
		return nil, err
	}
	st := If[string]{Condition: condition, Then: then}
	if len(rest) == 0 {
		return st, nil
	}

	clause := rest[0]
	switch clause.Type() {
	case "else_clause":
		body := clause.ChildByFieldName("body")
		if body == nil {
			return nil, errorAt(clause, "else without a body")
		}
		if st.Else, err = p.block(body); err != nil {
			return nil, err
		}
	case "elif_clause":
		c, b := clause.ChildByFieldName("condition"), clause.ChildByFieldName("consequence")
		if c == nil || b == nil {
			return nil, errorAt(clause, "incomplete elif clause")
		}
		nested, err := p.conditional(c, b, rest[1:])
		if err != nil {
			return nil, err
		}
		st.Else = []Statement[string]{nested}
	}
	return st, nil
}

func (p *moduleParser) expression(node *sitter.Node) (Expression[string], error) {
	switch node.Type() {
	case "identifier":
		return Variable[string]{Name: p.text(node)}, nil
	case "true":
		return Literal[string]{Value: true}, nil
	case "false":
		return Literal[string]{Value: false}, nil
	case "none":
		return Literal[string]{Value: nil}, nil
	case "integer", "float", "string", "concatenated_string", "unary_operator":
		v, err := p.literal(node)
		if err != nil {
			return nil, err
		}
		return Literal[string]{Value: v}, nil
	case "parenthesized_expression":
		children := namedChildren(node)
		if len(children) != 1 {
			return nil, errorAt(node, "expected a single parenthesized expression")
		}
		return p.expression(children[0])
	case "call":
		return p.call(node)
	default:
		return nil, errorAt(node, "unsupported expression %s", node.Type())
	}
}

func (p *moduleParser) call(node *sitter.Node) (Expression[string], error) {
	callee := node.ChildByFieldName("function")
	if callee == nil || callee.Type() != "identifier" {
		return nil, errorAt(node, "only calls to plain function names are supported")
	}
	call := Call[string]{Callee: p.text(callee)}

	args := node.ChildByFieldName("arguments")
	if args == nil {
		return call, nil
	}
	if args.Type() != "argument_list" {
		return nil, errorAt(args, "unsupported call arguments %s", args.Type())
	}
	for _, arg := range namedChildren(args) {
		if arg.Type() == "keyword_argument" {
			return nil, errorAt(arg, "keyword arguments are not supported")
		}
		expr, err := p.expression(arg)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, expr)
	}
	return call, nil
}

func (p *moduleParser) literal(node *sitter.Node) (Value, error) {
	text := p.text(node)
	switch node.Type() {
	case "integer":
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, errorAt(node, "invalid integer literal %s", text)
		}
		return v, nil
	case "float":
		v, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
		if err != nil {
			return nil, errorAt(node, "invalid float literal %s", text)
		}
		return v, nil
	case "string":
		s, err := unquote(text)
		if err != nil {
			return nil, errorAt(node, "%v", err)
		}
		return s, nil
	case "concatenated_string":
		var b strings.Builder
		for _, part := range namedChildren(node) {
			s, err := unquote(p.text(part))
			if err != nil {
				return nil, errorAt(part, "%v", err)
			}
			b.WriteString(s)
		}
		return b.String(), nil
	case "unary_operator":
		op := node.ChildByFieldName("operator")
		arg := node.ChildByFieldName("argument")
		if op == nil || arg == nil {
			return nil, errorAt(node, "incomplete unary expression")
		}
		v, err := p.literal(arg)
		if err != nil {
			return nil, err
		}
		switch p.text(op) {
		case "+":
			if _, ok := v.(string); ok {
				return nil, errorAt(node, "bad operand for unary +")
			}
			return v, nil
		case "-":
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
			return nil, errorAt(node, "bad operand for unary -")
		}
		return nil, errorAt(op, "unsupported unary operator %s", p.text(op))
	}
	return nil, errorAt(node, "unsupported literal %s", node.Type())
}

// Package interp runs a linked Library from its entry point, recording the
// run state of every call and branch in a trace as it goes.
package interp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jward/serpent/internal/library"
	"github.com/jward/serpent/internal/syntax"
	"github.com/jward/serpent/internal/trace"
)

const (
	// DefaultMaxDepth bounds the number of nested calls in one pass.
	DefaultMaxDepth = 1000

	// DefaultInterval is the pause between two passes of a watched program.
	DefaultInterval = 3 * time.Second
)

// Sink receives a snapshot after every state change of a pass.
// *trace.Channel is the usual Sink.
type Sink interface {
	Publish(s *trace.Snapshot)
}

// RuntimeError is a failure inside interpreted code. It is created at the
// innermost failing point; every enclosing call is marked Failed and the
// same error is returned from Run.
type RuntimeError struct {
	Stack    trace.CallStack
	Function string
	Err      error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error in %s at %s: %v", e.Function, e.Stack, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Interpreter executes a Library. It holds no per-pass state, so one
// Interpreter can run any number of passes, one at a time or concurrently.
type Interpreter struct {
	lib      *library.Library
	host     Host
	maxDepth int
	logger   *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithHost sets the Host that implements External functions.
func WithHost(h Host) Option {
	return func(in *Interpreter) {
		in.host = h
	}
}

// WithMaxDepth bounds call nesting. Values < 1 keep the default.
func WithMaxDepth(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxDepth = n
		}
	}
}

// WithLogger sets the logger used for call tracing at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = l
	}
}

// New creates an Interpreter for lib. Without WithHost, every External
// call fails with ErrUnknownFunction.
func New(lib *library.Library, opts ...Option) *Interpreter {
	in := &Interpreter{
		lib:      lib,
		host:     HostFuncs{},
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Library returns the Library being interpreted.
func (in *Interpreter) Library() *library.Library {
	return in.lib
}

// Run executes one pass from the entry point, publishing a snapshot to sink
// after every state change. A Library without main is not runnable and Run
// returns nil without publishing anything. A failure inside the program is
// returned as a *RuntimeError after the trace records it.
//
// ctx is only handed to the Host; the pass itself always runs to
// completion or failure. A Host that stops on cancellation fails the pass
// with an error wrapping ctx.Err().
func (in *Interpreter) Run(ctx context.Context, sink Sink) error {
	mainID, ok := in.lib.MainID()
	if !ok {
		return nil
	}
	p := &pass{
		in:     in,
		ctx:    ctx,
		tracer: trace.NewTracer(),
		sink:   sink,
	}
	_, err := p.invoke(trace.CallStack{}, mainID, nil, 0)
	return err
}

// pass is the state of one run.
type pass struct {
	in     *Interpreter
	ctx    context.Context
	tracer *trace.Tracer
	sink   Sink
}

type env map[string]syntax.Value

func (p *pass) set(cs trace.CallStack, state trace.RunState) error {
	if err := p.tracer.SetStatus(cs, state); err != nil {
		return fmt.Errorf("interp: %w", err)
	}
	if p.sink != nil {
		p.sink.Publish(p.tracer.Snapshot())
	}
	return nil
}

// fail marks cs Failed and returns err, preferring a tracer error.
func (p *pass) fail(cs trace.CallStack, err error) error {
	if serr := p.set(cs, trace.Failed); serr != nil {
		return serr
	}
	return err
}

func (p *pass) newError(cs trace.CallStack, fn string, err error) *RuntimeError {
	return &RuntimeError{Stack: cs, Function: fn, Err: err}
}

// invoke runs function id with already evaluated args at stack.Push(id).
func (p *pass) invoke(stack trace.CallStack, id library.FunctionID, args []syntax.Value, depth int) (syntax.Value, error) {
	fn := p.in.lib.Lookup(id)
	cs := stack.Push(trace.Function(id))

	if err := p.set(cs, trace.Running); err != nil {
		return nil, err
	}
	p.in.logger.Debug("call", slog.String("function", fn.Name), slog.String("stack", cs.Key()))

	result, err := p.body(cs, fn, args, depth)
	if err != nil {
		p.in.logger.Debug("call failed", slog.String("function", fn.Name), slog.Any("error", err))
		return nil, p.fail(cs, err)
	}
	if err := p.set(cs, trace.Successful); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *pass) body(cs trace.CallStack, fn *library.LinkedFunction, args []syntax.Value, depth int) (syntax.Value, error) {
	if depth >= p.in.maxDepth {
		return nil, p.newError(cs, fn.Name, fmt.Errorf("maximum call depth %d exceeded", p.in.maxDepth))
	}
	if len(args) != len(fn.Params) {
		return nil, p.newError(cs, fn.Name, fmt.Errorf("%s() takes %d argument(s) but %d were given", fn.Name, len(fn.Params), len(args)))
	}

	switch body := fn.Body.(type) {
	case syntax.Local[library.FunctionID]:
		vars := make(env, len(fn.Params))
		for i, name := range fn.Params {
			vars[name] = args[i]
		}
		return nil, p.block(cs, fn.Name, vars, body.Statements, 0, depth)
	case syntax.External[library.FunctionID]:
		v, err := p.callHost(fn.Name, args)
		if err != nil {
			return nil, p.newError(cs, fn.Name, err)
		}
		return v, nil
	default:
		return nil, p.newError(cs, fn.Name, fmt.Errorf("unknown body type %T", fn.Body))
	}
}

func (p *pass) callHost(name string, args []syntax.Value) (v syntax.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("host panic: %v", r)
		}
	}()
	return p.in.host.Call(p.ctx, name, args)
}

// block executes stmts in order. Statement i is addressed as
// Statement(offset+i) under stack.
func (p *pass) block(stack trace.CallStack, owner string, vars env, stmts []library.LinkedStatement, offset, depth int) error {
	for i, st := range stmts {
		if err := p.statement(stack, owner, vars, st, offset+i, depth); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) statement(stack trace.CallStack, owner string, vars env, st library.LinkedStatement, index, depth int) error {
	switch s := st.(type) {
	case syntax.Pass[library.FunctionID]:
		return nil
	case syntax.ExpressionStatement[library.FunctionID]:
		_, err := p.expression(stack.Push(trace.Statement(index)), owner, vars, s.Expr, depth)
		return err
	case syntax.If[library.FunctionID]:
		return p.conditional(stack.Push(trace.Statement(index)), owner, vars, s, depth)
	default:
		return p.newError(stack, owner, fmt.Errorf("unknown statement type %T", st))
	}
}

// conditional runs an If at cs. The else block is numbered after the then
// block so every path under cs names a single lexical location.
func (p *pass) conditional(cs trace.CallStack, owner string, vars env, s syntax.If[library.FunctionID], depth int) error {
	if err := p.set(cs, trace.Running); err != nil {
		return err
	}
	v, err := p.expression(cs, owner, vars, s.Condition, depth)
	if err != nil {
		return p.fail(cs, err)
	}
	cond := syntax.Truthy(v)
	if err := p.set(cs, trace.PredicateSuccessful(cond)); err != nil {
		return err
	}
	if cond {
		err = p.block(cs, owner, vars, s.Then, 0, depth)
	} else {
		err = p.block(cs, owner, vars, s.Else, len(s.Then), depth)
	}
	if err != nil {
		return p.fail(cs, err)
	}
	return nil
}

func (p *pass) expression(stack trace.CallStack, owner string, vars env, e library.LinkedExpression, depth int) (syntax.Value, error) {
	switch ex := e.(type) {
	case syntax.Literal[library.FunctionID]:
		return ex.Value, nil
	case syntax.Variable[library.FunctionID]:
		v, ok := vars[ex.Name]
		if !ok {
			return nil, p.newError(stack, owner, fmt.Errorf("name %q is not defined", ex.Name))
		}
		return v, nil
	case syntax.Call[library.FunctionID]:
		args := make([]syntax.Value, len(ex.Args))
		for i, arg := range ex.Args {
			v, err := p.expression(stack.Push(trace.Argument(i)), owner, vars, arg, depth)
			if err != nil {
				return nil, p.fail(stack.Push(trace.Function(ex.Callee)), err)
			}
			args[i] = v
		}
		return p.invoke(stack, ex.Callee, args, depth+1)
	default:
		return nil, p.newError(stack, owner, fmt.Errorf("unknown expression type %T", e))
	}
}

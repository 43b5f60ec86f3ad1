package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/serpent/internal/syntax"
)

// ErrUnknownFunction is returned by a Host that has no implementation for
// the requested External function.
var ErrUnknownFunction = errors.New("no host implementation")

// Host executes External functions. Its internal steps are opaque to the
// interpreter: only the enclosing call's state is traced.
type Host interface {
	Call(ctx context.Context, name string, args []syntax.Value) (syntax.Value, error)
}

// HostFunc is a Go implementation of an External function.
type HostFunc func(ctx context.Context, args []syntax.Value) (syntax.Value, error)

// HostFuncs is a Host backed by a map of Go functions.
type HostFuncs map[string]HostFunc

// Call implements Host.
func (h HostFuncs) Call(ctx context.Context, name string, args []syntax.Value) (syntax.Value, error) {
	fn, ok := h[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFunction)
	}
	return fn(ctx, args)
}

// Chain tries each host in order, moving on while a host reports
// ErrUnknownFunction.
func Chain(hosts ...Host) Host {
	return chain(hosts)
}

type chain []Host

func (c chain) Call(ctx context.Context, name string, args []syntax.Value) (syntax.Value, error) {
	for _, h := range c {
		v, err := h.Call(ctx, name, args)
		if errors.Is(err, ErrUnknownFunction) {
			continue
		}
		return v, err
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnknownFunction)
}

package serpent

import (
	"github.com/jward/serpent/internal/interp"
	"github.com/jward/serpent/internal/library"
	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/syntax"
	"github.com/jward/serpent/internal/trace"
)

// Public type aliases for internal types used in the Engine and
// QueryBuilder API. External consumers use these names; no conversion is
// needed.

type Store = store.Store
type Run = store.Run
type RunStatus = store.RunStatus
type Source = store.Source
type StoredFunction = store.Function

type Library = library.Library
type FunctionID = library.FunctionID
type LinkError = library.LinkError

type Value = syntax.Value
type ParseError = syntax.ParseError

type Snapshot = trace.Snapshot
type CallStack = trace.CallStack
type RunState = trace.RunState

type Host = interp.Host
type HostFunc = interp.HostFunc
type HostFuncs = interp.HostFuncs
type RuntimeError = interp.RuntimeError

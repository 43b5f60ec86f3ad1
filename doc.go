// Package serpent runs programs written in a small Python-shaped automation
// language and traces every step of every run.
//
// # Pipeline
//
// A program goes through three stages:
//
//  1. Parse: the source is parsed with tree-sitter into a module of
//     functions. Functions decorated with @external have no body; the host
//     supplies them.
//
//  2. Link: every call is resolved to a dense [FunctionID], producing an
//     immutable [Library]. A call to an undeclared name is a [LinkError].
//
//  3. Run: a pass starts at main and walks the program. Each function call,
//     argument, statement and if condition is identified by a [CallStack]
//     and moves forward through the [RunState] values NotRun, Running and
//     then Successful, PredicateSuccessful or Failed. After every change the
//     pass publishes a [Snapshot] to its observers.
//
// # Usage
//
//	e, err := serpent.Open(ctx, "deploy.py",
//		serpent.WithDatabase("serpent.db"),
//		serpent.WithScriptsDir("scripts"),
//	)
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.RunOnce(ctx)   // one pass
//	err = e.Watch(ctx)           // passes every interval until ctx is done
//
// Observers call [Engine.Subscribe] and wait on the returned subscription;
// a slow observer only ever sees the latest snapshot.
//
// # External functions
//
// External functions are resolved through a chain of hosts: hosts given
// with [WithHost], then Risor scripts named <function>.risor in the scripts
// directory, then the builtins print, sleep, fail and log. Scripts receive
// their arguments in the args global and can keep state between passes with
// state_get and state_set when a database is configured.
//
// # Run history
//
// With a database every finished pass is recorded with its outcome and
// final trace. The [QueryBuilder] returned by [Engine.Query] lists runs and
// replays the trace of any recorded run.
package serpent

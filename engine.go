package serpent

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jward/serpent/internal/interp"
	"github.com/jward/serpent/internal/library"
	"github.com/jward/serpent/internal/runtime"
	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/syntax"
	"github.com/jward/serpent/internal/trace"
)

// DefaultInterval is the pause between passes in Watch.
const DefaultInterval = interp.DefaultInterval

// ErrNoStore is returned by history operations on an Engine without a
// database.
var ErrNoStore = errors.New("serpent: no run history configured")

// Engine ties the pipeline together: it parses and links one program,
// runs passes over it, publishes each pass's trace to observers and records
// finished passes in the run history.
type Engine struct {
	path   string
	source []byte
	hash   string

	lib    *library.Library
	interp *interp.Interpreter
	ch     *trace.Channel

	store    *store.Store
	ownStore bool
	dbPath   string
	sourceID int64

	runtime    *runtime.Runtime
	scriptsDir string
	scriptsFS  fs.FS
	hosts      []interp.Host
	output     io.Writer

	interval time.Duration
	maxDepth int
	keepRuns int
	logger   *slog.Logger

	// mu serializes passes.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithDatabase records run history in a SQLite database at dbPath, owned
// and closed by the Engine.
func WithDatabase(dbPath string) Option {
	return func(e *Engine) {
		e.dbPath = dbPath
	}
}

// WithStore records run history in an already open Store. The caller
// keeps ownership.
func WithStore(s *Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithScriptsDir implements External functions with Risor scripts from dir.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS implements External functions with Risor scripts from fsys
// instead of a directory on disk. This enables embedding scripts via
// go:embed.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithHost adds a Host consulted before scripts and builtins. Hosts added
// earlier take precedence.
func WithHost(h Host) Option {
	return func(e *Engine) {
		e.hosts = append(e.hosts, h)
	}
}

// WithOutput sets where the print builtin writes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.output = w
	}
}

// WithInterval sets the pause between passes in Watch.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMaxDepth bounds call nesting within a pass.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		e.maxDepth = n
	}
}

// WithKeepRuns prunes the run history to the newest n runs after each
// recorded pass. Zero keeps everything.
func WithKeepRuns(n int) Option {
	return func(e *Engine) {
		e.keepRuns = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// Open reads the program at path and creates an Engine for it.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("serpent: read source: %w", err)
	}
	return New(ctx, path, src, opts...)
}

// New parses and links source and creates an Engine for it. path labels
// the source in logs and the run history. Parse and link failures wrap
// *ParseError and *LinkError.
func New(ctx context.Context, path string, source []byte, opts ...Option) (*Engine, error) {
	e := &Engine{
		path:     path,
		source:   source,
		hash:     store.HashSource(source),
		ch:       trace.NewChannel(),
		output:   os.Stdout,
		interval: DefaultInterval,
		maxDepth: interp.DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	mod, err := syntax.Parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("serpent: %s: %w", path, err)
	}
	lib, err := library.Link(mod)
	if err != nil {
		return nil, fmt.Errorf("serpent: %s: %w", path, err)
	}
	e.lib = lib
	for _, id := range lib.Shadowed() {
		fn := lib.Lookup(id)
		e.logger.Warn("function redefined, earlier definition is unreachable",
			slog.String("function", fn.Name), slog.Int("line", fn.Line))
	}
	if _, ok := lib.MainID(); !ok {
		e.logger.Warn("no main function, passes will not run anything", slog.String("source", path))
	}

	if e.dbPath != "" {
		s, err := store.NewStore(e.dbPath)
		if err != nil {
			return nil, fmt.Errorf("serpent: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("serpent: migrate: %w", err)
		}
		e.store = s
		e.ownStore = true
	}

	// Build Runtime with the appropriate script source.
	var rtOpts []runtime.RuntimeOption
	rtOpts = append(rtOpts, runtime.WithLogger(e.logger))
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	if e.store != nil {
		rtOpts = append(rtOpts, runtime.WithStore(e.store))
	}
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)

	hosts := append([]interp.Host{}, e.hosts...)
	if e.scriptsFS != nil || e.scriptsDir != "" {
		hosts = append(hosts, e.runtime)
	}
	hosts = append(hosts, runtime.Builtins(e.output, e.logger))

	e.interp = interp.New(lib,
		interp.WithHost(interp.Chain(hosts...)),
		interp.WithMaxDepth(e.maxDepth),
		interp.WithLogger(e.logger),
	)

	if e.store != nil {
		if !e.ownStore {
			if err := e.store.Migrate(); err != nil {
				return nil, fmt.Errorf("serpent: migrate: %w", err)
			}
		}
		if err := e.registerSource(); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// registerSource records the program and its function catalog.
func (e *Engine) registerSource() error {
	src := &store.Source{
		Path:     e.path,
		Hash:     e.hash,
		Content:  string(e.source),
		LoadedAt: time.Now().UTC(),
	}
	id, err := e.store.UpsertSource(src)
	if err != nil {
		return fmt.Errorf("serpent: register source: %w", err)
	}
	e.sourceID = id

	infos := e.Functions()
	fns := make([]*store.Function, len(infos))
	for i, fi := range infos {
		fns[i] = &store.Function{
			FunctionID: int(fi.ID),
			Name:       fi.Name,
			Params:     fi.Params,
			External:   fi.External,
			Line:       fi.Line,
			Shadowed:   fi.Shadowed,
		}
	}
	if err := e.store.ReplaceFunctions(id, fns); err != nil {
		return fmt.Errorf("serpent: register functions: %w", err)
	}

	if e.ScriptsChanged() {
		e.logger.Info("scripts changed since the last recorded run")
	}
	if err := e.store.SetMetadata("scripts_hash", e.scriptsHash()); err != nil {
		return fmt.Errorf("serpent: %w", err)
	}
	if err := e.store.SetMetadata("source_hash", e.hash); err != nil {
		return fmt.Errorf("serpent: %w", err)
	}
	return nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	if e.store != nil && e.ownStore {
		return e.store.Close()
	}
	return nil
}

// Store returns the underlying Store, or nil without run history.
func (e *Engine) Store() *Store {
	return e.store
}

// Path returns the source label.
func (e *Engine) Path() string {
	return e.path
}

// SourceHash returns the hex sha256 of the program text.
func (e *Engine) SourceHash() string {
	return e.hash
}

// Library returns the linked program.
func (e *Engine) Library() *Library {
	return e.lib
}

// Channel returns the channel each pass publishes its trace to.
func (e *Engine) Channel() *trace.Channel {
	return e.ch
}

// Subscribe returns an independent view of the live trace.
func (e *Engine) Subscribe() *trace.Subscription {
	return e.ch.Subscribe()
}

// Latest returns the most recent snapshot of the current or last pass.
func (e *Engine) Latest() *Snapshot {
	return e.ch.Latest()
}

// Query returns a new QueryBuilder over the run history.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// FunctionInfo describes one linked function.
type FunctionInfo struct {
	ID       FunctionID `json:"id"`
	Name     string     `json:"name"`
	Params   []string   `json:"params"`
	External bool       `json:"external"`
	Line     int        `json:"line"`
	// Shadowed is set on an earlier definition replaced by a later one
	// with the same name.
	Shadowed bool `json:"shadowed"`
	// Expandable reports whether the body contains a call, so a viewer
	// can offer to expand it.
	Expandable bool `json:"expandable"`
	Main       bool `json:"main"`
}

// Functions describes every linked function in id order.
func (e *Engine) Functions() []FunctionInfo {
	shadowed := make(map[FunctionID]bool)
	for _, id := range e.lib.Shadowed() {
		shadowed[id] = true
	}
	mainID, hasMain := e.lib.MainID()

	fns := e.lib.Functions()
	infos := make([]FunctionInfo, len(fns))
	for i, fn := range fns {
		id := FunctionID(i)
		info := FunctionInfo{
			ID:       id,
			Name:     fn.Name,
			Params:   fn.Params,
			External: fn.IsExternal(),
			Line:     fn.Line,
			Shadowed: shadowed[id],
			Main:     hasMain && id == mainID,
		}
		if body, ok := fn.Body.(syntax.Local[FunctionID]); ok {
			info.Expandable = syntax.IsExpandable(body.Statements)
		}
		infos[i] = info
	}
	return infos
}

// Outcome classifies a finished pass.
type Outcome = store.Outcome

const (
	OutcomeSuccess = store.OutcomeSuccess
	OutcomeFailed  = store.OutcomeFailed
	OutcomeSkipped = store.OutcomeSkipped
)

// Result describes one finished pass.
type Result struct {
	// RunID is the run history id, zero without a database.
	RunID      int64
	Outcome    Outcome
	Snapshot   *Snapshot
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is the failure inside the program, if any. It is usually a
	// *RuntimeError.
	Err error
	// Interrupted is set when the pass failed because ctx was cancelled
	// while an External function was waiting on it. Interrupted passes are
	// not recorded in the run history.
	Interrupted bool
}

// RunOnce executes one pass: it resets the published trace, runs the
// program from main, then records the final trace. Failures inside the
// program are reported in Result.Err; the returned error is reserved for
// the Engine's own failures, such as the run history being unwritable.
func (e *Engine) RunOnce(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ch.Reset()
	res := &Result{StartedAt: time.Now().UTC()}
	err := e.interp.Run(ctx, e.ch)
	res.FinishedAt = time.Now().UTC()
	res.Snapshot = e.ch.Latest()
	res.Err = err

	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Interrupted = ctx.Err() != nil && errors.Is(err, ctx.Err())
	case !e.hasMain():
		res.Outcome = OutcomeSkipped
	default:
		res.Outcome = OutcomeSuccess
	}

	if e.store != nil && !res.Interrupted {
		if err := e.record(res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) hasMain() bool {
	_, ok := e.lib.MainID()
	return ok
}

func (e *Engine) record(res *Result) error {
	entries := res.Snapshot.Entries()
	statuses := make([]store.RunStatus, len(entries))
	for i, en := range entries {
		statuses[i] = store.RunStatus{CallStack: en.Stack.Key(), State: en.State.String()}
	}
	run := &store.Run{
		SourceID:   e.sourceID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Outcome:    res.Outcome,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	id, err := e.store.CommitRun(run, statuses)
	if err != nil {
		return fmt.Errorf("serpent: record run: %w", err)
	}
	res.RunID = id

	if e.keepRuns > 0 {
		n, err := e.store.PruneRuns(e.keepRuns)
		if err != nil {
			return fmt.Errorf("serpent: prune runs: %w", err)
		}
		if n > 0 {
			e.logger.Debug("pruned run history", slog.Int("deleted", n))
		}
	}
	return nil
}

// Watch runs passes until ctx is cancelled, pausing for the configured
// interval between them. A pass that fails is logged and the loop goes on;
// a pass is never interrupted by the loop itself. Returns nil on
// cancellation, or the first Engine error.
func (e *Engine) Watch(ctx context.Context) error {
	for {
		res, err := e.RunOnce(ctx)
		if err != nil {
			return err
		}
		if res.Interrupted {
			e.logger.Info("pass interrupted", slog.Any("error", res.Err))
			return nil
		}
		e.logPass(res)

		t := time.NewTimer(e.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (e *Engine) logPass(res *Result) {
	attrs := []any{
		slog.String("outcome", string(res.Outcome)),
		slog.Int("entries", res.Snapshot.Len()),
		slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.RunID != 0 {
		attrs = append(attrs, slog.Int64("run", res.RunID))
	}
	if res.Err != nil {
		e.logger.Error("pass failed", append(attrs, slog.Any("error", res.Err))...)
		return
	}
	e.logger.Info("pass finished", attrs...)
}

// scriptsHash computes a SHA-256 hash of the External function scripts,
// sorted by name. Returns "" when no scripts are configured.
func (e *Engine) scriptsHash() string {
	names, err := e.runtime.Scripts()
	if err != nil || len(names) == 0 {
		return ""
	}
	h := sha256.New()
	for _, name := range names {
		src, err := e.runtime.LoadScript(runtime.ScriptPath(name))
		if err != nil {
			continue
		}
		h.Write([]byte(name))
		h.Write([]byte(src))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ScriptsChanged reports whether the scripts differ from those recorded
// with the run history. Always false without a database.
func (e *Engine) ScriptsChanged() bool {
	if e.store == nil {
		return false
	}
	stored, err := e.store.GetMetadata("scripts_hash")
	if err != nil || stored == "" {
		return false
	}
	return stored != e.scriptsHash()
}

// Scripts lists the External functions implemented by scripts.
func (e *Engine) Scripts() ([]string, error) {
	if e.scriptsFS == nil && e.scriptsDir == "" {
		return nil, nil
	}
	return e.runtime.Scripts()
}

// UnimplementedExternals lists External functions that no script or
// builtin implements. Hosts added with WithHost are opaque and not
// consulted.
func (e *Engine) UnimplementedExternals() ([]string, error) {
	scripts, err := e.Scripts()
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		have[s] = true
	}
	for name := range runtime.Builtins(io.Discard, e.logger) {
		have[name] = true
	}
	var missing []string
	for _, fi := range e.Functions() {
		if fi.External && !fi.Shadowed && !have[fi.Name] {
			missing = append(missing, fi.Name)
		}
	}
	return missing, nil
}

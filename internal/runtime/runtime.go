package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/serpent/internal/interp"
	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/syntax"
)

// ScriptExt is the extension of External function scripts.
const ScriptExt = ".risor"

// Runtime implements External functions with Risor scripts. An External
// function named deploy runs deploy.risor from the scripts directory with
// the call's arguments bound to the args global; the script's final value
// is the call's result.
type Runtime struct {
	store      *store.Store
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// Compile-time check: *Runtime is an interp.Host.
var _ interp.Host = (*Runtime)(nil)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithStore exposes persistent script state backed by s.
func WithStore(s *store.Store) RuntimeOption {
	return func(r *Runtime) {
		r.store = s
	}
}

// WithLogger sets the logger behind the scripts' log global.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime loading scripts from scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ScriptPath returns the script path implementing the named function.
func ScriptPath(name string) string {
	return name + ScriptExt
}

// Call implements interp.Host. A function without a script reports
// interp.ErrUnknownFunction so a Chain can fall through to other hosts.
func (r *Runtime) Call(ctx context.Context, name string, args []syntax.Value) (syntax.Value, error) {
	path := ScriptPath(name)
	src, err := r.LoadScript(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, interp.ErrUnknownFunction)
		}
		return nil, err
	}

	list := make([]object.Object, len(args))
	for i, arg := range args {
		if list[i], err = valueToObject(arg); err != nil {
			return nil, fmt.Errorf("runtime: %s: argument %d: %w", name, i, err)
		}
	}

	result, err := r.eval(ctx, src, path, map[string]any{
		"args": object.NewList(list),
		"name": object.NewString(name),
	})
	if err != nil {
		return nil, err
	}
	v, err := objectToValue(result)
	if err != nil {
		return nil, fmt.Errorf("runtime: %s: result: %w", name, err)
	}
	return v, nil
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals. Useful for testing without script files.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (object.Object, error) {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	if e, ok := result.(*object.Error); ok {
		return nil, fmt.Errorf("runtime: script %s: %w", label, e.Value())
	}
	return result, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{ScriptExt},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{ScriptExt},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on that filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		// For fs.FS, strip any leading path separator so the path is
		// relative within the FS.
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// Scripts lists the function names that have a script, sorted.
func (r *Runtime) Scripts() ([]string, error) {
	var fsys fs.FS = r.fsys
	if fsys == nil {
		if r.scriptsDir == "" {
			return nil, nil
		}
		fsys = os.DirFS(r.scriptsDir)
	}
	matches, err := fs.Glob(fsys, "*"+ScriptExt)
	if err != nil {
		return nil, fmt.Errorf("runtime: listing scripts: %w", err)
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = strings.TrimSuffix(m, ScriptExt)
	}
	return names, nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"log": mustProxy(&logObject{logger: r.logger.With(slog.String("source", "script"))}),
	}

	// Persistent state, only when a Store is configured.
	if r.store != nil {
		globals["state_get"] = makeStateGetFn(r.store)
		globals["state_set"] = makeStateSetFn(r.store)
		globals["state_delete"] = makeStateDeleteFn(r.store)
		globals["runs"] = makeRunsFn(r.store)
		globals["db_query"] = makeDBQueryFn(r.store)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}

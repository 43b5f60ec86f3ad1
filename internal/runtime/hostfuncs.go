package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/serpent/internal/interp"
	"github.com/jward/serpent/internal/syntax"
)

// Builtins returns the External functions implemented in Go. Output of
// print goes to w.
//
//	print(*values)     writes the values space-separated with a newline
//	sleep(seconds)     waits, honoring cancellation
//	fail(message)      fails the call with message
//	log(message)       logs message at info level
func Builtins(w io.Writer, logger *slog.Logger) interp.HostFuncs {
	return interp.HostFuncs{
		"print": func(_ context.Context, args []syntax.Value) (syntax.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = formatValue(a)
			}
			_, err := fmt.Fprintln(w, strings.Join(parts, " "))
			return nil, err
		},
		"sleep": func(ctx context.Context, args []syntax.Value) (syntax.Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("sleep: expected 1 argument, got %d", len(args))
			}
			var d time.Duration
			switch v := args[0].(type) {
			case int64:
				d = time.Duration(v) * time.Second
			case float64:
				d = time.Duration(v * float64(time.Second))
			default:
				return nil, fmt.Errorf("sleep: seconds must be a number, got %T", args[0])
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		"fail": func(_ context.Context, args []syntax.Value) (syntax.Value, error) {
			msg := "fail() called"
			if len(args) > 0 {
				msg = formatValue(args[0])
			}
			return nil, fmt.Errorf("%s", msg)
		},
		"log": func(_ context.Context, args []syntax.Value) (syntax.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = formatValue(a)
			}
			logger.Info(strings.Join(parts, " "), slog.String("source", "builtin"))
			return nil, nil
		},
	}
}

// formatValue renders a value the way the language's print would.
func formatValue(v syntax.Value) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case bool:
		if val {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(val)
	}
}

// valueToObject converts an interpreter value to a Risor object.
func valueToObject(v syntax.Value) (object.Object, error) {
	switch val := v.(type) {
	case nil:
		return object.Nil, nil
	case bool:
		return object.NewBool(val), nil
	case int64:
		return object.NewInt(val), nil
	case float64:
		return object.NewFloat(val), nil
	case string:
		return object.NewString(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// objectToValue converts a Risor object back to an interpreter value. Only
// the scalar types the language has survive the trip.
func objectToValue(obj object.Object) (syntax.Value, error) {
	switch val := obj.(type) {
	case nil:
		return nil, nil
	case *object.NilType:
		return nil, nil
	case *object.Bool:
		return val.Value(), nil
	case *object.Int:
		return val.Value(), nil
	case *object.Float:
		return val.Value(), nil
	case *object.String:
		return val.Value(), nil
	default:
		return nil, fmt.Errorf("unsupported script result type %s", obj.Type())
	}
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}

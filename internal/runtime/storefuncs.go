package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/syntax"
)

// Host functions over the Store. State values are kept as JSON text so
// ints, floats, strings, booleans and nil read back with their types.

// makeStateGetFn creates "state_get".
//
// state_get(key[, default]) → value or default (nil when omitted)
func makeStateGetFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("state_get", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("state_get: expected 1 or 2 arguments, got %d", len(args))
		}
		key, err := toString(args[0])
		if err != nil {
			return object.Errorf("state_get: key: %v", err)
		}
		raw, ok, err := s.GetState(key)
		if err != nil {
			return object.Errorf("state_get: %v", err)
		}
		if !ok {
			if len(args) == 2 {
				return args[1]
			}
			return object.Nil
		}
		v, err := decodeState(raw)
		if err != nil {
			return object.Errorf("state_get: %q: %v", key, err)
		}
		obj, err := valueToObject(v)
		if err != nil {
			return object.Errorf("state_get: %q: %v", key, err)
		}
		return obj
	})
}

// makeStateSetFn creates "state_set".
//
// state_set(key, value) → nil
func makeStateSetFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("state_set", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("state_set", 2, len(args))
		}
		key, err := toString(args[0])
		if err != nil {
			return object.Errorf("state_set: key: %v", err)
		}
		v, err := objectToValue(args[1])
		if err != nil {
			return object.Errorf("state_set: %q: %v", key, err)
		}
		raw, err := encodeState(v)
		if err != nil {
			return object.Errorf("state_set: %q: %v", key, err)
		}
		if err := s.SetState(key, raw); err != nil {
			return object.Errorf("state_set: %v", err)
		}
		return object.Nil
	})
}

// makeStateDeleteFn creates "state_delete".
//
// state_delete(key) → nil
func makeStateDeleteFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("state_delete", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("state_delete", 1, len(args))
		}
		key, err := toString(args[0])
		if err != nil {
			return object.Errorf("state_delete: key: %v", err)
		}
		if err := s.DeleteState(key); err != nil {
			return object.Errorf("state_delete: %v", err)
		}
		return object.Nil
	})
}

// encodeState renders v as JSON. Floats always carry a fraction or an
// exponent so decodeState never reads them back as ints.
func encodeState(v syntax.Value) (string, error) {
	f, ok := v.(float64)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("unsupported float value %v", f)
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".eE") {
		text += ".0"
	}
	return text, nil
}

func decodeState(raw string) (syntax.Value, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case nil, bool, string:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported stored value %T", v)
	}
}

// makeRunsFn creates "runs": recent run history, newest first.
//
// runs(limit) → []map[string]any
func makeRunsFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("runs", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("runs", 1, len(args))
		}
		limit, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("runs: limit: %v", err)
		}
		runs, err := s.Runs(int(limit), 0)
		if err != nil {
			return object.Errorf("runs: %v", err)
		}
		return runsToList(runs)
	})
}

// makeDBQueryFn creates a db_query bridge that executes arbitrary read-only SQL.
// Returns a list of maps (column name → value).
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		// Only allow SELECT statements.
		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		queryArgs := make([]any, 0, len(args)-1)
		for i, arg := range args[1:] {
			v, err := objectToValue(arg)
			if err != nil {
				return object.Errorf("db_query: parameter %d: %v", i+1, err)
			}
			queryArgs = append(queryArgs, v)
		}

		rows, queryErr := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if queryErr != nil {
			return object.Errorf("db_query: %v", queryErr)
		}
		defer rows.Close()

		cols, colErr := rows.Columns()
		if colErr != nil {
			return object.Errorf("db_query: columns: %v", colErr)
		}

		results := []object.Object{}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		return object.NewList(results)
	})
}

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

// runsToList converts runs to a Risor list of maps.
func runsToList(runs []*store.Run) object.Object {
	results := make([]object.Object, 0, len(runs))
	for _, r := range runs {
		results = append(results, object.NewMap(map[string]object.Object{
			"id":          object.NewInt(r.ID),
			"outcome":     object.NewString(string(r.Outcome)),
			"error":       object.NewString(r.Error),
			"entry_count": object.NewInt(int64(r.EntryCount)),
			"started_at":  object.NewString(r.StartedAt.Format("2006-01-02T15:04:05Z07:00")),
			"duration_ms": object.NewInt(r.Duration().Milliseconds()),
		}))
	}
	return object.NewList(results)
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

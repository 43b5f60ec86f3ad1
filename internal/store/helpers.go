package store

import (
	"encoding/json"
	"strings"
)

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// int64sToArgs converts []int64 to []any for use with database/sql.
func int64sToArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// marshalParams converts a parameter list to JSON text for storage.
func marshalParams(params []string) string {
	if len(params) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(params)
	return string(b)
}

// unmarshalParams converts JSON text back to a parameter list.
func unmarshalParams(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var params []string
	_ = json.Unmarshal([]byte(s), &params)
	return params
}

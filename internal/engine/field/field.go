// Package field implements dotted-path lookups into decoded JSON
// response bodies. It is the one place that makes arbitrary
// provider response schemas legible to the rest of the engine.
package field

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract walks path against root, following dotted segments.
// Integer segments index arrays; -1 selects the array's current last
// element. Missing segments yield found=false; extraction never
// fails the request.
func Extract(root gjson.Result, path string) (gjson.Result, bool) {
	if path == "" {
		return gjson.Result{}, false
	}

	current := root
	for _, seg := range strings.Split(path, ".") {
		if current.IsArray() {
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return gjson.Result{}, false
			}
			arr := current.Array()
			if idx == -1 {
				idx = len(arr) - 1
			}
			if idx < 0 || idx >= len(arr) {
				return gjson.Result{}, false
			}
			current = arr[idx]
			continue
		}

		next := current.Get(seg)
		if !next.Exists() {
			return gjson.Result{}, false
		}
		current = next
	}

	return current, true
}

// ExtractString returns the located value as a string. Only the
// String JSON type qualifies; any other type is a mismatch and
// yields found=false.
func ExtractString(root gjson.Result, path string) (string, bool) {
	v, ok := Extract(root, path)
	if !ok || v.Type != gjson.String {
		return "", false
	}
	return v.String(), true
}

// ExtractNumber returns the located value as a float64. Numeric
// strings are coerced; any other type mismatch yields
// found=false.
func ExtractNumber(root gjson.Result, path string) (float64, bool) {
	v, ok := Extract(root, path)
	if !ok {
		return 0, false
	}
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ExtractInt64 is ExtractNumber truncated to an integer, used for
// token-count fields.
func ExtractInt64(root gjson.Result, path string) (int64, bool) {
	f, ok := ExtractNumber(root, path)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

package graph

import (
	"fmt"
	"reflect"
)

// Reducer merges a node update into the current channel value.
type Reducer func(current, update any) (any, error)

// Channel is a named slot of the state with its merge rule.
type Channel struct {
	Name    string
	Reducer Reducer
	// Default builds the initial value. A nil Default yields nil.
	Default func() any
}

func (c Channel) initial() any {
	if c.Default == nil {
		return nil
	}
	return c.Default()
}

// Replace overwrites the current value.
func Replace(_, update any) (any, error) {
	return update, nil
}

// Append concatenates sequences. A non-sequence update is appended as a single element.
func Append(current, update any) (any, error) {
	cur, err := toSlice(current)
	if err != nil {
		return nil, fmt.Errorf("append: current value: %w", err)
	}
	if update == nil {
		return cur, nil
	}
	upd, err := toSlice(update)
	if err != nil {
		upd = []any{update}
	}
	out := make([]any, 0, len(cur)+len(upd))
	out = append(out, cur...)
	return append(out, upd...), nil
}

// UnionLatest shallow-merges objects; keys present in the update win.
func UnionLatest(current, update any) (any, error) {
	cur, err := toMap(current)
	if err != nil {
		return nil, fmt.Errorf("union: current value: %w", err)
	}
	upd, err := toMap(update)
	if err != nil {
		return nil, fmt.Errorf("union: update: %w", err)
	}
	out := make(map[string]any, len(cur)+len(upd))
	for k, v := range cur {
		out[k] = v
	}
	for k, v := range upd {
		out[k] = v
	}
	return out, nil
}

func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a sequence, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, nil
}

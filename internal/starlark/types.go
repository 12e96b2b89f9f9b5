// Package starlark provides the Go/Starlark value bridge and the shared
// Starlark values (target, project, relations) exposed to templates.
package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// TargetInfo contains the active adapter and default location.
// Exposed as the "target" global.
type TargetInfo struct {
	Name     string // target name ("dev", "prod")
	Adapter  string // "postgres", "snowflake", ...
	Schema   string // default schema
	Database string // default database
}

// ToStarlark converts TargetInfo to a Starlark struct value.
// "type" is kept as an alias of "adapter".
func (t *TargetInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("target"), starlark.StringDict{
		"name":     starlark.String(t.Name),
		"adapter":  starlark.String(t.Adapter),
		"type":     starlark.String(t.Adapter),
		"schema":   starlark.String(t.Schema),
		"database": starlark.String(t.Database),
	})
}

// ProjectInfo describes the root project. Exposed as the "project" global.
type ProjectInfo struct {
	Name    string
	Version string
	Vars    map[string]any
}

// ToStarlark converts ProjectInfo to a Starlark struct value.
func (p *ProjectInfo) ToStarlark() (starlark.Value, error) {
	vars, err := GoToStarlark(p.Vars)
	if err != nil {
		return nil, fmt.Errorf("project vars: %w", err)
	}
	return starlarkstruct.FromStringDict(starlark.String("project"), starlark.StringDict{
		"name":    starlark.String(p.Name),
		"version": starlark.String(p.Version),
		"vars":    vars,
	}), nil
}

// GoToStarlark converts a Go value to a Starlark value.
// Map keys are inserted in sorted order so iteration is deterministic.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil

	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case uint64:
		return starlark.MakeUint64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return GoToStarlark(m)

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil.
// Relations convert to their rendered string.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		return indexableToGo(val, "list")

	case starlark.Tuple:
		return indexableToGo(val, "tuple")

	case *starlark.Dict:
		result := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", string(key), err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case *Relation:
		return val.String(), nil

	default:
		return nil, fmt.Errorf("cannot convert %s to a Go value", v.Type())
	}
}

func indexableToGo(seq starlark.Indexable, what string) ([]any, error) {
	result := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		gv, err := ToGo(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("%s index %d: %w", what, i, err)
		}
		result[i] = gv
	}
	return result, nil
}

// ToText renders a value as template output: strings are inserted raw and
// None renders as the empty string.
func ToText(v starlark.Value) string {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(val)
	default:
		return v.String()
	}
}

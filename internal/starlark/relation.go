package starlark

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Relation is a database object returned by ref(), source() and "this".
// It renders as database.schema.identifier, omitting empty parts.
type Relation struct {
	Database   string
	Schema     string
	Identifier string
}

var (
	_ starlark.HasAttrs   = (*Relation)(nil)
	_ starlark.Comparable = (*Relation)(nil)
)

// NewRelation creates a relation value.
func NewRelation(database, schema, identifier string) *Relation {
	return &Relation{Database: database, Schema: schema, Identifier: identifier}
}

func (r *Relation) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Database, r.Schema, r.Identifier} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Type implements starlark.Value.
func (r *Relation) Type() string { return "relation" }

// Freeze implements starlark.Value. Relations are immutable.
func (r *Relation) Freeze() {}

// Truth implements starlark.Value.
func (r *Relation) Truth() starlark.Bool { return r.Identifier != "" }

// Hash implements starlark.Value.
func (r *Relation) Hash() (uint32, error) {
	return starlark.String(r.String()).Hash()
}

// CompareSameType implements starlark.Comparable.
func (r *Relation) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*Relation)
	switch op {
	case syntax.EQL:
		return *r == *other, nil
	case syntax.NEQ:
		return *r != *other, nil
	default:
		return false, fmt.Errorf("%s %s %s not implemented", r.Type(), op, y.Type())
	}
}

// Attr implements starlark.HasAttrs.
func (r *Relation) Attr(name string) (starlark.Value, error) {
	switch name {
	case "database":
		return starlark.String(r.Database), nil
	case "schema":
		return starlark.String(r.Schema), nil
	case "identifier", "name":
		return starlark.String(r.Identifier), nil
	case "include":
		return starlark.NewBuiltin("include", r.include), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (r *Relation) AttrNames() []string {
	return []string{"database", "identifier", "include", "name", "schema"}
}

// include returns a copy with parts dropped, e.g. rel.include(database=False).
func (r *Relation) include(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	database, schema, identifier := true, true, true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"database?", &database, "schema?", &schema, "identifier?", &identifier); err != nil {
		return nil, err
	}

	out := &Relation{}
	if database {
		out.Database = r.Database
	}
	if schema {
		out.Schema = r.Schema
	}
	if identifier {
		out.Identifier = r.Identifier
	}
	return out, nil
}

// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/leapstack-labs/sqlweave/internal/cli/output"
)

// ProjectFile is the sqlweave.yaml written by SetupTestProject.
const ProjectFile = `name: shop
version: "1.0"
target:
  type: postgres
  database: warehouse
  schema: analytics
targets:
  prod:
    type: snowflake
    schema: prod
vars:
  start_date: "2024-01-01"
`

// SetupTestProject creates a temporary project with a source, two models
// and a local macro, and returns its root.
func SetupTestProject(t *testing.T) string {
	t.Helper()
	return WriteProject(t, map[string]string{
		"sqlweave.yaml":      ProjectFile,
		"models/sources.yml": "sources:\n  - name: raw\n    tables: [orders]\n",
		"models/staging/stg_orders.sql": `select id, amount from {{ source('raw', 'orders') }}
where created_at >= '{{ var("start_date") }}'`,
		"models/orders.sql": `/*---
materialized: table
---*/
select id, {{ concat(["'#'", "cast(id as text)"]) }} as label, {{ cents('amount') }} as cents
from {{ ref('stg_orders') }}`,
		"macros/money.sql": `{* macro cents(col, scale: int = 2): *}round({{ col }} * 100, {{ scale }}){* endmacro *}`,
	})
}

// WriteProject writes files (slash-separated paths) under a new temporary
// directory and returns it.
func WriteProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and
// TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

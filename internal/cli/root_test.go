package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/sqlweave/internal/cli/commands"
	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/cli/testutil"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, dir string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--project-dir", dir))
	err := cmd.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func TestCompile_Text(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "compile")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "shop.stg_orders")
	assert.Contains(t, res.stdout, "shop.orders table")
	assert.Contains(t, res.stdout, "Compiled 2 models for postgres (dev)")
	testutil.AssertNoANSI(t, res.stdout)
}

func TestCompile_JSON(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "compile", "-o", "json", "--target", "prod")
	require.NoError(t, res.err, res.stderr)

	var out output.CompileOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "snowflake", out.Adapter)
	assert.Equal(t, "prod", out.Target)
	assert.NotEmpty(t, out.InvocationID)
	require.Len(t, out.Models, 2)
	assert.Equal(t, "shop.stg_orders", out.Models[0].ID)
	assert.Equal(t, "shop.orders", out.Models[1].ID)
	assert.Equal(t, []string{"shop.stg_orders"}, out.Models[1].DependsOn)
	assert.Empty(t, out.Diagnostics)
}

func TestCompile_ErrorsExitNonZero(t *testing.T) {
	dir := testutil.WriteProject(t, map[string]string{
		"sqlweave.yaml":  testutil.ProjectFile,
		"models/a.sql":   "select 1",
		"models/bad.sql": "select {{ undefined_thing }}",
	})

	res := execute(t, dir, "compile")
	require.ErrorIs(t, res.err, commands.ErrCompileFailed)
	assert.Contains(t, res.stdout, "shop.a")
	assert.Contains(t, res.stdout, "failed 1: [shop.bad]")
	assert.Contains(t, res.stderr, "error[EvaluationError] shop/models/bad.sql:1:")
}

func TestCompile_RunLevelError(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "compile", "--target", "staging")
	require.Error(t, res.err)
	assert.NotErrorIs(t, res.err, commands.ErrCompileFailed)
	assert.Contains(t, res.err.Error(), `unknown target "staging"`)
}

func TestCompile_StateThenDAG(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	statePath := filepath.Join(t.TempDir(), "state.db")

	res := execute(t, dir, "compile", "--state", statePath)
	require.NoError(t, res.err, res.stderr)

	res = execute(t, dir, "dag", "--state", statePath, "--from-state", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var out output.DAGOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.NotEmpty(t, out.InvocationID)
	assert.Equal(t, 3, out.TotalNodes, "2 models and 1 source")
	assert.Equal(t, 2, out.TotalEdges)
	require.Len(t, out.Levels, 3)
	assert.Equal(t, "source.shop.raw.orders", out.Levels[0].Nodes[0].ID)
	assert.Equal(t, "shop.orders", out.Levels[2].Nodes[0].ID)
}

func TestDAG_FromStateWithoutManifest(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "dag", "--from-state")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no state database configured")
}

func TestDAG_Text(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "dag")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Level 0:")
	assert.Contains(t, res.stdout, "depends on: shop.stg_orders")
	assert.Contains(t, res.stdout, "Total: 3 nodes, 2 dependencies")
}

func TestRender(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "postgres",
			args: []string{"render", "orders"},
			want: []string{"'#' || cast(id as text)", "round(amount * 100, 2)", "from warehouse.analytics.stg_orders"},
		},
		{
			name: "bigquery override",
			args: []string{"render", "shop.orders", "--adapter", "bigquery"},
			want: []string{"concat('#', cast(id as text))"},
		},
		{
			name: "vars",
			args: []string{"render", "stg_orders", "--vars", "{start_date: '2025-06-01'}"},
			want: []string{"'2025-06-01'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, dir, tt.args...)
			require.NoError(t, res.err, res.stderr)
			for _, want := range tt.want {
				assert.Contains(t, res.stdout, want)
			}
		})
	}
}

func TestRender_JSON(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "render", "orders", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var out struct {
		Model  string         `json:"model"`
		SQL    string         `json:"sql"`
		Config map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "shop.orders", out.Model)
	assert.Equal(t, "table", out.Config["materialized"])
}

func TestRender_UnknownModel(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "render", "missing")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), `model "missing" not found`)
}

func TestMacros(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "macros", "--package", "shop", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var rows []output.MacroOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "cents", rows[0].Name)
	assert.Equal(t, "cents(col, scale: int=2)", rows[0].Signature)

	res = execute(t, dir, "macros")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "PACKAGE")
	assert.Contains(t, res.stdout, "snowflake")
	assert.Contains(t, res.stdout, "cents")

	res = execute(t, dir, "macros", "--package", "nope")
	require.Error(t, res.err)
}

func TestResolve(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "resolve", "concat", "--adapter", "redshift", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var out output.ResolveOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "redshift", out.Adapter)
	assert.Equal(t, "shop", out.Calling)
	assert.Equal(t, "sqlweave.default__concat", out.Resolved)
	require.NotEmpty(t, out.Probes)
	assert.Equal(t, "redshift__concat", out.Probes[0].Candidate)
	last := out.Probes[len(out.Probes)-1]
	assert.True(t, last.Found)
	assert.Equal(t, "default__concat", last.Candidate)

	res = execute(t, dir, "resolve", "concat", "--adapter", "snowflake")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "resolved: sqlweave.snowflake__concat")
}

func TestResolve_Unresolved(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	res := execute(t, dir, "resolve", "no_such_macro")
	require.Error(t, res.err)
	assert.True(t, diag.IsKind(res.err, diag.KindUnresolvedMacro))
	assert.Contains(t, res.stdout, "default__no_such_macro")
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "sqlweave v"+Version)
}

package render

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/dispatch"
	"github.com/leapstack-labs/sqlweave/internal/macro"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
	"github.com/leapstack-labs/sqlweave/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPkg struct {
	name  string
	files map[string]string
}

const shopMacros = `{* macro greet(name): *}hello {{ name }}{* endmacro *}
{* macro typed(n: int, label: str = 'n'): *}{{ label }}={{ n }}{* endmacro *}
{* macro add(a, b=10): *}{* return a + b *}{* endmacro *}
{* macro concat(a, b): *}{{ adapter.dispatch('concat')(a, b) }}{* endmacro *}
{* macro default__concat(a, b): *}{{ a }} || {{ b }}{* endmacro *}
{* macro postgres__concat(a, b): *}concat({{ a }}, {{ b }}){* endmacro *}
{* macro outer(): *}{{ inner() }}{* endmacro *}
{* macro inner(): *}{{ missing_value }}{* endmacro *}
{* macro forever(n): *}{{ forever(n + 1) }}{* endmacro *}
`

func shop() testPkg {
	return testPkg{name: "shop", files: map[string]string{"macros/shop.sql": shopMacros}}
}

func utils() testPkg {
	return testPkg{name: "utils", files: map[string]string{
		"macros/star.sql": `{* macro star(cols): *}{{ ', '.join(cols) }}{* endmacro *}`,
	}}
}

type fixture struct {
	r   *Renderer
	cat *catalog.Catalog
}

func newFixture(t *testing.T, adapterName string, mutate func(*Env), pkgs ...testPkg) *fixture {
	t.Helper()

	specs := make([]catalog.PackageSpec, len(pkgs))
	for i, p := range pkgs {
		fsys := fstest.MapFS{"sqlweave.yaml": &fstest.MapFile{Data: []byte("name: " + p.name + "\n")}}
		for path, content := range p.files {
			fsys[path] = &fstest.MapFile{Data: []byte(content)}
		}
		specs[i] = catalog.PackageSpec{Path: p.name, FS: fsys}
	}

	ctx := context.Background()
	cat, err := catalog.Load(ctx, specs, catalog.Options{DisableGlobal: true})
	require.NoError(t, err)
	reg, err := macro.Build(ctx, cat, macro.Options{KnownAdapters: adapter.KnownNames(nil)})
	require.NoError(t, err)

	env := Env{
		Catalog:  cat,
		Registry: reg,
		Resolver: dispatch.New(reg, cat, dispatch.Options{}),
		Identity: adapter.MustResolve(adapterName, nil),
		Target:   &starctx.TargetInfo{Name: "dev", Adapter: adapterName, Schema: "analytics", Database: "warehouse"},
		Project:  &starctx.ProjectInfo{Name: "shop", Version: "1.0"},
		Vars:     map[string]any{"start": "2024-01-01"},
		Logger:   testutil.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&env)
	}

	r, err := New(env)
	require.NoError(t, err)
	return &fixture{r: r, cat: cat}
}

func (f *fixture) render(t *testing.T, src string) (*Result, error) {
	t.Helper()
	tmpl, err := template.ParseString(src, "shop/models/test.sql")
	require.NoError(t, err)
	return f.r.Render(context.Background(), tmpl, Input{Artifact: "shop.test", Package: "shop"})
}

func TestRender_Templates(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"plain text", "SELECT * FROM users", "SELECT * FROM users"},
		{"target", "{{ target.schema }}.{{ target.type }}", "analytics.postgres"},
		{"env and project", "{{ env }}/{{ project.name }}", "dev/shop"},
		{"none renders empty", "a{{ None }}b", "ab"},
		{"integer", "{{ 1 + 2 }}", "3"},
		{"var", "{{ var('start') }}|{{ var('end', 'x') }}", "2024-01-01|x"},
		{"adapter name", "{{ adapter.name }}", "postgres"},
		{"if elif else", "{* if False: *}a{* elif 1 > 0: *}b{* else: *}c{* endif *}", "b"},
		{"for with loop", "{* for c in ['a', 'b', 'c']: *}{{ c }}{* if not loop.last: *},{* endif *}{* endfor *}", "a,b,c"},
		{"for else", "{* for x in []: *}{{ x }}{* else: *}none{* endfor *}", "none"},
		{"for unpack", "{* for k, v in [('a', 1), ('b', 2)]: *}{{ k }}={{ v }};{* endfor *}", "a=1;b=2;"},
		{"set accumulates", "{* set x = 1 *}{* for i in [1, 2]: *}{* set x = x + i *}{* endfor *}{{ x }}", "4"},
		{"comment", "a{# hidden #}b", "ab"},
		{"macro call", "{{ greet('world') }}", "hello world"},
		{"macro kwargs and defaults", "{{ typed(n=3) }} {{ typed(4, label='m') }}", "n=3 m=4"},
		{"macro return value", "{{ add(1, 2) + add(1) }}", "14"},
		{"dispatch", "{{ concat('a', 'b') }}", "concat(a, b)"},
		{"local macro", "{* macro twice(x): *}{{ x }}{{ x }}{* endmacro *}{{ twice('ab') }}", "abab"},
		{"local macros call each other", "{* macro a(): *}A{* endmacro *}{* macro b(): *}{{ a() }}B{* endmacro *}{{ b() }}", "AB"},
		{"local macro calls package macro", "{* macro hi(): *}{{ greet('x') }}!{* endmacro *}{{ hi() }}", "hello x!"},
		{"whitespace control", "a   {{- 'b' -}}   c", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.render(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestRender_DispatchFollowsAdapterChain(t *testing.T) {
	tests := []struct {
		adapter string
		want    string
	}{
		{"postgres", "concat(a, b)"},
		{"redshift", "concat(a, b)"},
		{"snowflake", "a || b"},
	}

	for _, tt := range tests {
		t.Run(tt.adapter, func(t *testing.T) {
			f := newFixture(t, tt.adapter, nil, shop())
			res, err := f.render(t, "{{ concat('a', 'b') }}")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop(), utils())

	tests := []struct {
		name     string
		src      string
		wantKind diag.Kind
		wantMsg  string
	}{
		{"undefined variable", "{{ nope }}", diag.KindEvaluation, `undefined variable "nope"`},
		{"missing argument", "{{ greet() }}", diag.KindEvaluation, `macro "greet" missing required argument "name"`},
		{"too many arguments", "{{ greet('a', 'b') }}", diag.KindEvaluation, `macro "greet" takes at most 1 argument(s) (2 given)`},
		{"unknown keyword", "{{ greet(nam='a') }}", diag.KindEvaluation, `macro "greet" got an unexpected keyword argument "nam"`},
		{"duplicate argument", "{{ greet('a', name='b') }}", diag.KindEvaluation, `macro "greet" got multiple values for argument "name"`},
		{"type mismatch", "{{ typed('x') }}", diag.KindEvaluation, `macro "typed" argument "n": expected int, got string`},
		{"missing var", "{{ var('nope') }}", diag.KindEvaluation, `required variable "nope" is not set`},
		{"compiler error", "{{ exceptions.raise_compiler_error('boom') }}", diag.KindEvaluation, "boom"},
		{"unresolved dispatch", "{{ adapter.dispatch('bar')() }}", diag.KindUnresolvedMacro, ""},
		{"return outside macro", "{* return 1 *}", diag.KindEvaluation, "return outside of a macro"},
		{"not iterable", "{* for x in 3: *}{* endfor *}", diag.KindEvaluation, "cannot iterate over int"},
		{"other package not visible by bare name", "{{ star(['a']) }}", diag.KindEvaluation, `undefined variable "star"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.render(t, tt.src)
			require.Error(t, err)
			de, ok := diag.As(err)
			require.True(t, ok, "got %T: %v", err, err)
			assert.Equal(t, tt.wantKind, de.Kind)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, de.Message)
			}
			assert.Equal(t, "shop/models/test.sql", de.Span.File)
			assert.Equal(t, "shop.test", de.Artifact)
		})
	}
}

func TestRender_UnresolvedDispatchNamesAdapter(t *testing.T) {
	f := newFixture(t, "redshift", nil, shop())

	_, err := f.render(t, "select\n  {{ adapter.dispatch('bar')() }}")
	de, ok := diag.As(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindUnresolvedMacro, de.Kind)
	assert.Equal(t, "bar", de.Macro)
	assert.Equal(t, "redshift", de.Adapter)
	assert.Equal(t, 2, de.Span.Start.Line)

	// The memoized resolver error is not mutated by the render.
	_, err = f.r.env.Resolver.Resolve("bar", "shop", adapter.MustResolve("redshift", nil))
	shared, _ := diag.As(err)
	assert.True(t, shared.Span.IsZero())
}

func TestRender_CallChainInnermostFirst(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())

	_, err := f.render(t, "select {{ outer() }}")
	de, ok := diag.As(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindEvaluation, de.Kind)
	assert.Equal(t, `undefined variable "missing_value"`, de.Message)
	assert.Equal(t, "shop/macros/shop.sql", de.Span.File)
	assert.Equal(t, 8, de.Span.Start.Line)

	require.Len(t, de.Chain, 3)
	assert.Equal(t, "shop.inner", de.Chain[0].Name)
	assert.Equal(t, "shop.outer", de.Chain[1].Name)
	assert.Equal(t, "shop.test", de.Chain[2].Name)

	// inner was called from outer's body, outer from the model.
	assert.Equal(t, 7, de.Chain[0].CallSite.Start.Line)
	assert.Equal(t, "shop/macros/shop.sql", de.Chain[0].CallSite.File)
	assert.Equal(t, "shop/models/test.sql", de.Chain[1].CallSite.File)
	assert.True(t, de.Chain[2].CallSite.IsZero())

	assert.Contains(t, de.Detail(), "called from shop.outer")
}

func TestRender_RecursionLimit(t *testing.T) {
	f := newFixture(t, "postgres", func(e *Env) { e.MaxDepth = 5 }, shop())

	_, err := f.render(t, "{{ forever(0) }}")
	de, ok := diag.As(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindRecursionLimit, de.Kind)
	assert.Equal(t, "shop.forever", de.Macro)
	assert.Len(t, de.Chain, 6)
	assert.Equal(t, diag.SeverityError, de.Severity)
}

func TestRender_MaxSteps(t *testing.T) {
	f := newFixture(t, "postgres", func(e *Env) { e.MaxSteps = 1000 }, shop())

	_, err := f.render(t, "{{ [x for x in range(100000)] }}")
	require.Error(t, err)
	assert.True(t, diag.IsKind(err, diag.KindEvaluation))
	assert.Contains(t, err.Error(), "too many steps")
}

func TestRender_LocalMacrosStayLocal(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())

	_, err := f.render(t, "{* macro missing_value(): *}v{* endmacro *}{{ outer() }}")
	require.Error(t, err)
	assert.True(t, diag.IsKind(err, diag.KindEvaluation))
	assert.Contains(t, err.Error(), `undefined variable "missing_value"`)
}

func TestRender_DispatchThroughLibraryWrapper(t *testing.T) {
	root := testPkg{name: "shop", files: map[string]string{
		"macros/star.sql": `{* macro default__star(cols): *}ROOT{* endmacro *}`,
	}}
	lib := testPkg{name: "utils", files: map[string]string{
		"macros/star.sql": `{* macro star(cols): *}{{ adapter.dispatch('star')(cols) }}{* endmacro *}
{* macro default__star(cols): *}LIB{* endmacro *}`,
	}}
	f := newFixture(t, "postgres", nil, root, lib)

	tests := []struct {
		name string
		pkg  string
		want string
	}{
		{name: "root project overrides library default", pkg: "shop", want: "ROOT"},
		{name: "library model keeps its own default", pkg: "utils", want: "LIB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := tt.pkg + "/models/test.sql"
			tmpl, err := template.ParseString("{{ utils.star(['a']) }}", file)
			require.NoError(t, err)
			res, err := f.r.Render(context.Background(), tmpl, Input{Artifact: tt.pkg + ".test", Package: tt.pkg})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestRender_PackageNamespaces(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop(), utils())

	res, err := f.render(t, "select {{ utils.star(['a', 'b']) }}")
	require.NoError(t, err)
	assert.Equal(t, "select a, b", res.Text)
}

func TestRender_RefsAndSources(t *testing.T) {
	models := registry.NewModelRegistry([]string{"shop"})
	require.NoError(t, models.Register(&registry.Model{
		ID: "shop.orders", Package: "shop", Name: "orders",
		Database: "warehouse", Schema: "analytics", Identifier: "orders_final", Enabled: true,
	}))
	models.RegisterSource(&catalog.SourceTable{Package: "shop", Source: "raw", Name: "users", Schema: "raw", Identifier: "app_users"})

	f := newFixture(t, "postgres", func(e *Env) { e.Models = models }, shop())

	res, err := f.render(t, "select * from {{ ref('orders') }}\njoin {{ source('raw', 'users') }}\njoin {{ ref('shop', 'missing') }}")
	require.NoError(t, err)
	assert.Equal(t, "select * from warehouse.analytics.orders_final\njoin raw.app_users\njoin warehouse.analytics.missing", res.Text)

	require.Len(t, res.Refs, 3)
	assert.Equal(t, RefModel, res.Refs[0].Kind)
	assert.Equal(t, "ref('orders')", res.Refs[0].Target())
	assert.Equal(t, RefSource, res.Refs[1].Kind)
	assert.Equal(t, "source('raw', 'users')", res.Refs[1].Target())
	assert.Equal(t, 2, res.Refs[1].Span.Start.Line)
	assert.Equal(t, "ref('shop', 'missing')", res.Refs[2].Target())
}

func TestRender_Warnings(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())

	res, err := f.render(t, "a{{ exceptions.warn('careful') }}b")
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, diag.KindWarning, res.Warnings[0].Kind)
	assert.Equal(t, "careful", res.Warnings[0].Message)
}

func TestRenderModel_Config(t *testing.T) {
	f := newFixture(t, "postgres", func(e *Env) {
		e.ModelDefaults = map[string]any{"materialized": "view", "tags": []any{"base"}, "owner": "data"}
	}, shop())

	file := &catalog.File{
		Package: "shop",
		Path:    "models/marts/orders.sql",
		Role:    catalog.RoleModel,
		Content: "/*---\nmaterialized: table\ntags: [a]\nmeta:\n  team: x\n---*/\n" +
			"{{ config(schema='marts', meta={'tier': 1}, priority='high') }}select * from {{ this }}",
	}

	art, diags := f.r.RenderModel(context.Background(), file)
	require.Empty(t, diags)
	require.NotNil(t, art)

	assert.Equal(t, "shop.orders", art.ID)
	assert.Equal(t, "orders", art.Name)
	assert.Equal(t, "shop/models/marts/orders.sql", art.File)
	assert.Equal(t, "select * from warehouse.analytics.orders", strings.TrimSpace(art.Text))
	assert.Len(t, art.Hash, 64)

	cfg := art.Config
	assert.Equal(t, "table", cfg.Materialized)
	assert.Equal(t, "marts", cfg.Schema)
	assert.Equal(t, "warehouse", cfg.Database)
	assert.Equal(t, []string{"a"}, cfg.Tags)
	assert.Equal(t, "data", cfg.Owner)
	assert.Equal(t, "orders", cfg.Alias)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, map[string]any{"team": "x", "tier": int64(1)}, cfg.Meta)
	assert.Equal(t, map[string]any{"priority": "high"}, cfg.Extra)
}

func TestRenderModel_Failures(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())

	tests := []struct {
		name     string
		content  string
		wantKind diag.Kind
	}{
		{"syntax error", "select {{ 1 + }}", diag.KindSyntax},
		{"unclosed block", "{* if True: *}x", diag.KindSyntax},
		{"bad frontmatter", "/*---\nbogus: 1\n---*/\nselect 1", diag.KindSyntax},
		{"bad materialization", "{{ config(materialized='table_ish') }}select 1", diag.KindEvaluation},
		{"evaluation error", "select {{ nope }}", diag.KindEvaluation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art, diags := f.r.RenderModel(context.Background(), &catalog.File{
				Package: "shop", Path: "models/broken.sql", Role: catalog.RoleModel, Content: tt.content,
			})
			assert.Nil(t, art)
			require.Len(t, diags, 1)
			assert.Equal(t, tt.wantKind, diags[0].Kind)
			assert.Equal(t, "shop.broken", diags[0].Artifact)
			assert.Equal(t, diag.SeverityError, diags[0].Severity)
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	f := newFixture(t, "postgres", nil, shop())
	src := "{* for k, v in {'b': 2, 'a': 1}.items(): *}{{ k }}{{ v }}{* endfor *}{{ concat('x', 'y') }}"

	first, err := f.render(t, src)
	require.NoError(t, err)
	for range 5 {
		again, err := f.render(t, src)
		require.NoError(t, err)
		assert.Equal(t, first.Text, again.Text)
	}
	assert.Equal(t, "b2a1concat(x, y)", first.Text)
}

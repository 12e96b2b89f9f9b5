package config

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullProject = `
name: shop
version: "1.2"
precedence: 3
macro_paths: [macros, lib/macros]
packages: [utils, audit]
adapters:
  materialize: postgres
vars:
  start_date: "2024-01-01"
  regions: [eu, us]
models:
  materialized: view
target:
  type: redshift
  schema: analytics
targets:
  prod:
    schema: prod_analytics
dispatch:
  - macro_namespace: utils
    search_order: [shop, utils]
`

func TestLoadFS_Full(t *testing.T) {
	fsys := fstest.MapFS{"sqlweave.yaml": {Data: []byte(fullProject)}}

	cfg, err := LoadFS(fsys)
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Name)
	assert.Equal(t, "1.2", cfg.Version)
	require.NotNil(t, cfg.Precedence)
	assert.Equal(t, 3, *cfg.Precedence)
	assert.Equal(t, []string{"macros", "lib/macros"}, cfg.MacroPaths)
	assert.Equal(t, []string{DefaultModelPath}, cfg.ModelPaths)
	assert.Equal(t, DefaultPackagesPath, cfg.PackagesPath)
	assert.Equal(t, []string{"utils", "audit"}, cfg.Packages)
	assert.Equal(t, map[string]string{"materialize": "postgres"}, cfg.Adapters)
	assert.Equal(t, "2024-01-01", cfg.Vars["start_date"])
	assert.Equal(t, "view", cfg.Models["materialized"])
	require.NotNil(t, cfg.Target)
	assert.Equal(t, "redshift", cfg.Target.Type)

	order, ok := cfg.SearchOrder("utils")
	require.True(t, ok)
	assert.Equal(t, []string{"shop", "utils"}, order)
	_, ok = cfg.SearchOrder("audit")
	assert.False(t, ok)
}

func TestLoadFS_Defaults(t *testing.T) {
	fsys := fstest.MapFS{"sqlweave.yml": {Data: []byte("name: tiny\n")}}

	cfg, err := LoadFS(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultMacroPath}, cfg.MacroPaths)
	assert.Equal(t, []string{DefaultModelPath}, cfg.ModelPaths)
	assert.Nil(t, cfg.Precedence)
	assert.Nil(t, cfg.Target)
}

func TestLoadFS_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{"missing name", "version: '1'\n", "project name is required"},
		{"bad name", "name: my-project\n", "invalid project name"},
		{"bad yaml", "name: [oops\n", "error reading"},
		{"unknown adapter", "name: p\ntarget:\n  type: oracle\n", "unknown adapter type"},
		{"empty search order", "name: p\ndispatch:\n  - macro_namespace: x\n", "empty search_order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFS(fstest.MapFS{"sqlweave.yaml": {Data: []byte(tt.content)}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}

	_, err := LoadFS(fstest.MapFS{})
	assert.ErrorIs(t, err, ErrNoProjectFile)
}

func TestTargetConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  TargetConfig
		extra   map[string]string
		wantErr bool
	}{
		{"empty type", TargetConfig{}, nil, true},
		{"builtin", TargetConfig{Type: "postgres"}, nil, false},
		{"case insensitive", TargetConfig{Type: "SnowFlake"}, nil, false},
		{"unknown", TargetConfig{Type: "mysql"}, nil, true},
		{"declared", TargetConfig{Type: "materialize"}, map[string]string{"materialize": "postgres"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate(tt.extra)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	var unk *adapter.UnknownAdapterError
	assert.ErrorAs(t, (&TargetConfig{Type: "mysql"}).Validate(nil), &unk)
}

func TestResolveTarget(t *testing.T) {
	cfg := &ProjectConfig{
		Target:  &TargetConfig{Type: "postgres", Database: "wh"},
		Targets: map[string]TargetConfig{"prod": {Schema: "prod"}, "ci": {Type: "duckdb"}},
	}

	def, err := cfg.ResolveTarget("")
	require.NoError(t, err)
	assert.Equal(t, &TargetConfig{Type: "postgres", Database: "wh", Schema: DefaultSchema}, def)

	prod, err := cfg.ResolveTarget("prod")
	require.NoError(t, err)
	assert.Equal(t, &TargetConfig{Type: "postgres", Database: "wh", Schema: "prod"}, prod)

	ci, err := cfg.ResolveTarget("ci")
	require.NoError(t, err)
	assert.Equal(t, "duckdb", ci.Type)

	_, err = cfg.ResolveTarget("staging")
	assert.ErrorContains(t, err, `unknown target "staging"`)

	bare, err := (&ProjectConfig{}).ResolveTarget("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAdapter, bare.Type)

	info := prod.ToTargetInfo("prod")
	assert.Equal(t, "postgres", info.Adapter)
	assert.Equal(t, "prod", info.Name)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectFileName), []byte("name: p\n"), 0o600))
	nested := filepath.Join(root, "models", "staging")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, root, FindProjectRoot(root))

	cfg, err := LoadFromDir(root)
	require.NoError(t, err)
	assert.Equal(t, "p", cfg.Name)
}

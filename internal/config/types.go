// Package config provides the project file model shared by the catalog,
// the compiler and the CLI. Every package (root or dependency) carries one
// sqlweave.yaml; only the root project's target, vars and dispatch rules
// affect a run.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/adapter"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
)

// TargetConfig holds the adapter and default location for compiled SQL.
// Credentials are out of scope: sqlweave never connects to a database.
type TargetConfig struct {
	Type     string `koanf:"type"` // postgres, snowflake, redshift, ...
	Database string `koanf:"database"`
	Schema   string `koanf:"schema"`
}

// ToTargetInfo converts TargetConfig to the "target" template global.
func (t *TargetConfig) ToTargetInfo(name string) *starctx.TargetInfo {
	return &starctx.TargetInfo{
		Name:     name,
		Adapter:  strings.ToLower(t.Type),
		Schema:   t.Schema,
		Database: t.Database,
	}
}

// Validate checks that the target names a known adapter. extra holds
// project-declared adapters (name -> parent).
func (t *TargetConfig) Validate(extra map[string]string) error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if _, err := adapter.Resolve(t.Type, extra); err != nil {
		return err
	}
	return nil
}

// DispatchRule overrides the package search order used when a macro is
// dispatched with macro_namespace set to MacroNamespace.
type DispatchRule struct {
	MacroNamespace string   `koanf:"macro_namespace"`
	SearchOrder    []string `koanf:"search_order"`
}

// ProjectConfig is the content of a package's sqlweave.yaml.
type ProjectConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`

	// Precedence optionally pins the package's precedence rank. Packages
	// with equal rank form a tie group (see dispatch tie policy).
	Precedence *int `koanf:"precedence"`

	MacroPaths []string `koanf:"macro_paths"`
	ModelPaths []string `koanf:"model_paths"`

	// PackagesPath is where dependency packages are installed, relative to
	// the project root. Packages lists them in installation order.
	PackagesPath string   `koanf:"packages_path"`
	Packages     []string `koanf:"packages"`

	// Adapters declares additional adapter identities: name -> parent.
	Adapters map[string]string `koanf:"adapters"`

	Vars     map[string]any          `koanf:"vars"`
	Models   map[string]any          `koanf:"models"` // model config defaults
	Target   *TargetConfig           `koanf:"target"`
	Targets  map[string]TargetConfig `koanf:"targets"`
	Dispatch []DispatchRule          `koanf:"dispatch"`
}

// SearchOrder returns the dispatch search order configured for namespace.
func (c *ProjectConfig) SearchOrder(namespace string) ([]string, bool) {
	for _, r := range c.Dispatch {
		if r.MacroNamespace == namespace {
			return r.SearchOrder, true
		}
	}
	return nil, false
}

// ResolveTarget picks the named target layered over the default target.
// An empty name selects the default target.
func (c *ProjectConfig) ResolveTarget(name string) (*TargetConfig, error) {
	base := c.Target
	if base == nil {
		base = &TargetConfig{Type: DefaultAdapter}
	}

	resolved := *base
	if name != "" {
		t, ok := c.Targets[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		resolved = *MergeTarget(base, &t)
	}
	if resolved.Schema == "" {
		resolved.Schema = DefaultSchema
	}
	return &resolved, nil
}

// Validate checks the project file for structural errors.
func (c *ProjectConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if !identPattern.MatchString(c.Name) {
		return fmt.Errorf("invalid project name %q: must be a valid identifier", c.Name)
	}
	for _, r := range c.Dispatch {
		if r.MacroNamespace == "" {
			return fmt.Errorf("dispatch rule without macro_namespace")
		}
		if len(r.SearchOrder) == 0 {
			return fmt.Errorf("dispatch rule for %q has an empty search_order", r.MacroNamespace)
		}
	}
	if c.Target != nil {
		if err := c.Target.Validate(c.Adapters); err != nil {
			return fmt.Errorf("invalid target configuration: %w", err)
		}
	}
	return nil
}

// MergeTarget merges two target configs, with override taking precedence.
func MergeTarget(base, override *TargetConfig) *TargetConfig {
	var merged TargetConfig
	if base != nil {
		merged = *base
	}
	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	return &merged
}

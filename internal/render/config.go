package render

import (
	"fmt"
	"maps"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	starctx "github.com/leapstack-labs/sqlweave/internal/starlark"
	"github.com/leapstack-labs/sqlweave/internal/template"
)

// ModelConfig is the resolved configuration of a model. Values merge from
// project defaults, then frontmatter, then config() calls in the body.
type ModelConfig struct {
	Name         string         `mapstructure:"name" json:"name,omitempty"`
	Description  string         `mapstructure:"description" json:"description,omitempty"`
	Materialized string         `mapstructure:"materialized" json:"materialized"`
	UniqueKey    string         `mapstructure:"unique_key" json:"unique_key,omitempty"`
	Owner        string         `mapstructure:"owner" json:"owner,omitempty"`
	Database     string         `mapstructure:"database" json:"database,omitempty"`
	Schema       string         `mapstructure:"schema" json:"schema"`
	Alias        string         `mapstructure:"alias" json:"alias,omitempty"`
	Tags         []string       `mapstructure:"tags" json:"tags,omitempty"`
	Enabled      bool           `mapstructure:"enabled" json:"enabled"`
	Meta         map[string]any `mapstructure:"meta" json:"meta,omitempty"`

	// Extra holds config() keys that are not model fields.
	Extra map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// DefaultMaterialization is used when nothing sets "materialized".
const DefaultMaterialization = "view"

// mergeConfig layers maps left to right; later layers win key by key. The
// "meta" maps are merged rather than replaced.
func mergeConfig(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	meta := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			if k == "meta" {
				if m, ok := v.(map[string]any); ok {
					maps.Copy(meta, m)
					continue
				}
			}
			out[k] = v
		}
	}
	if len(meta) > 0 {
		out["meta"] = meta
	}
	return out
}

// decodeConfig turns a merged map into a ModelConfig, filling defaults from
// the model name and the target schema.
func decodeConfig(raw map[string]any, name, schema, database string) (*ModelConfig, error) {
	cfg := &ModelConfig{
		Materialized: DefaultMaterialization,
		Schema:       schema,
		Database:     database,
		Enabled:      true,
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}

	if !slices.Contains(template.Materializations, cfg.Materialized) {
		return nil, fmt.Errorf("invalid materialized value %q (valid: %v)", cfg.Materialized, template.Materializations)
	}
	if cfg.Alias == "" {
		cfg.Alias = name
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// StaticConfig resolves the part of a model's config known before rendering:
// project defaults overlaid with frontmatter. It decides the model's relation
// and whether it takes part in the run.
func StaticConfig(defaults, frontmatter map[string]any, name string, target *starctx.TargetInfo) (*ModelConfig, error) {
	return decodeConfig(mergeConfig(defaults, frontmatter), name, target.Schema, target.Database)
}

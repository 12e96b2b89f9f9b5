package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	projectcfg "github.com/leapstack-labs/sqlweave/internal/config"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// configKey is used to store the config in context.
type configKey struct{}

// inferProjectRoot determines the project root.
// Priority:
//  1. Explicit --project-dir flag
//  2. Directory of an explicit --config file
//  3. Search upward from CWD for sqlweave.yaml
//  4. Current working directory
func inferProjectRoot(cfgFile string, flags *pflag.FlagSet) string {
	if flags != nil && flags.Changed("project-dir") {
		if dir, _ := flags.GetString("project-dir"); dir != "" {
			if abs, err := filepath.Abs(dir); err == nil {
				return abs
			}
			return filepath.Clean(dir)
		}
	}

	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}

	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return "."
	}
	if root := projectcfg.FindProjectRoot(cwd); root != "" {
		return root
	}
	return cwd
}

// findConfigFile returns the project file in root, or "".
func findConfigFile(root string) string {
	if name, ok := projectcfg.FindProjectFile(os.DirFS(root)); ok {
		return filepath.Join(root, name)
	}
	return ""
}

// LoadConfig loads CLI configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile, flags)

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"threads":    0,
		"tie_policy": DefaultTiePolicy,
		"state_path": "",
		"keep":       DefaultKeep,
		"verbose":    false,
		"output":     DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. The "cli" section of the project file
	if cfgFile == "" {
		cfgFile = findConfigFile(projectRoot)
	}
	if cfgFile != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if err := k.Merge(fk.Cut("cli")); err != nil {
			return nil, fmt.Errorf("error merging config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables: SQLWEAVE_STATE_PATH -> state_path
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectDir = projectRoot
	if cfg.StatePath != "" && !filepath.IsAbs(cfg.StatePath) && !flagChanged(flags, "state") {
		cfg.StatePath = filepath.Join(projectRoot, cfg.StatePath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Lookup(name) != nil && flags.Changed(name)
}

// Validate checks the CLI configuration.
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	if c.Keep < 1 {
		return fmt.Errorf("keep must be >= 1, got %d", c.Keep)
	}
	switch c.OutputFormat {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("unknown output format %q (valid: auto, text, json)", c.OutputFormat)
	}
	return nil
}

// ParseVars decodes the --vars value. YAML is a superset of JSON, so both
// '{start_date: 2024-01-01}' and '{"start_date": "2024-01-01"}' work.
func (c *Config) ParseVars() (map[string]any, error) {
	if strings.TrimSpace(c.Vars) == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := yamlv3.Unmarshal([]byte(c.Vars), &vars); err != nil {
		return nil, fmt.Errorf("invalid --vars: expected a YAML or JSON object: %w", err)
	}
	for name := range vars {
		if !projectcfg.IsIdentifier(name) {
			return nil, fmt.Errorf("invalid --vars: %q is not a valid variable name", name)
		}
	}
	return vars, nil
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from ctx, or defaults rooted at the CWD.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return &Config{
		ProjectDir:   ".",
		TiePolicy:    DefaultTiePolicy,
		Keep:         DefaultKeep,
		OutputFormat: DefaultOutput,
	}
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

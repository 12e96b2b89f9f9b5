package config

import "regexp"

// Default configuration values.
const (
	DefaultMacroPath    = "macros"
	DefaultModelPath    = "models"
	DefaultPackagesPath = "sqlweave_packages"
	DefaultAdapter      = "postgres"
	DefaultSchema       = "public"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is usable as a package or variable name.
func IsIdentifier(s string) bool { return identPattern.MatchString(s) }

// ApplyDefaults fills unset paths.
func (c *ProjectConfig) ApplyDefaults() {
	if len(c.MacroPaths) == 0 {
		c.MacroPaths = []string{DefaultMacroPath}
	}
	if len(c.ModelPaths) == 0 {
		c.ModelPaths = []string{DefaultModelPath}
	}
	if c.PackagesPath == "" {
		c.PackagesPath = DefaultPackagesPath
	}
	if c.Target != nil && c.Target.Schema == "" {
		c.Target.Schema = DefaultSchema
	}
}

// Package config provides configuration management for the sqlweave CLI.
//
// CLI settings live under the "cli" key of the root project's sqlweave.yaml
// and can be overridden by SQLWEAVE_* environment variables and flags. The
// project model itself (targets, vars, dispatch rules) is read by the
// catalog through internal/config.
package config

// Config holds all CLI configuration options.
type Config struct {
	// ProjectDir is the root package directory.
	ProjectDir string `koanf:"project_dir"`
	// Target names an entry of the project's targets map.
	Target string `koanf:"target"`
	// Adapter overrides the adapter type of the selected target.
	Adapter   string `koanf:"adapter"`
	Threads   int    `koanf:"threads"`
	TiePolicy string `koanf:"tie_policy"`
	MaxDepth  int    `koanf:"max_depth"`
	// Vars is a YAML or JSON object layered over the project vars.
	Vars string `koanf:"vars"`

	// StatePath is the manifest database. Empty disables persistence.
	StatePath string `koanf:"state_path"`
	// Keep is how many invocations survive pruning after a save.
	Keep int `koanf:"keep"`

	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
}

// Default configuration values.
const (
	DefaultStateFile = ".sqlweave/state.db"
	DefaultKeep      = 20
	DefaultTiePolicy = "install_order"
	DefaultOutput    = "auto" // TTY=styled text, non-TTY=plain text
)

// EnvPrefix is the prefix of environment variables read by the CLI.
const EnvPrefix = "SQLWEAVE_"

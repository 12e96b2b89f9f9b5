// Package catalog discovers the packages taking part in a compile run and
// classifies their files into macro, model, config and other roles.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"slices"

	"github.com/leapstack-labs/sqlweave/internal/config"
)

// Kind is the role of a package in the run.
type Kind int

// Package kinds.
const (
	KindRoot Kind = iota
	KindDependency
	KindGlobal
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindDependency:
		return "dependency"
	case KindGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Role classifies a file within a package.
type Role int

// File roles.
const (
	RoleOther Role = iota
	RoleMacro
	RoleModel
	RoleConfig
)

func (r Role) String() string {
	switch r {
	case RoleMacro:
		return "macro"
	case RoleModel:
		return "model"
	case RoleConfig:
		return "config"
	default:
		return "other"
	}
}

// File is a classified source file.
type File struct {
	Package string
	// Path is the slash-separated path relative to the package root.
	Path    string
	Role    Role
	Content string
	Hash    string // sha256 of Content
}

// DisplayPath is the path used in spans and diagnostics.
func (f *File) DisplayPath() string {
	return f.Package + "/" + f.Path
}

// Package is a unit of macros and models with a rank in dispatch order.
// Packages are created once per run and never mutated afterwards.
type Package struct {
	Name string
	// Root is the location the package was loaded from (for display only).
	Root string
	FS   fs.FS
	Kind Kind
	// Precedence ranks the package: root 0, dependencies 1..n, global last.
	// Dependencies may pin a rank explicitly; equal ranks form a tie group.
	Precedence int
	// Pinned is set when Precedence came from the project file.
	Pinned bool
	// Order is the installation index (root 0, global last).
	Order  int
	Config *config.ProjectConfig

	MacroFiles  []*File
	ModelFiles  []*File
	ConfigFiles []*File
	OtherFiles  []*File
	Sources     []*SourceTable
}

// Catalog is the set of packages in precedence order.
type Catalog struct {
	packages []*Package
	byName   map[string]*Package
}

// New builds a catalog from packages, ordering them by precedence and then
// installation order.
func New(packages []*Package) *Catalog {
	sorted := slices.Clone(packages)
	slices.SortStableFunc(sorted, func(a, b *Package) int {
		if a.Precedence != b.Precedence {
			return a.Precedence - b.Precedence
		}
		return a.Order - b.Order
	})

	c := &Catalog{packages: sorted, byName: make(map[string]*Package, len(sorted))}
	for _, p := range sorted {
		c.byName[p.Name] = p
	}
	return c
}

// Packages returns all packages in precedence order.
func (c *Catalog) Packages() []*Package { return c.packages }

// Package looks up a package by name.
func (c *Catalog) Package(name string) (*Package, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Root returns the root package.
func (c *Catalog) Root() *Package {
	for _, p := range c.packages {
		if p.Kind == KindRoot {
			return p
		}
	}
	return nil
}

// Names returns package names in precedence order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.packages))
	for i, p := range c.packages {
		names[i] = p.Name
	}
	return names
}

// SearchOrder returns the package scan order for a call made from calling:
// the calling package first, then the rest in precedence order.
func (c *Catalog) SearchOrder(calling string) []*Package {
	out := make([]*Package, 0, len(c.packages))
	if p, ok := c.byName[calling]; ok {
		out = append(out, p)
	}
	for _, p := range c.packages {
		if p.Name != calling {
			out = append(out, p)
		}
	}
	return out
}

// Sources returns every declared source table in package order.
func (c *Catalog) Sources() []*SourceTable {
	var out []*SourceTable
	for _, p := range c.packages {
		out = append(out, p.Sources...)
	}
	return out
}

// Models returns every model file in package order.
func (c *Catalog) Models() []*File {
	var out []*File
	for _, p := range c.packages {
		out = append(out, p.ModelFiles...)
	}
	return out
}

func computeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

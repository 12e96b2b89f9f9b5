package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/sqlweave/internal/config"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"golang.org/x/sync/errgroup"
)

// PackageSpec locates one package. Either Path or FS must be set; FS wins.
type PackageSpec struct {
	Path string
	FS   fs.FS
}

// Options configures discovery.
type Options struct {
	// DisableGlobal omits the built-in global package.
	DisableGlobal bool
	// Global replaces the embedded global package (tests).
	Global fs.FS
	Logger *slog.Logger
}

// Discover loads the root package at root plus its dependencies. When deps
// is nil, dependencies are taken from the root project file's packages list
// under packages_path, in list order.
func Discover(ctx context.Context, root string, deps []PackageSpec, opts Options) (*Catalog, error) {
	if deps == nil {
		cfg, err := loadProject(PackageSpec{Path: root})
		if err != nil {
			return nil, err
		}
		for _, name := range cfg.Packages {
			deps = append(deps, PackageSpec{Path: filepath.Join(root, cfg.PackagesPath, name)})
		}
	}

	specs := append([]PackageSpec{{Path: root}}, deps...)
	return Load(ctx, specs, opts)
}

// Load loads packages from specs. specs[0] is the root package; the rest
// are dependencies in installation order. Per-package scanning runs in
// parallel and is merged after all packages finish.
func Load(ctx context.Context, specs []PackageSpec, opts Options) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(specs) == 0 {
		return nil, diag.NewDiscoveryError("", errors.New("no root package"))
	}

	start := time.Now()
	if !opts.DisableGlobal {
		global := opts.Global
		if global == nil {
			global = GlobalFS()
		}
		specs = append(specs, PackageSpec{Path: "<global>", FS: global})
	}

	packages := make([]*Package, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			kind := KindDependency
			switch {
			case i == 0:
				kind = KindRoot
			case !opts.DisableGlobal && i == len(specs)-1:
				kind = KindGlobal
			}

			pkg, err := loadPackage(gctx, spec, kind, i)
			if err != nil {
				return err
			}
			packages[i] = pkg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := assignPrecedence(packages); err != nil {
		return nil, err
	}

	cat := New(packages)
	for _, p := range cat.Packages() {
		logger.Debug("discovered package",
			"package", p.Name,
			"kind", p.Kind.String(),
			"precedence", p.Precedence,
			"macro_files", len(p.MacroFiles),
			"model_files", len(p.ModelFiles),
			"sources", len(p.Sources))
	}
	logger.Info("discovery completed",
		"packages", len(packages),
		"models_total", len(cat.Models()),
		"duration_ms", time.Since(start).Milliseconds())

	return cat, nil
}

// assignPrecedence ranks packages and rejects duplicate names.
func assignPrecedence(packages []*Package) error {
	seen := make(map[string]*Package, len(packages))
	highest := 0
	for _, p := range packages {
		if prev, ok := seen[p.Name]; ok {
			return diag.NewDiscoveryError(p.Root,
				fmt.Errorf("package name %q is also used by %s", p.Name, prev.Root))
		}
		seen[p.Name] = p

		switch p.Kind {
		case KindRoot:
			p.Precedence = 0
		case KindDependency:
			p.Precedence = p.Order
			if p.Config.Precedence != nil {
				p.Precedence = max(*p.Config.Precedence, 1)
				p.Pinned = true
			}
		}
		if p.Kind != KindGlobal {
			highest = max(highest, p.Precedence)
		}
	}

	for _, p := range packages {
		if p.Kind == KindGlobal {
			p.Precedence = highest + 1
		}
	}
	return nil
}

func loadProject(spec PackageSpec) (*config.ProjectConfig, error) {
	fsys, err := specFS(spec)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFS(fsys)
	if err != nil {
		return nil, diag.NewDiscoveryError(spec.Path, err)
	}
	return cfg, nil
}

func specFS(spec PackageSpec) (fs.FS, error) {
	if spec.FS != nil {
		return spec.FS, nil
	}
	info, err := os.Stat(spec.Path)
	if err != nil {
		return nil, diag.NewDiscoveryError(spec.Path, err)
	}
	if !info.IsDir() {
		return nil, diag.NewDiscoveryError(spec.Path, fmt.Errorf("not a directory"))
	}
	return os.DirFS(spec.Path), nil
}

func loadPackage(ctx context.Context, spec PackageSpec, kind Kind, order int) (*Package, error) {
	fsys, err := specFS(spec)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFS(fsys)
	if err != nil {
		return nil, diag.NewDiscoveryError(spec.Path, err)
	}

	pkg := &Package{
		Name:   cfg.Name,
		Root:   spec.Path,
		FS:     fsys,
		Kind:   kind,
		Order:  order,
		Config: cfg,
	}

	if err := scan(ctx, pkg); err != nil {
		return nil, diag.NewDiscoveryError(spec.Path, err)
	}
	return pkg, nil
}

// scan walks the package and classifies files. Hidden directories and the
// root package's packages_path are skipped.
func scan(ctx context.Context, pkg *Package) error {
	skip := ""
	if pkg.Kind == KindRoot {
		skip = path.Clean(filepath.ToSlash(pkg.Config.PackagesPath))
	}

	var files []*File
	err := fs.WalkDir(pkg.FS, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && (strings.HasPrefix(d.Name(), ".") || p == skip) {
				return fs.SkipDir
			}
			return nil
		}

		role := classify(pkg.Config, p)
		f := &File{Package: pkg.Name, Path: p, Role: role}
		if role != RoleOther {
			content, err := fs.ReadFile(pkg.FS, p)
			if err != nil {
				return err
			}
			f.Content = string(content)
			f.Hash = computeHash(content)
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		switch f.Role {
		case RoleMacro:
			pkg.MacroFiles = append(pkg.MacroFiles, f)
		case RoleModel:
			pkg.ModelFiles = append(pkg.ModelFiles, f)
		case RoleConfig:
			pkg.ConfigFiles = append(pkg.ConfigFiles, f)
			if underAny(pkg.Config.ModelPaths, f.Path) {
				tables, err := parseSources(f)
				if err != nil {
					return fmt.Errorf("%s: %w", f.Path, err)
				}
				pkg.Sources = append(pkg.Sources, tables...)
			}
		default:
			pkg.OtherFiles = append(pkg.OtherFiles, f)
		}
	}
	return nil
}

// classify assigns a role by extension and location.
func classify(cfg *config.ProjectConfig, p string) Role {
	ext := strings.ToLower(path.Ext(p))
	switch {
	case ext == ".yml" || ext == ".yaml":
		return RoleConfig
	case ext != ".sql":
		return RoleOther
	case underAny(cfg.MacroPaths, p):
		return RoleMacro
	case underAny(cfg.ModelPaths, p):
		return RoleModel
	default:
		return RoleOther
	}
}

func underAny(dirs []string, p string) bool {
	for _, d := range dirs {
		d = path.Clean(filepath.ToSlash(d))
		if d == "." || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

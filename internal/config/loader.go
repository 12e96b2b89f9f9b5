package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

// ProjectFileName is the name of the project file.
const ProjectFileName = "sqlweave.yaml"

// ProjectFileNameAlt is the alternate name of the project file.
const ProjectFileNameAlt = "sqlweave.yml"

// ErrNoProjectFile is returned when a package root has no project file.
var ErrNoProjectFile = errors.New("no " + ProjectFileName + " found")

// fsProvider is a koanf.Provider reading a single file from an fs.FS, so
// embedded and in-memory packages load through the same path as disk ones.
type fsProvider struct {
	fsys fs.FS
	path string
}

// FSProvider returns a koanf provider for path within fsys.
func FSProvider(fsys fs.FS, path string) koanf.Provider {
	return &fsProvider{fsys: fsys, path: path}
}

// ReadBytes reads the file contents.
func (p *fsProvider) ReadBytes() ([]byte, error) {
	return fs.ReadFile(p.fsys, p.path)
}

// Read is not supported; the provider requires a parser.
func (p *fsProvider) Read() (map[string]any, error) {
	return nil, errors.New("fs provider does not support this method")
}

// FindProjectFile returns the project file name present at the root of fsys.
func FindProjectFile(fsys fs.FS) (string, bool) {
	for _, name := range []string{ProjectFileName, ProjectFileNameAlt} {
		if info, err := fs.Stat(fsys, name); err == nil && !info.IsDir() {
			return name, true
		}
	}
	return "", false
}

// LoadFS loads a ProjectConfig from the root of fsys.
func LoadFS(fsys fs.FS) (*ProjectConfig, error) {
	name, ok := FindProjectFile(fsys)
	if !ok {
		return nil, ErrNoProjectFile
	}

	k := koanf.New(".")
	if err := k.Load(FSProvider(fsys, name), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return Unmarshal(k)
}

// Unmarshal decodes a loaded koanf instance into a ProjectConfig, applies
// defaults and validates it.
func Unmarshal(k *koanf.Koanf) (*ProjectConfig, error) {
	var cfg ProjectConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode project file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir loads the project file in dir.
func LoadFromDir(dir string) (*ProjectConfig, error) {
	return LoadFS(os.DirFS(dir))
}

// FindProjectRoot walks up from startDir to the first directory containing
// a project file. Returns "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if _, ok := FindProjectFile(os.DirFS(dir)); ok {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

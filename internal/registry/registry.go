// Package registry provides model registration and reference resolution.
// It maps the names used in ref() and source() calls to package-qualified
// models and declared source tables, honouring package precedence when the
// same name exists in more than one package.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/leapstack-labs/sqlweave/internal/catalog"
)

// Model is a model known before rendering, from its file location and
// frontmatter.
type Model struct {
	// ID is "package.name".
	ID      string
	Package string
	Name    string
	File    string

	Database   string
	Schema     string
	Identifier string
	Enabled    bool
}

// ModelID builds the id of model name in package pkg.
func ModelID(pkg, name string) string { return pkg + "." + name }

// ModelRegistry maps ref() and source() arguments to models and sources.
type ModelRegistry struct {
	mu sync.RWMutex

	// rank orders packages for unqualified lookups (lower wins).
	rank map[string]int

	// byID maps "package.name" to the model.
	byID map[string]*Model

	// byName maps unqualified model names to every model with that name.
	byName map[string][]*Model

	// sources maps "source.table" to every declared table with that name.
	sources map[string][]*catalog.SourceTable
}

// NewModelRegistry creates an empty registry. packageOrder is the package
// precedence order used to break ties between equally named models.
func NewModelRegistry(packageOrder []string) *ModelRegistry {
	rank := make(map[string]int, len(packageOrder))
	for i, p := range packageOrder {
		rank[p] = i
	}
	return &ModelRegistry{
		rank:    rank,
		byID:    make(map[string]*Model),
		byName:  make(map[string][]*Model),
		sources: make(map[string][]*catalog.SourceTable),
	}
}

// Register adds a model. Two models with the same name in one package are
// rejected.
func (r *ModelRegistry) Register(model *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[model.ID]; ok {
		return fmt.Errorf("model %q is defined in both %s and %s", model.ID, prev.File, model.File)
	}
	r.byID[model.ID] = model
	r.byName[model.Name] = append(r.byName[model.Name], model)
	return nil
}

// RegisterSource adds a declared source table.
func (r *ModelRegistry) RegisterSource(table *catalog.SourceTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := table.Source + "." + table.Name
	r.sources[key] = append(r.sources[key], table)
}

// Resolve finds the model referenced as ref(pkg, name) from package from.
// With pkg empty the model in from wins, then package precedence order.
func (r *ModelRegistry) Resolve(from, pkg, name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pkg != "" {
		m, ok := r.byID[ModelID(pkg, name)]
		return m, ok
	}

	var best *Model
	for _, m := range r.byName[name] {
		if best == nil || r.better(from, m.Package, best.Package) {
			best = m
		}
	}
	return best, best != nil
}

// ResolveSource finds the table referenced as source(source, table) from
// package from, using the same preference as Resolve.
func (r *ModelRegistry) ResolveSource(from, source, table string) (*catalog.SourceTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *catalog.SourceTable
	for _, t := range r.sources[source+"."+table] {
		if best == nil || r.better(from, t.Package, best.Package) {
			best = t
		}
	}
	return best, best != nil
}

// better reports whether package a is preferred over b for a lookup made
// from package from.
func (r *ModelRegistry) better(from, a, b string) bool {
	if a == from {
		return b != from
	}
	if b == from {
		return false
	}
	ra, oka := r.rank[a]
	rb, okb := r.rank[b]
	switch {
	case oka && okb:
		return ra < rb
	case oka != okb:
		return oka
	default:
		return a < b
	}
}

// GetModel returns the model with the given id.
func (r *ModelRegistry) GetModel(id string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.byID[id]
	return model, ok
}

// AllModels returns all registered models sorted by id.
func (r *ModelRegistry) AllModels() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]*Model, 0, len(r.byID))
	for _, model := range r.byID {
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}

// AllSources returns every declared source table sorted by id.
func (r *ModelRegistry) AllSources() []*catalog.SourceTable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*catalog.SourceTable
	for _, tables := range r.sources {
		out = append(out, tables...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of registered models.
func (r *ModelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

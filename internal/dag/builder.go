package dag

import (
	"slices"
	"sort"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	"github.com/leapstack-labs/sqlweave/internal/render"
)

// BuildInput is everything the builder needs after rendering.
type BuildInput struct {
	// Artifacts are the rendered, enabled models.
	Artifacts []*render.Artifact
	// Failed are ids of models that did not render.
	Failed []string
	Models *registry.ModelRegistry
}

// BuildResult is the outcome of Build.
type BuildResult struct {
	// Graph is the maximal valid subgraph, or nil when the references form
	// a cycle.
	Graph *Graph
	// Invalid lists artifacts with unresolved references.
	Invalid []string
	// Dropped lists valid artifacts removed because something upstream is
	// invalid or failed to render.
	Dropped     []string
	Diagnostics diag.List
}

// Build creates one node per artifact and declared source table, and one
// edge per resolved reference (dependency -> dependent). Unresolved
// references invalidate their artifact but never stop the build. A cycle
// withholds the graph and yields one CyclicDependencyError.
func Build(in BuildInput) *BuildResult {
	res := &BuildResult{}
	g := NewGraph()

	for _, t := range in.Models.AllSources() {
		g.AddNode(t.ID(), t)
	}

	artifacts := slices.Clone(in.Artifacts)
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	for _, a := range artifacts {
		g.AddNode(a.ID, a)
	}

	failed := make(map[string]bool, len(in.Failed))
	for _, id := range in.Failed {
		failed[id] = true
	}

	invalid := make(map[string]bool)
	blocked := make(map[string]bool)
	var selfCycle []string

	for _, a := range artifacts {
		for _, ref := range a.Refs {
			parent, err := resolveRef(g, in.Models, a, ref, failed)
			switch {
			case err != nil:
				res.Diagnostics.Add(err.WithChain(ref.Chain))
				invalid[a.ID] = true
			case parent == "":
				blocked[a.ID] = true
			case parent == a.ID:
				if selfCycle == nil {
					selfCycle = []string{a.ID, a.ID}
				}
			default:
				_ = g.AddEdge(parent, a.ID)
			}
		}
	}

	if selfCycle != nil {
		res.Diagnostics.Add(diag.NewCyclicDependencyError(selfCycle))
		return res
	}
	if hasCycle, path := g.HasCycle(); hasCycle {
		// Report in reference direction: a -> b means a refs b.
		slices.Reverse(path)
		res.Diagnostics.Add(diag.NewCyclicDependencyError(path))
		return res
	}

	var drop []string
	for id := range invalid {
		res.Invalid = append(res.Invalid, id)
		drop = append(drop, id)
	}
	sort.Strings(res.Invalid)
	for id := range blocked {
		if !invalid[id] {
			drop = append(drop, id)
		}
	}

	res.Graph, res.Dropped = g.ValidSubgraph(drop)
	for id := range blocked {
		if !invalid[id] && !slices.Contains(res.Dropped, id) {
			res.Dropped = append(res.Dropped, id)
		}
	}
	sort.Strings(res.Dropped)
	return res
}

// resolveRef returns the node id ref points to. An empty id without error
// means the target exists but failed to render.
func resolveRef(g *Graph, models *registry.ModelRegistry, a *render.Artifact, ref render.RefCall, failed map[string]bool) (string, *diag.Error) {
	if ref.Kind == render.RefSource {
		t, ok := models.ResolveSource(a.Package, ref.Source, ref.Name)
		if !ok {
			return "", diag.NewUnresolvedReferenceError(ref.Span, a.ID, ref.Target())
		}
		return t.ID(), nil
	}

	m, ok := models.Resolve(a.Package, ref.Package, ref.Name)
	if !ok {
		return "", diag.NewUnresolvedReferenceError(ref.Span, a.ID, ref.Target())
	}
	if _, exists := g.GetNode(m.ID); exists {
		return m.ID, nil
	}
	if failed[m.ID] {
		return "", nil
	}
	e := diag.Newf(diag.KindUnresolvedReference, ref.Span, "%s depends on %s which is disabled", a.ID, m.ID)
	e.Artifact = a.ID
	return "", e
}

package engine

import (
	"context"
	"sort"
	"time"

	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/dag"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/registry"
	"github.com/leapstack-labs/sqlweave/internal/render"
	"golang.org/x/sync/errgroup"
)

// Result is the output of one compile.
type Result struct {
	InvocationID string
	Adapter      string
	Target       string
	StartedAt    time.Time
	FinishedAt   time.Time

	// Graph is the maximal valid dependency graph, or nil when the
	// references form a cycle.
	Graph *dag.Graph
	// Artifacts holds every rendered, enabled model sorted by id, including
	// those later marked invalid.
	Artifacts []*render.Artifact
	// Failed lists models that did not render.
	Failed []string
	// Invalid lists models with unresolved references.
	Invalid []string
	// Dropped lists models removed from the graph because of an upstream
	// failure.
	Dropped []string
	// Disabled lists models switched off by their config.
	Disabled []string

	// Diagnostics is sorted by severity, then location.
	Diagnostics diag.List
}

// HasErrors reports whether any diagnostic is an error or worse.
func (r *Result) HasErrors() bool {
	return r.Diagnostics.HasErrors()
}

// Artifact returns the rendered artifact with the given id.
func (r *Result) Artifact(id string) (*render.Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Order returns the artifacts of the graph in execution order. Source
// nodes are skipped.
func (r *Result) Order() ([]*render.Artifact, error) {
	if r.Graph == nil {
		return nil, r.Diagnostics.OfKind(diag.KindCyclicDependency).Err()
	}
	nodes, err := r.Graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	out := make([]*render.Artifact, 0, len(nodes))
	for _, n := range nodes {
		if a, ok := n.Data.(*render.Artifact); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Compile loads the project and compiles it.
func (e *Engine) Compile(ctx context.Context) (*Result, error) {
	p, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	return p.Compile(ctx)
}

type renderSlot struct {
	artifact *render.Artifact
	diags    diag.List
}

// Compile runs phases 2 and 3. Every enabled model renders on a bounded
// worker pool; a failing model never stops its siblings. The error return
// is reserved for cancellation.
func (p *Project) Compile(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		InvocationID: p.Run.InvocationID,
		Adapter:      p.Run.Identity.Name(),
		Target:       p.Run.TargetName,
		StartedAt:    p.Run.StartedAt,
	}

	var files []*catalog.File
	for _, id := range p.ModelIDs() {
		if m, _ := p.Models.GetModel(id); !m.Enabled {
			res.Disabled = append(res.Disabled, id)
			continue
		}
		files = append(files, p.files[id])
	}

	slots := make([]renderSlot, len(files))
	g := new(errgroup.Group)
	g.SetLimit(p.Run.Threads)
	for i, f := range files {
		g.Go(func() error {
			art, diags := p.Renderer.RenderModel(ctx, f)
			slots[i] = renderSlot{artifact: art, diags: diags}
			return ctx.Err()
		})
	}
	// Render failures live in the slots and never stop sibling workers.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, slot := range slots {
		res.Diagnostics.Extend(slot.diags)
		switch {
		case slot.artifact == nil:
			res.Failed = append(res.Failed, renderID(files[i]))
		case !slot.artifact.Config.Enabled:
			res.Disabled = append(res.Disabled, slot.artifact.ID)
		default:
			res.Artifacts = append(res.Artifacts, slot.artifact)
		}
	}

	sort.Strings(res.Disabled)

	built := dag.Build(dag.BuildInput{
		Artifacts: res.Artifacts,
		Failed:    res.Failed,
		Models:    p.Models,
	})
	res.Graph = built.Graph
	res.Invalid = built.Invalid
	res.Dropped = built.Dropped
	res.Diagnostics.Extend(built.Diagnostics)
	res.Diagnostics.Sort()
	res.FinishedAt = time.Now().UTC()

	nodes := 0
	if res.Graph != nil {
		nodes = res.Graph.NodeCount()
	}
	p.logger.Info("compile completed",
		"invocation_id", res.InvocationID,
		"models_total", len(files),
		"rendered", len(res.Artifacts),
		"failed", len(res.Failed),
		"invalid", len(res.Invalid),
		"graph_nodes", nodes,
		"diagnostics", len(res.Diagnostics),
		"duration_ms", time.Since(start).Milliseconds())

	return res, nil
}

func renderID(f *catalog.File) string {
	return registry.ModelID(f.Package, render.ModelName(f.Path))
}

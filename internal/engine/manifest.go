package engine

import (
	"github.com/leapstack-labs/sqlweave/internal/catalog"
	"github.com/leapstack-labs/sqlweave/internal/diag"
	"github.com/leapstack-labs/sqlweave/internal/render"
	"github.com/leapstack-labs/sqlweave/internal/state"
)

// Manifest flattens a compile result for the state store. Only graph nodes
// are recorded; a cyclic compile records no nodes and is marked failed.
func (p *Project) Manifest(res *Result) *state.Manifest {
	m := &state.Manifest{
		Invocation: state.Invocation{
			ID:         res.InvocationID,
			Adapter:    res.Adapter,
			Target:     res.Target,
			Status:     state.StatusSuccess,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
		},
	}

	for _, d := range res.Diagnostics {
		if d.Severity >= diag.SeverityError {
			m.Invocation.ErrorCount++
		}
		m.Diagnostics = append(m.Diagnostics, state.Diagnostic{
			Kind:     d.Kind.String(),
			Severity: d.Severity.String(),
			Message:  d.Message,
			File:     d.Span.File,
			Line:     d.Span.Start.Line,
			Column:   d.Span.Start.Column,
			Artifact: d.Artifact,
		})
	}
	if m.Invocation.ErrorCount > 0 || res.Graph == nil {
		m.Invocation.Status = state.StatusFailed
	}

	for _, d := range p.Macros.Definitions() {
		m.Macros = append(m.Macros, state.Macro{
			Package:   d.Package,
			Name:      d.Name,
			Prefix:    d.Prefix,
			Signature: d.Signature(),
			File:      d.File,
			Line:      d.Span.Start.Line,
		})
	}

	if res.Graph == nil {
		return m
	}
	for _, n := range res.Graph.GetAllNodes() {
		switch data := n.Data.(type) {
		case *render.Artifact:
			materialized := ""
			if data.Config != nil {
				materialized = data.Config.Materialized
			}
			m.Nodes = append(m.Nodes, state.Node{
				ID:           data.ID,
				Package:      data.Package,
				Kind:         state.NodeModel,
				Name:         data.Name,
				File:         data.File,
				Materialized: materialized,
				Hash:         data.Hash,
				Text:         data.Text,
			})
		case *catalog.SourceTable:
			m.Nodes = append(m.Nodes, state.Node{
				ID:      data.ID(),
				Package: data.Package,
				Kind:    state.NodeSource,
				Name:    data.Source + "." + data.Name,
			})
		}
		for _, child := range res.Graph.GetChildren(n.ID) {
			m.Edges = append(m.Edges, state.Edge{Parent: n.ID, Child: child})
		}
	}
	m.Invocation.NodeCount = len(m.Nodes)
	return m
}

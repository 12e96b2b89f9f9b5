package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/cli/output"
	"github.com/leapstack-labs/sqlweave/internal/dag"
	"github.com/spf13/cobra"
)

// DAGOptions holds options for the dag command.
type DAGOptions struct {
	FromState bool
}

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	opts := &DAGOptions{}

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the dependency graph",
		Long: `Display the dependency graph of models and sources.

Nodes are grouped by execution level: every node of a level depends only
on nodes of earlier levels. Models that failed to compile are not part of
the graph.

With --from-state the graph of the last successful compile recorded in
the state database is shown instead of compiling again.`,
		Example: `  # Compile and show the graph
  sqlweave dag

  # Show the last recorded graph
  sqlweave dag --state .sqlweave/state.db --from-state

  # Output as JSON
  sqlweave dag --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.FromState, "from-state", false, "Read the graph from the last recorded compile")

	return cmd
}

func runDAG(cmd *cobra.Command, opts *DAGOptions) error {
	var (
		graph        *dag.Graph
		invocationID string
		r            *output.Renderer
	)

	if opts.FromState {
		cc := NewCommandContextWithoutEngine(cmd)
		r = cc.Renderer
		store, err := openStore(cmd, cc)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		m, err := store.LatestManifest(cmd.Context())
		if err != nil {
			return err
		}
		invocationID = m.Invocation.ID
		graph = dag.NewGraph()
		for _, n := range m.Nodes {
			graph.AddNode(n.ID, n)
		}
		for _, e := range m.Edges {
			if err := graph.AddEdge(e.Parent, e.Child); err != nil {
				return fmt.Errorf("corrupt manifest %s: %w", invocationID, err)
			}
		}
	} else {
		cc, err := NewCommandContext(cmd)
		if err != nil {
			return err
		}
		r = cc.Renderer
		res, err := cc.Engine.Compile(cmd.Context())
		if err != nil {
			return err
		}
		if res.Graph == nil {
			r.Diagnostics(res.Diagnostics)
			return ErrCompileFailed
		}
		graph = res.Graph
		invocationID = res.InvocationID
	}

	levels, err := graph.GetExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(dagJSON(graph, levels, invocationID))
	}
	dagText(r, graph, levels)
	return nil
}

// dagText outputs the graph in styled text format.
func dagText(r *output.Renderer, graph *dag.Graph, levels [][]string) {
	styles := r.Styles()

	r.Header(1, "Dependency Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, id := range level {
			r.Printf("  %s\n", styles.ModelPath.Render(id))
			if deps := graph.GetParents(id); len(deps) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(deps, ", "))
			}
			if children := graph.GetChildren(id); len(children) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(children, ", "))
			}
		}
		r.Println("")
	}

	r.Println(styles.Muted.Render(fmt.Sprintf("Total: %d nodes, %d dependencies", graph.NodeCount(), graph.EdgeCount())))
}

// dagJSON converts the graph to its JSON form.
func dagJSON(graph *dag.Graph, levels [][]string, invocationID string) output.DAGOutput {
	out := output.DAGOutput{
		InvocationID: invocationID,
		Levels:       make([]output.DAGLevel, 0, len(levels)),
		TotalNodes:   graph.NodeCount(),
		TotalEdges:   graph.EdgeCount(),
	}
	for i, level := range levels {
		dl := output.DAGLevel{Level: i, Nodes: make([]output.DAGNode, 0, len(level))}
		for _, id := range level {
			dl.Nodes = append(dl.Nodes, output.DAGNode{
				ID:        id,
				DependsOn: graph.GetParents(id),
				UsedBy:    graph.GetChildren(id),
			})
		}
		out.Levels = append(out.Levels, dl)
	}
	return out
}

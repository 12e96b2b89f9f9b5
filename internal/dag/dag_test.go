package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphOf builds a graph from "dependency>dependent" pairs. Nodes that only
// appear in ids are added without edges.
func graphOf(t *testing.T, ids []string, edges ...string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range ids {
		g.AddNode(id, "data:"+id)
	}
	for _, e := range edges {
		var from, to string
		for i := range e {
			if e[i] == '>' {
				from, to = e[:i], e[i+1:]
				break
			}
		}
		require.NotEmpty(t, from, "malformed edge %q", e)
		g.AddNode(from, "data:"+from)
		g.AddNode(to, "data:"+to)
		require.NoError(t, g.AddEdge(from, to))
	}
	return g
}

func nodeIDs(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode("shop.stg", nil)
	g.AddNode("shop.orders", nil)

	require.NoError(t, g.AddEdge("shop.stg", "shop.orders"))
	require.NoError(t, g.AddEdge("shop.stg", "shop.orders"), "repeated edge")
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())

	tests := []struct {
		name     string
		from, to string
		wantErr  string
	}{
		{name: "unknown dependent", from: "shop.stg", to: "shop.missing", wantErr: `unknown node "shop.missing"`},
		{name: "unknown dependency", from: "shop.missing", to: "shop.stg", wantErr: `unknown node "shop.missing"`},
		{name: "self", from: "shop.stg", to: "shop.stg", wantErr: "cannot depend on itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddEdge(tt.from, tt.to)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, g.EdgeCount())
		})
	}
}

func TestGraph_AddNodeReplacesData(t *testing.T) {
	g := graphOf(t, nil, "a>b")
	g.AddNode("a", "replaced")

	n, ok := g.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, "replaced", n.Data)
	assert.Equal(t, []string{"b"}, g.GetChildren("a"), "edges survive")

	_, ok = g.GetNode("zzz")
	assert.False(t, ok)
}

func TestGraph_Neighbours(t *testing.T) {
	g := graphOf(t, nil, "c>report", "a>report", "b>report", "report>export")

	assert.Equal(t, []string{"a", "b", "c"}, g.GetParents("report"))
	assert.Equal(t, []string{"export"}, g.GetChildren("report"))
	assert.Equal(t, []string{"report"}, g.GetChildren("a"))
	assert.Empty(t, g.GetParents("a"))
	assert.Empty(t, g.GetChildren("missing"))
	assert.Equal(t, []string{"a", "b", "c", "export", "report"}, nodeIDs(g.GetAllNodes()))
}

func TestGraph_HasCycle(t *testing.T) {
	tests := []struct {
		name  string
		edges []string
		want  []string
	}{
		{name: "chain", edges: []string{"a>b", "b>c"}},
		{name: "diamond", edges: []string{"a>b", "a>c", "b>d", "c>d"}},
		{name: "two nodes", edges: []string{"a>b", "b>a"}, want: []string{"a", "b", "a"}},
		{name: "three nodes", edges: []string{"x>y", "y>z", "z>x"}, want: []string{"x", "y", "z", "x"}},
		{name: "cycle behind acyclic prefix", edges: []string{"a>b", "b>c", "c>d", "d>b"}, want: []string{"b", "c", "d", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphOf(t, nil, tt.edges...)
			cyclic, path := g.HasCycle()
			assert.Equal(t, tt.want != nil, cyclic)
			assert.Equal(t, tt.want, path)
		})
	}
}

func TestGraph_HasCycleIsStable(t *testing.T) {
	for range 20 {
		g := graphOf(t, nil, "m>n", "n>o", "o>m", "a>b", "b>a")
		_, path := g.HasCycle()
		assert.Equal(t, []string{"a", "b", "a"}, path)
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges []string
		want  []string
	}{
		{
			name:  "chain",
			edges: []string{"shop.stg>shop.orders", "shop.orders>shop.revenue"},
			want:  []string{"shop.stg", "shop.orders", "shop.revenue"},
		},
		{
			name:  "diamond",
			edges: []string{"a>c", "a>b", "b>d", "c>d"},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name:  "ready nodes by id",
			ids:   []string{"z", "m"},
			edges: []string{"b>a"},
			want:  []string{"b", "a", "m", "z"},
		},
		{
			name:  "late root",
			edges: []string{"y>z", "a>z"},
			want:  []string{"a", "y", "z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := graphOf(t, tt.ids, tt.edges...).TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, nodeIDs(nodes))
			assert.Equal(t, "data:"+tt.want[0], nodes[0].Data)
		})
	}
}

func TestGraph_OrderingRejectsCycles(t *testing.T) {
	g := graphOf(t, []string{"ok"}, "a>b", "b>a")

	_, err := g.TopologicalSort()
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Path)
	assert.Equal(t, "dependency cycle: a -> b -> a", err.Error())

	_, err = g.GetExecutionLevels()
	require.ErrorAs(t, err, &cycle)
}

func TestGraph_GetExecutionLevels(t *testing.T) {
	g := graphOf(t, []string{"lonely"},
		"source.shop.raw.orders>shop.stg_orders",
		"shop.stg_orders>shop.orders",
		"shop.orders>shop.revenue",
		"shop.stg_orders>shop.revenue",
		"utils.calendar>shop.revenue",
	)

	levels, err := g.GetExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"lonely", "source.shop.raw.orders", "utils.calendar"},
		{"shop.stg_orders"},
		{"shop.orders"},
		{"shop.revenue"},
	}, levels)

	empty, err := NewGraph().GetExecutionLevels()
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGraph_ValidSubgraph(t *testing.T) {
	g := graphOf(t, []string{"island"},
		"src>stg",
		"stg>orders",
		"orders>revenue",
		"bad>report",
		"report>export",
		"stg>report",
	)

	valid, dependents := g.ValidSubgraph([]string{"bad", "unknown"})

	assert.Equal(t, []string{"export", "report"}, dependents)
	assert.Equal(t, []string{"island", "orders", "revenue", "src", "stg"}, nodeIDs(valid.GetAllNodes()))
	assert.Equal(t, 3, valid.EdgeCount())
	assert.Equal(t, []string{"orders"}, valid.GetChildren("stg"), "edge into a removed node is dropped")

	n, ok := valid.GetNode("stg")
	require.True(t, ok)
	assert.Equal(t, "data:stg", n.Data)

	assert.Equal(t, 8, g.NodeCount(), "original graph untouched")
}

func TestGraph_ValidSubgraphInvalidDownstreamOfInvalid(t *testing.T) {
	g := graphOf(t, nil, "a>b", "b>c")

	valid, dependents := g.ValidSubgraph([]string{"a", "b"})
	assert.Equal(t, []string{"c"}, dependents)
	assert.Zero(t, valid.NodeCount())
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSemantic(t *testing.T) *Semantic {
	t.Helper()
	g := NewSemantic()
	require.NoError(t, g.AddNode(Node{ID: "auth.go", Kind: NodeFile}))
	require.NoError(t, g.AddNode(Node{ID: "handleLogin", Kind: NodeFunction, File: "auth.go", Line: 24}))
	require.NoError(t, g.AddNode(Node{ID: "validateToken", Kind: NodeFunction, File: "auth.go", Line: 61}))
	require.NoError(t, g.AddNode(Node{ID: "Claims", Kind: NodeType, File: "claims.go", Line: 9}))

	require.NoError(t, g.AddEdge(Edge{From: "auth.go", To: "handleLogin", Kind: EdgeContains}))
	require.NoError(t, g.AddEdge(Edge{From: "handleLogin", To: "validateToken", Kind: EdgeCalls, Weight: 0.9}))
	require.NoError(t, g.AddEdge(Edge{From: "validateToken", To: "Claims", Kind: EdgeReferences, Weight: 0.5}))
	return g
}

func TestAddNodeRequiresID(t *testing.T) {
	g := NewSemantic()
	require.Error(t, g.AddNode(Node{Kind: NodeFunction}))
}

func TestAddEdgeValidates(t *testing.T) {
	g := NewSemantic()
	require.NoError(t, g.AddNode(Node{ID: "a", Kind: NodeFunction}))
	require.NoError(t, g.AddNode(Node{ID: "b", Kind: NodeFunction}))

	require.Error(t, g.AddEdge(Edge{From: "a", To: "missing", Kind: EdgeCalls}))
	require.Error(t, g.AddEdge(Edge{From: "missing", To: "b", Kind: EdgeCalls}))
	require.Error(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls, Weight: 1.5}))
	require.Error(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls, Weight: -0.1}))

	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls}))
	out := g.Outgoing("a")
	require.Len(t, out, 1)
	require.Equal(t, 1.0, out[0].Weight)
}

func TestAddEdgeUpserts(t *testing.T) {
	g := NewSemantic()
	require.NoError(t, g.AddNode(Node{ID: "a", Kind: NodeFunction}))
	require.NoError(t, g.AddNode(Node{ID: "b", Kind: NodeFunction}))

	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls, Weight: 0.4}))
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls, Weight: 0.8}))

	out := g.Outgoing("a")
	require.Len(t, out, 1)
	require.Equal(t, 0.8, out[0].Weight)

	in := g.Incoming("b")
	require.Len(t, in, 1)
	require.Equal(t, 0.8, in[0].Weight)
}

func TestFindRelatedNodesWalksBothDirections(t *testing.T) {
	g := buildSemantic(t)

	related := g.FindRelatedNodes("handleLogin", 1)
	require.Len(t, related, 2)
	require.Equal(t, "auth.go", related[0].Node.ID)
	require.Equal(t, "validateToken", related[1].Node.ID)
	require.Equal(t, 1, related[0].Depth)

	related = g.FindRelatedNodes("handleLogin", 2)
	require.Len(t, related, 3)
	require.Equal(t, "Claims", related[2].Node.ID)
	require.Equal(t, 2, related[2].Depth)
	require.InDelta(t, 0.45, related[2].Weight, 1e-9)
}

func TestFindRelatedNodesUnknownStart(t *testing.T) {
	g := buildSemantic(t)
	require.Nil(t, g.FindRelatedNodes("missing", 2))
}

func TestFindShortestPath(t *testing.T) {
	g := buildSemantic(t)

	path, ok := g.FindShortestPath("handleLogin", "Claims")
	require.True(t, ok)
	require.Equal(t, []string{"handleLogin", "validateToken", "Claims"}, path)

	// Reachability ignores edge direction.
	path, ok = g.FindShortestPath("Claims", "auth.go")
	require.True(t, ok)
	require.Equal(t, []string{"Claims", "validateToken", "handleLogin", "auth.go"}, path)

	path, ok = g.FindShortestPath("Claims", "Claims")
	require.True(t, ok)
	require.Equal(t, []string{"Claims"}, path)

	require.NoError(t, g.AddNode(Node{ID: "orphan", Kind: NodeFunction}))
	_, ok = g.FindShortestPath("handleLogin", "orphan")
	require.False(t, ok)

	_, ok = g.FindShortestPath("handleLogin", "missing")
	require.False(t, ok)
}

func TestFindAndSortCycles(t *testing.T) {
	g := NewSemantic()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, g.AddNode(Node{ID: id, Kind: NodeFunction}))
	}
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeCalls}))
	require.NoError(t, g.AddEdge(Edge{From: "b", To: "c", Kind: EdgeCalls}))
	require.NoError(t, g.AddEdge(Edge{From: "c", To: "a", Kind: EdgeCalls}))
	require.NoError(t, g.AddEdge(Edge{From: "d", To: "d", Kind: EdgeCalls}))

	cycles := g.FindCycles()
	require.Equal(t, [][]string{{"d"}, {"a", "b", "c"}}, cycles)
}

func TestFindCyclesAcyclic(t *testing.T) {
	g := buildSemantic(t)
	require.Empty(t, g.FindCycles())
}

func TestRemoveNodeDropsEdges(t *testing.T) {
	g := buildSemantic(t)
	require.Equal(t, 4, g.Len())

	g.RemoveNode("validateToken")
	require.Equal(t, 3, g.Len())
	require.Empty(t, g.Outgoing("handleLogin"))
	require.Empty(t, g.Incoming("Claims"))

	_, ok := g.FindShortestPath("handleLogin", "Claims")
	require.False(t, ok)

	// Removing an unknown node is a no-op.
	g.RemoveNode("validateToken")
	require.Equal(t, 3, g.Len())
}

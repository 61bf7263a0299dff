// Package graph holds the structural knowledge extracted from a
// project: a semantic graph relating files, types and functions, and a
// call graph built from a language server. Both back relevance ranking
// and display; neither is authoritative about the code itself.
package graph

import (
	"fmt"
	"sort"
	"sync"
)

// NodeKind classifies a semantic graph node.
type NodeKind string

const (
	NodeFunction  NodeKind = "function"
	NodeClass     NodeKind = "class"
	NodeInterface NodeKind = "interface"
	NodeType      NodeKind = "type"
	NodeFile      NodeKind = "file"
)

// EdgeKind labels the relationship an edge expresses.
type EdgeKind string

const (
	EdgeImports      EdgeKind = "imports"
	EdgeExports      EdgeKind = "exports"
	EdgeExtends      EdgeKind = "extends"
	EdgeImplements   EdgeKind = "implements"
	EdgeCalls        EdgeKind = "calls"
	EdgeInstantiates EdgeKind = "instantiates"
	EdgeReferences   EdgeKind = "references"
	EdgeContains     EdgeKind = "contains"
	EdgeRelated      EdgeKind = "related"
)

// Node is one symbol or file in the semantic graph.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Name string   `json:"name,omitempty"`
	File string   `json:"file,omitempty"`
	Line int      `json:"line,omitempty"`
}

// Edge is a directed, weighted relationship between two nodes. Weight
// expresses relevance in [0,1]; the zero value is stored as full
// weight so plain edges need no explicit value.
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Weight float64  `json:"weight"`
}

// Related is a node reachable from the query node, with the hop count
// and the accumulated edge weight of the path that discovered it.
type Related struct {
	Node   Node
	Depth  int
	Weight float64
}

// Semantic indexes nodes with their adjacency and reverse adjacency
// inline, so neighbor lookups in either direction are O(1). Edges are
// upserted by (from, to, kind); insertion order is preserved, which
// keeps traversals deterministic.
type Semantic struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	outgoing map[string][]Edge
	incoming map[string][]Edge
}

// NewSemantic returns an empty semantic graph.
func NewSemantic() *Semantic {
	return &Semantic{
		nodes:    make(map[string]Node),
		outgoing: make(map[string][]Edge),
		incoming: make(map[string][]Edge),
	}
}

// AddNode upserts a node by ID.
func (g *Semantic) AddNode(node Node) error {
	if node.ID == "" {
		return fmt.Errorf("graph: node id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.ID] = node
	return nil
}

// AddEdge upserts the (from, to, kind) edge. Both endpoints must exist
// and the weight must stay in [0,1]; a zero weight defaults to 1.
func (g *Semantic) AddEdge(edge Edge) error {
	if edge.Weight == 0 {
		edge.Weight = 1
	}
	if edge.Weight < 0 || edge.Weight > 1 {
		return fmt.Errorf("graph: edge weight %.3f outside [0,1]", edge.Weight)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[edge.From]; !ok {
		return fmt.Errorf("graph: unknown node %s", edge.From)
	}
	if _, ok := g.nodes[edge.To]; !ok {
		return fmt.Errorf("graph: unknown node %s", edge.To)
	}
	g.outgoing[edge.From] = upsertEdge(g.outgoing[edge.From], edge)
	g.incoming[edge.To] = upsertEdge(g.incoming[edge.To], edge)
	return nil
}

func upsertEdge(edges []Edge, edge Edge) []Edge {
	for i, existing := range edges {
		if existing.From == edge.From && existing.To == edge.To && existing.Kind == edge.Kind {
			edges[i] = edge
			return edges
		}
	}
	return append(edges, edge)
}

// RemoveNode drops a node and every edge touching it.
func (g *Semantic) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return
	}
	for _, edge := range g.outgoing[id] {
		g.incoming[edge.To] = dropEdges(g.incoming[edge.To], id)
	}
	for _, edge := range g.incoming[id] {
		g.outgoing[edge.From] = dropEdges(g.outgoing[edge.From], id)
	}
	delete(g.nodes, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
}

func dropEdges(edges []Edge, id string) []Edge {
	kept := edges[:0]
	for _, edge := range edges {
		if edge.From == id || edge.To == id {
			continue
		}
		kept = append(kept, edge)
	}
	return kept
}

// Node returns the node with the given ID.
func (g *Semantic) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// Outgoing returns the edges leaving id in insertion order.
func (g *Semantic) Outgoing(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.outgoing[id]...)
}

// Incoming returns the edges arriving at id in insertion order.
func (g *Semantic) Incoming(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.incoming[id]...)
}

// Len returns the number of nodes.
func (g *Semantic) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// FindRelatedNodes walks up to maxDepth hops from id in both edge
// directions and returns the nodes it reaches, nearest first. Each
// related node carries the product of edge weights along its discovery
// path. The start node is not included.
func (g *Semantic) FindRelatedNodes(id string, maxDepth int) []Related {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil
	}

	type frontier struct {
		id     string
		depth  int
		weight float64
	}
	seen := map[string]bool{id: true}
	queue := []frontier{{id: id, weight: 1}}
	var related []Related

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth == maxDepth {
			continue
		}
		for _, next := range g.neighborsLocked(current.id) {
			if seen[next.id] {
				continue
			}
			seen[next.id] = true
			hop := frontier{id: next.id, depth: current.depth + 1, weight: current.weight * next.weight}
			related = append(related, Related{Node: g.nodes[next.id], Depth: hop.depth, Weight: hop.weight})
			queue = append(queue, hop)
		}
	}

	sort.SliceStable(related, func(i, j int) bool {
		if related[i].Depth != related[j].Depth {
			return related[i].Depth < related[j].Depth
		}
		if related[i].Weight != related[j].Weight {
			return related[i].Weight > related[j].Weight
		}
		return related[i].Node.ID < related[j].Node.ID
	})
	return related
}

type neighbor struct {
	id     string
	weight float64
}

// neighborsLocked lists distinct neighbors of id in both directions,
// keeping the strongest edge weight per neighbor. Callers hold g.mu.
func (g *Semantic) neighborsLocked(id string) []neighbor {
	var neighbors []neighbor
	index := map[string]int{}
	add := func(nodeID string, weight float64) {
		if i, ok := index[nodeID]; ok {
			if weight > neighbors[i].weight {
				neighbors[i].weight = weight
			}
			return
		}
		index[nodeID] = len(neighbors)
		neighbors = append(neighbors, neighbor{id: nodeID, weight: weight})
	}
	for _, edge := range g.outgoing[id] {
		add(edge.To, edge.Weight)
	}
	for _, edge := range g.incoming[id] {
		add(edge.From, edge.Weight)
	}
	return neighbors
}

// FindShortestPath returns the node IDs of a shortest path between two
// nodes, endpoints included. Edges are treated as undirected for
// reachability. The second return is false when no path exists.
func (g *Semantic) FindShortestPath(from, to string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[from]; !ok {
		return nil, false
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, false
	}
	if from == to {
		return []string{from}, true
	}

	previous := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.neighborsLocked(current) {
			if _, visited := previous[next.id]; visited {
				continue
			}
			previous[next.id] = current
			if next.id == to {
				return assemblePath(previous, from, to), true
			}
			queue = append(queue, next.id)
		}
	}
	return nil, false
}

func assemblePath(previous map[string]string, from, to string) []string {
	var path []string
	for current := to; current != ""; current = previous[current] {
		path = append(path, current)
		if current == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindCycles reports the directed cycles discovered by a depth-first
// walk, each as the list of node IDs along the cycle rotated so the
// smallest ID comes first. Cycles sharing every node are reported once.
func (g *Semantic) FindCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cycles := collectCycles(ids, func(id string) []string {
		edges := g.outgoing[id]
		next := make([]string, 0, len(edges))
		for _, edge := range edges {
			next = append(next, edge.To)
		}
		return next
	})
	sortCycles(cycles)
	return cycles
}

package graph

import (
	"context"
	"fmt"
	"sort"
)

// DefaultMaxFunctions caps how many symbols the call graph builder
// expands through the language server.
const DefaultMaxFunctions = 500

const defaultChainDepth = 3

// Symbol is a callable symbol reported by the language server.
type Symbol struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// ID derives the node key. Symbols without a file (externals) key by
// name alone; project symbols key by file and name.
func (s Symbol) ID() string {
	if s.File == "" {
		return s.Name
	}
	return s.File + ":" + s.Name
}

// Call is one outgoing call reported for a symbol, with the location
// of the call site.
type Call struct {
	Target Symbol `json:"target"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// LanguageServer is the port to the external symbol provider. The
// production adapter talks LSP; tests supply a fake.
type LanguageServer interface {
	// Symbols lists the project's callable symbols.
	Symbols(ctx context.Context) ([]Symbol, error)

	// OutgoingCalls lists the calls made from the body of sym.
	OutgoingCalls(ctx context.Context, sym Symbol) ([]Call, error)
}

// CallEdge is a directed call with its call-site location.
type CallEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// CallNode is one callable symbol with its adjacency kept inline.
type CallNode struct {
	Symbol  Symbol
	Callees []CallEdge
	Callers []CallEdge
}

// Direction selects which way AnalyzeCallChain walks.
type Direction string

const (
	DirectionCallers Direction = "callers"
	DirectionCallees Direction = "callees"
)

// CallChain is the result of walking the call graph from a start
// symbol: Levels[i] holds the symbol IDs exactly i+1 hops away.
type CallChain struct {
	Start     string     `json:"start"`
	Direction Direction  `json:"direction"`
	Levels    [][]string `json:"levels"`
}

// Hotspot is a symbol ranked by connectivity. Incoming calls weigh
// double since being widely called means wider blast radius.
type Hotspot struct {
	ID      string `json:"id"`
	Symbol  Symbol `json:"symbol"`
	Callers int    `json:"callers"`
	Callees int    `json:"callees"`
	Score   int    `json:"score"`
}

// CallGraph holds the resolved call structure of a project. It is
// built once and then read-only, so queries need no locking.
type CallGraph struct {
	nodes map[string]*CallNode
}

// BuildCallGraph queries the language server for every symbol's
// outgoing calls and assembles the graph. At most maxFunctions symbols
// are expanded (DefaultMaxFunctions when zero or negative); call
// targets outside that set still appear as leaf nodes. A symbol whose
// call lookup fails is kept without callees.
func BuildCallGraph(ctx context.Context, server LanguageServer, maxFunctions int) (*CallGraph, error) {
	if server == nil {
		return nil, fmt.Errorf("graph: language server is required")
	}
	if maxFunctions <= 0 {
		maxFunctions = DefaultMaxFunctions
	}

	symbols, err := server.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	if len(symbols) > maxFunctions {
		symbols = symbols[:maxFunctions]
	}

	graph := &CallGraph{nodes: make(map[string]*CallNode, len(symbols))}
	for _, sym := range symbols {
		graph.ensure(sym)
	}

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		calls, err := server.OutgoingCalls(ctx, sym)
		if err != nil {
			continue
		}
		from := graph.nodes[sym.ID()]
		for _, call := range calls {
			to := graph.ensure(call.Target)
			edge := CallEdge{From: sym.ID(), To: call.Target.ID(), File: call.File, Line: call.Line}
			from.Callees = append(from.Callees, edge)
			to.Callers = append(to.Callers, edge)
		}
	}
	return graph, nil
}

func (g *CallGraph) ensure(sym Symbol) *CallNode {
	id := sym.ID()
	if node, ok := g.nodes[id]; ok {
		return node
	}
	node := &CallNode{Symbol: sym}
	g.nodes[id] = node
	return node
}

// Node returns the call node for id.
func (g *CallGraph) Node(id string) (*CallNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Len returns the number of symbols in the graph.
func (g *CallGraph) Len() int {
	return len(g.nodes)
}

// GetCallers returns the edges calling into id.
func (g *CallGraph) GetCallers(id string) []CallEdge {
	if node, ok := g.nodes[id]; ok {
		return append([]CallEdge(nil), node.Callers...)
	}
	return nil
}

// GetCallees returns the edges leaving id.
func (g *CallGraph) GetCallees(id string) []CallEdge {
	if node, ok := g.nodes[id]; ok {
		return append([]CallEdge(nil), node.Callees...)
	}
	return nil
}

// AnalyzeCallChain walks from start following the given direction and
// groups the symbols it reaches by hop count. A depth of zero or less
// defaults to 3.
func (g *CallGraph) AnalyzeCallChain(start string, depth int, direction Direction) (CallChain, error) {
	if _, ok := g.nodes[start]; !ok {
		return CallChain{}, fmt.Errorf("graph: unknown symbol %s", start)
	}
	if direction != DirectionCallers && direction != DirectionCallees {
		return CallChain{}, fmt.Errorf("graph: unknown direction %q", direction)
	}
	if depth <= 0 {
		depth = defaultChainDepth
	}

	chain := CallChain{Start: start, Direction: direction}
	seen := map[string]bool{start: true}
	frontier := []string{start}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var level []string
		for _, id := range frontier {
			for _, next := range g.step(id, direction) {
				if seen[next] {
					continue
				}
				seen[next] = true
				level = append(level, next)
			}
		}
		if len(level) == 0 {
			break
		}
		sort.Strings(level)
		chain.Levels = append(chain.Levels, level)
		frontier = level
	}
	return chain, nil
}

func (g *CallGraph) step(id string, direction Direction) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	if direction == DirectionCallers {
		next := make([]string, 0, len(node.Callers))
		for _, edge := range node.Callers {
			next = append(next, edge.From)
		}
		return next
	}
	next := make([]string, 0, len(node.Callees))
	for _, edge := range node.Callees {
		next = append(next, edge.To)
	}
	return next
}

// FindHotspots returns the limit most-connected symbols, scored as
// callers*2 + callees, ties broken by ID.
func (g *CallGraph) FindHotspots(limit int) []Hotspot {
	if limit <= 0 {
		return nil
	}
	hotspots := make([]Hotspot, 0, len(g.nodes))
	for id, node := range g.nodes {
		spot := Hotspot{
			ID:      id,
			Symbol:  node.Symbol,
			Callers: len(node.Callers),
			Callees: len(node.Callees),
		}
		spot.Score = spot.Callers*2 + spot.Callees
		hotspots = append(hotspots, spot)
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Score != hotspots[j].Score {
			return hotspots[i].Score > hotspots[j].Score
		}
		return hotspots[i].ID < hotspots[j].ID
	})
	if limit > len(hotspots) {
		limit = len(hotspots)
	}
	return hotspots[:limit]
}

// DetectRecursion reports call cycles, direct recursion included, each
// as the IDs along the cycle with the smallest first.
func (g *CallGraph) DetectRecursion() [][]string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cycles := collectCycles(ids, func(id string) []string {
		node := g.nodes[id]
		next := make([]string, 0, len(node.Callees))
		for _, edge := range node.Callees {
			next = append(next, edge.To)
		}
		return next
	})
	sortCycles(cycles)
	return cycles
}

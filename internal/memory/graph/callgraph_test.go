package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	symbols    []Symbol
	calls      map[string][]Call
	symbolsErr error
	callErrs   map[string]error
}

func (f *fakeServer) Symbols(context.Context) ([]Symbol, error) {
	if f.symbolsErr != nil {
		return nil, f.symbolsErr
	}
	return f.symbols, nil
}

func (f *fakeServer) OutgoingCalls(_ context.Context, sym Symbol) ([]Call, error) {
	if err := f.callErrs[sym.ID()]; err != nil {
		return nil, err
	}
	return f.calls[sym.ID()], nil
}

func sym(name string, line int) Symbol {
	return Symbol{Name: name, Kind: "function", File: "app.go", Line: line}
}

func id(name string) string {
	return "app.go:" + name
}

func appServer() *fakeServer {
	main := sym("main", 3)
	run := sym("run", 12)
	parseFlags := sym("parseFlags", 30)
	fetch := sym("fetch", 48)
	render := sym("render", 70)
	format := sym("format", 92)
	logPrintf := Symbol{Name: "log.Printf", Kind: "function"}

	return &fakeServer{
		symbols: []Symbol{main, run, parseFlags, fetch, render, format},
		calls: map[string][]Call{
			id("main"):   {{Target: run, File: "app.go", Line: 5}, {Target: parseFlags, File: "app.go", Line: 4}},
			id("run"):    {{Target: fetch, File: "app.go", Line: 15}, {Target: render, File: "app.go", Line: 18}},
			id("fetch"):  {{Target: format, File: "app.go", Line: 52}, {Target: logPrintf, File: "app.go", Line: 55}},
			id("render"): {{Target: format, File: "app.go", Line: 74}},
		},
	}
}

func TestBuildCallGraph(t *testing.T) {
	ctx := context.Background()
	graph, err := BuildCallGraph(ctx, appServer(), 0)
	require.NoError(t, err)

	// Six project symbols plus the external log.Printf leaf.
	require.Equal(t, 7, graph.Len())

	callees := graph.GetCallees(id("main"))
	require.Len(t, callees, 2)
	require.Equal(t, id("run"), callees[0].To)
	require.Equal(t, 5, callees[0].Line)

	callers := graph.GetCallers(id("fetch"))
	require.Len(t, callers, 1)
	require.Equal(t, id("run"), callers[0].From)

	external, ok := graph.Node("log.Printf")
	require.True(t, ok)
	require.Empty(t, external.Callees)
	require.Len(t, external.Callers, 1)
}

func TestBuildCallGraphCapsSymbols(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 2)
	require.NoError(t, err)

	// Only main and run are expanded; their targets appear as leaves.
	require.Equal(t, 5, graph.Len())
	require.Empty(t, graph.GetCallees(id("fetch")))
	require.Len(t, graph.GetCallees(id("run")), 2)
}

func TestBuildCallGraphSkipsFailedLookups(t *testing.T) {
	server := appServer()
	server.callErrs = map[string]error{id("run"): errors.New("lsp timeout")}

	graph, err := BuildCallGraph(context.Background(), server, 0)
	require.NoError(t, err)
	require.Empty(t, graph.GetCallees(id("run")))
	require.NotEmpty(t, graph.GetCallees(id("main"))) // others unaffected
}

func TestBuildCallGraphSymbolsError(t *testing.T) {
	server := &fakeServer{symbolsErr: errors.New("server down")}
	_, err := BuildCallGraph(context.Background(), server, 0)
	require.Error(t, err)

	_, err = BuildCallGraph(context.Background(), nil, 0)
	require.Error(t, err)
}

func TestAnalyzeCallChainCallees(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 0)
	require.NoError(t, err)

	chain, err := graph.AnalyzeCallChain(id("main"), 2, DirectionCallees)
	require.NoError(t, err)
	require.Equal(t, id("main"), chain.Start)
	require.Len(t, chain.Levels, 2)
	require.Equal(t, []string{id("parseFlags"), id("run")}, chain.Levels[0])
	require.Equal(t, []string{id("fetch"), id("render")}, chain.Levels[1])

	short, err := graph.AnalyzeCallChain(id("main"), 1, DirectionCallees)
	require.NoError(t, err)
	require.Len(t, short.Levels, 1)
}

func TestAnalyzeCallChainCallers(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 0)
	require.NoError(t, err)

	chain, err := graph.AnalyzeCallChain(id("format"), 0, DirectionCallers)
	require.NoError(t, err)
	require.Equal(t, []string{id("fetch"), id("render")}, chain.Levels[0])
	require.Equal(t, []string{id("run")}, chain.Levels[1])
	require.Equal(t, []string{id("main")}, chain.Levels[2])
}

func TestAnalyzeCallChainValidates(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 0)
	require.NoError(t, err)

	_, err = graph.AnalyzeCallChain("missing", 2, DirectionCallees)
	require.Error(t, err)

	_, err = graph.AnalyzeCallChain(id("main"), 2, Direction("sideways"))
	require.Error(t, err)
}

func TestFindHotspotsRanksByConnectivity(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 0)
	require.NoError(t, err)

	hotspots := graph.FindHotspots(3)
	require.Len(t, hotspots, 3)

	// fetch, format and run all score 4; ties break on ID.
	require.Equal(t, id("fetch"), hotspots[0].ID)
	require.Equal(t, 4, hotspots[0].Score)
	require.Equal(t, id("format"), hotspots[1].ID)
	require.Equal(t, 2, hotspots[1].Callers)
	require.Equal(t, id("run"), hotspots[2].ID)

	require.Nil(t, graph.FindHotspots(0))
}

func TestDetectRecursion(t *testing.T) {
	alpha := sym("alpha", 1)
	beta := sym("beta", 10)
	loop := sym("loop", 20)
	server := &fakeServer{
		symbols: []Symbol{alpha, beta, loop},
		calls: map[string][]Call{
			id("alpha"): {{Target: beta, File: "app.go", Line: 3}},
			id("beta"):  {{Target: alpha, File: "app.go", Line: 12}},
			id("loop"):  {{Target: loop, File: "app.go", Line: 22}},
		},
	}

	graph, err := BuildCallGraph(context.Background(), server, 0)
	require.NoError(t, err)

	cycles := graph.DetectRecursion()
	require.Equal(t, [][]string{{id("loop")}, {id("alpha"), id("beta")}}, cycles)
}

func TestDetectRecursionAcyclic(t *testing.T) {
	graph, err := BuildCallGraph(context.Background(), appServer(), 0)
	require.NoError(t, err)
	require.Empty(t, graph.DetectRecursion())
}

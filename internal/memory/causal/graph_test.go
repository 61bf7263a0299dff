package causal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codecoder/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv, "proj-1")
}

// seedChain records one decision with a single graded action.
func seedChain(t *testing.T, store *Store, agent, session string, status OutcomeStatus, at time.Time) (DecisionNode, ActionNode, OutcomeNode) {
	t.Helper()
	ctx := context.Background()
	decision, err := store.AddDecision(ctx, DecisionNode{
		SessionID:  session,
		AgentID:    agent,
		Prompt:     "refactor the loader",
		Confidence: 0.8,
		Timestamp:  at,
	})
	require.NoError(t, err)
	action, err := store.AddAction(ctx, ActionNode{
		DecisionID:  decision.ID,
		Type:        ActionFileOperation,
		Description: "edit config/loader.go",
		Timestamp:   at.Add(time.Second),
	})
	require.NoError(t, err)
	outcome, err := store.AddOutcome(ctx, OutcomeNode{
		ActionID:  action.ID,
		Status:    status,
		Timestamp: at.Add(2 * time.Second),
	})
	require.NoError(t, err)
	return decision, action, outcome
}

func TestAddDecisionValidates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddDecision(ctx, DecisionNode{AgentID: "build"})
	require.Error(t, err)

	_, err = store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Confidence: 1.2})
	require.Error(t, err)

	decision, err := store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Confidence: 0.7})
	require.NoError(t, err)
	require.NotEmpty(t, decision.ID)
	require.False(t, decision.Timestamp.IsZero())
}

func TestAddActionDerivesEdge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddAction(ctx, ActionNode{DecisionID: "missing"})
	require.Error(t, err)

	decision, err := store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Confidence: 0.8})
	require.NoError(t, err)
	action, err := store.AddAction(ctx, ActionNode{DecisionID: decision.ID, Type: ActionSearch})
	require.NoError(t, err)

	data, err := store.load(ctx)
	require.NoError(t, err)
	require.Len(t, data.Edges, 1)
	require.Equal(t, decision.ID, data.Edges[0].Source)
	require.Equal(t, action.ID, data.Edges[0].Target)
	require.Equal(t, RelCauses, data.Edges[0].Relationship)
	require.Equal(t, 0.8, data.Edges[0].Weight)
}

func TestAddOutcomeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, action, outcome := seedChain(t, store, "build", "s1", StatusSuccess, time.Now())

	// Same action and status: no new node.
	again, err := store.AddOutcome(ctx, OutcomeNode{ActionID: action.ID, Status: StatusSuccess})
	require.NoError(t, err)
	require.Equal(t, outcome.ID, again.ID)

	data, err := store.load(ctx)
	require.NoError(t, err)
	require.Len(t, data.Outcomes, 1)
	require.Len(t, data.Edges, 2)

	// A different status updates the outcome and its edge in place.
	updated, err := store.AddOutcome(ctx, OutcomeNode{ActionID: action.ID, Status: StatusFailure, Description: "tests broke"})
	require.NoError(t, err)
	require.Equal(t, outcome.ID, updated.ID)
	require.Equal(t, StatusFailure, updated.Status)

	data, err = store.load(ctx)
	require.NoError(t, err)
	require.Len(t, data.Outcomes, 1)
	for _, edge := range data.Edges {
		if edge.Relationship == RelResultsIn {
			require.Equal(t, 0.0, edge.Weight)
		}
	}
}

func TestAddOutcomeValidates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddOutcome(ctx, OutcomeNode{ActionID: "missing", Status: StatusSuccess})
	require.Error(t, err)

	_, err = store.AddOutcome(ctx, OutcomeNode{ActionID: "a", Status: OutcomeStatus("shrug")})
	require.Error(t, err)
}

func TestGetCausalChainOrdersActions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	decision, err := store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Confidence: 0.8, Timestamp: base})
	require.NoError(t, err)
	second, err := store.AddAction(ctx, ActionNode{DecisionID: decision.ID, Description: "second", Timestamp: base.Add(2 * time.Second)})
	require.NoError(t, err)
	first, err := store.AddAction(ctx, ActionNode{DecisionID: decision.ID, Description: "first", Timestamp: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = store.AddOutcome(ctx, OutcomeNode{ActionID: first.ID, Status: StatusSuccess})
	require.NoError(t, err)

	chain, err := store.GetCausalChain(ctx, decision.ID)
	require.NoError(t, err)
	require.Len(t, chain.Actions, 2)
	require.Equal(t, first.ID, chain.Actions[0].Action.ID)
	require.NotNil(t, chain.Actions[0].Outcome)
	require.Equal(t, second.ID, chain.Actions[1].Action.ID)
	require.Nil(t, chain.Actions[1].Outcome)

	_, err = store.GetCausalChain(ctx, "missing")
	require.Error(t, err)
}

func TestGetCausalChainsForSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	older, _, _ := seedChain(t, store, "build", "s1", StatusSuccess, base)
	newer, _, _ := seedChain(t, store, "build", "s1", StatusFailure, base.Add(time.Hour))
	seedChain(t, store, "plan", "s2", StatusSuccess, base.Add(2*time.Hour))

	chains, err := store.GetCausalChainsForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chains, 2)
	require.Equal(t, older.ID, chains[0].Decision.ID)
	require.Equal(t, newer.ID, chains[1].Decision.ID)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	d1, err := store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Prompt: "fix the parser", Confidence: 0.9, Timestamp: base})
	require.NoError(t, err)
	edit, err := store.AddAction(ctx, ActionNode{DecisionID: d1.ID, Type: ActionFileOperation, Timestamp: base.Add(time.Second)})
	require.NoError(t, err)
	search, err := store.AddAction(ctx, ActionNode{DecisionID: d1.ID, Type: ActionSearch, Timestamp: base.Add(2 * time.Second)})
	require.NoError(t, err)
	_, err = store.AddOutcome(ctx, OutcomeNode{ActionID: edit.ID, Status: StatusSuccess})
	require.NoError(t, err)
	_, err = store.AddOutcome(ctx, OutcomeNode{ActionID: search.ID, Status: StatusFailure})
	require.NoError(t, err)

	d2, err := store.AddDecision(ctx, DecisionNode{SessionID: "s2", AgentID: "plan", Prompt: "outline approach", Confidence: 0.4, Timestamp: base.Add(time.Hour)})
	require.NoError(t, err)
	run, err := store.AddAction(ctx, ActionNode{DecisionID: d2.ID, Type: ActionToolExecution, Timestamp: base.Add(time.Hour + time.Second)})
	require.NoError(t, err)
	_, err = store.AddOutcome(ctx, OutcomeNode{ActionID: run.ID, Status: StatusPartial})
	require.NoError(t, err)

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, d1.ID, all[0].Decision.ID)

	byAgent, err := store.Query(ctx, Filter{AgentID: "plan"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	require.Equal(t, d2.ID, byAgent[0].Decision.ID)

	confident, err := store.Query(ctx, Filter{MinConfidence: 0.8})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	require.Equal(t, d1.ID, confident[0].Decision.ID)

	late, err := store.Query(ctx, Filter{From: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, late, 1)
	require.Equal(t, d2.ID, late[0].Decision.ID)

	early, err := store.Query(ctx, Filter{To: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, early, 1)
	require.Equal(t, d1.ID, early[0].Decision.ID)

	searches, err := store.Query(ctx, Filter{ActionType: ActionSearch})
	require.NoError(t, err)
	require.Len(t, searches, 1)
	require.Len(t, searches[0].Actions, 1)
	require.Equal(t, search.ID, searches[0].Actions[0].Action.ID)

	failed, err := store.Query(ctx, Filter{Status: StatusFailure})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, search.ID, failed[0].Actions[0].Action.ID)

	none, err := store.Query(ctx, Filter{AgentID: "build", Status: StatusPartial})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGetSuccessRate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seedChain(t, store, "build", "s1", StatusSuccess, base)
	seedChain(t, store, "build", "s1", StatusSuccess, base.Add(time.Minute))
	seedChain(t, store, "build", "s2", StatusFailure, base.Add(2*time.Minute))

	rate, err := store.GetSuccessRate(ctx, "build")
	require.NoError(t, err)
	require.InDelta(t, 0.6667, rate, 1e-4)

	// Partial outcomes count half toward the overall rate.
	seedChain(t, store, "plan", "s3", StatusPartial, base.Add(3*time.Minute))
	overall, err := store.GetSuccessRate(ctx, "")
	require.NoError(t, err)
	require.InDelta(t, 0.625, overall, 1e-4)

	missing, err := store.GetSuccessRate(ctx, "ghost")
	require.NoError(t, err)
	require.Zero(t, missing)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	seedChain(t, store, "build", "s1", StatusSuccess, base)
	seedChain(t, store, "plan", "s2", StatusFailure, base.Add(time.Minute))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Decisions)
	require.Equal(t, 2, stats.Actions)
	require.Equal(t, 2, stats.Outcomes)
	require.Equal(t, 2, stats.Sessions)
	require.Equal(t, 2, stats.ByType[ActionFileOperation])
	require.Equal(t, 1, stats.ByStatus[StatusSuccess])
	require.Equal(t, 1, stats.ByStatus[StatusFailure])
	require.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
}

func TestRecentDecisions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "build", Prompt: "first", Confidence: 0.5, Timestamp: base})
	require.NoError(t, err)
	_, err = store.AddDecision(ctx, DecisionNode{SessionID: "s1", AgentID: "plan", Prompt: "second", Confidence: 0.5, Timestamp: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.AddDecision(ctx, DecisionNode{SessionID: "s2", AgentID: "build", Prompt: strings.Repeat("long ", 30), Confidence: 0.5, Timestamp: base.Add(2 * time.Minute)})
	require.NoError(t, err)

	recent, err := store.RecentDecisions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.LessOrEqual(t, len(recent[0].Title), 80)
	require.True(t, strings.HasSuffix(recent[0].Title, "..."))
	require.Equal(t, "build", recent[0].Type)
	require.Equal(t, "second", recent[1].Title)
	require.Equal(t, "plan", recent[1].Type)
}

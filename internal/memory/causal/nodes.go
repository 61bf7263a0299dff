// Package causal records why the agent did what it did: decisions made
// during a turn, the tool actions taken under each decision, and the
// outcomes those actions produced, linked into a weighted graph that
// queries and visualizations read back.
package causal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"codecoder/internal/storage"
)

// ActionType classifies what a tool call did.
type ActionType string

const (
	ActionFileOperation ActionType = "file_operation"
	ActionSearch        ActionType = "search"
	ActionToolExecution ActionType = "tool_execution"
	ActionAPICall       ActionType = "api_call"
	ActionCodeChange    ActionType = "code_change"
	ActionOther         ActionType = "other"
)

// OutcomeStatus grades how an action turned out.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailure OutcomeStatus = "failure"
	StatusPartial OutcomeStatus = "partial"
)

// Relationship labels a causal edge.
type Relationship string

const (
	RelCauses    Relationship = "causes"     // decision → action
	RelResultsIn Relationship = "results_in" // action → outcome
)

// DecisionNode is an explicit decision an agent made during a session.
type DecisionNode struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	AgentID     string    `json:"agentId"`
	Prompt      string    `json:"prompt,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	ContextRefs []string  `json:"contextRefs,omitempty"`
}

// ActionNode is one tool execution taken under a decision.
type ActionNode struct {
	ID          string        `json:"id"`
	DecisionID  string        `json:"decisionId"`
	Type        ActionType    `json:"type"`
	Description string        `json:"description,omitempty"`
	Input       string        `json:"input,omitempty"`
	Output      string        `json:"output,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// OutcomeNode grades an action once its result is known. An action has
// at most one outcome; recording again updates it in place.
type OutcomeNode struct {
	ID          string             `json:"id"`
	ActionID    string             `json:"actionId"`
	Status      OutcomeStatus      `json:"status"`
	Description string             `json:"description,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Feedback    string             `json:"feedback,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// CausalEdge links two nodes. Edges are derived when nodes are
// recorded and never edited directly.
type CausalEdge struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	Relationship Relationship      `json:"relationship"`
	Weight       float64           `json:"weight"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// graphData is the persisted shape: flat node maps plus edge records,
// no object references.
type graphData struct {
	Decisions map[string]DecisionNode `json:"decisions"`
	Actions   map[string]ActionNode   `json:"actions"`
	Outcomes  map[string]OutcomeNode  `json:"outcomes"`
	Edges     []CausalEdge            `json:"edges"`
}

// Store persists one project's causal graph. All mutation goes through
// a read-modify-write of the project blob under the store's mutex, so
// compose exactly one Store per project in a process.
type Store struct {
	store     *storage.Store
	projectID string
	mu        sync.Mutex
}

// NewStore binds the causal graph of projectID to the given storage.
func NewStore(store *storage.Store, projectID string) *Store {
	return &Store{store: store, projectID: projectID}
}

func (s *Store) key() []string {
	return []string{"memory", "causal", s.projectID}
}

func (s *Store) load(ctx context.Context) (graphData, error) {
	var data graphData
	if _, err := s.store.Read(ctx, s.key(), &data); err != nil {
		return graphData{}, fmt.Errorf("load causal graph: %w", err)
	}
	if data.Decisions == nil {
		data.Decisions = make(map[string]DecisionNode)
	}
	if data.Actions == nil {
		data.Actions = make(map[string]ActionNode)
	}
	if data.Outcomes == nil {
		data.Outcomes = make(map[string]OutcomeNode)
	}
	return data, nil
}

func (s *Store) save(ctx context.Context, data graphData) error {
	if err := s.store.Write(ctx, s.key(), data); err != nil {
		return fmt.Errorf("save causal graph: %w", err)
	}
	return nil
}

// AddDecision appends a decision node. SessionID and AgentID are
// required and confidence must stay in [0,1]; a missing ID or
// timestamp is filled in.
func (s *Store) AddDecision(ctx context.Context, decision DecisionNode) (DecisionNode, error) {
	if decision.SessionID == "" || decision.AgentID == "" {
		return DecisionNode{}, fmt.Errorf("causal: decision needs session and agent")
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return DecisionNode{}, fmt.Errorf("causal: confidence %.3f outside [0,1]", decision.Confidence)
	}
	if decision.ID == "" {
		decision.ID = ksuid.New().String()
	}
	if decision.Timestamp.IsZero() {
		decision.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return DecisionNode{}, err
	}
	data.Decisions[decision.ID] = decision
	if err := s.save(ctx, data); err != nil {
		return DecisionNode{}, err
	}
	return decision, nil
}

// AddAction appends an action under an existing decision and derives
// the causes edge, weighted by the decision's confidence.
func (s *Store) AddAction(ctx context.Context, action ActionNode) (ActionNode, error) {
	if action.DecisionID == "" {
		return ActionNode{}, fmt.Errorf("causal: action needs a decision")
	}
	if action.Type == "" {
		action.Type = ActionOther
	}
	if action.ID == "" {
		action.ID = ksuid.New().String()
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return ActionNode{}, err
	}
	decision, ok := data.Decisions[action.DecisionID]
	if !ok {
		return ActionNode{}, fmt.Errorf("causal: unknown decision %s", action.DecisionID)
	}
	data.Actions[action.ID] = action
	data.Edges = append(data.Edges, CausalEdge{
		Source:       decision.ID,
		Target:       action.ID,
		Relationship: RelCauses,
		Weight:       decision.Confidence,
	})
	if err := s.save(ctx, data); err != nil {
		return ActionNode{}, err
	}
	return action, nil
}

// statusWeight maps an outcome status onto its edge weight.
func statusWeight(status OutcomeStatus) float64 {
	switch status {
	case StatusSuccess:
		return 1.0
	case StatusPartial:
		return 0.5
	default:
		return 0.0
	}
}

// AddOutcome records how an action turned out. Recording the same
// action and status again returns the existing outcome unchanged; a
// different status updates the outcome and its edge in place, keeping
// one outcome per action.
func (s *Store) AddOutcome(ctx context.Context, outcome OutcomeNode) (OutcomeNode, error) {
	if outcome.ActionID == "" {
		return OutcomeNode{}, fmt.Errorf("causal: outcome needs an action")
	}
	switch outcome.Status {
	case StatusSuccess, StatusFailure, StatusPartial:
	default:
		return OutcomeNode{}, fmt.Errorf("causal: unknown outcome status %q", outcome.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return OutcomeNode{}, err
	}
	if _, ok := data.Actions[outcome.ActionID]; !ok {
		return OutcomeNode{}, fmt.Errorf("causal: unknown action %s", outcome.ActionID)
	}

	for id, existing := range data.Outcomes {
		if existing.ActionID != outcome.ActionID {
			continue
		}
		if existing.Status == outcome.Status {
			return existing, nil
		}
		existing.Status = outcome.Status
		if outcome.Description != "" {
			existing.Description = outcome.Description
		}
		if outcome.Metrics != nil {
			existing.Metrics = outcome.Metrics
		}
		if outcome.Feedback != "" {
			existing.Feedback = outcome.Feedback
		}
		data.Outcomes[id] = existing
		for i, edge := range data.Edges {
			if edge.Source == outcome.ActionID && edge.Relationship == RelResultsIn {
				data.Edges[i].Weight = statusWeight(outcome.Status)
			}
		}
		if err := s.save(ctx, data); err != nil {
			return OutcomeNode{}, err
		}
		return existing, nil
	}

	if outcome.ID == "" {
		outcome.ID = ksuid.New().String()
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now()
	}
	data.Outcomes[outcome.ID] = outcome
	data.Edges = append(data.Edges, CausalEdge{
		Source:       outcome.ActionID,
		Target:       outcome.ID,
		Relationship: RelResultsIn,
		Weight:       statusWeight(outcome.Status),
	})
	if err := s.save(ctx, data); err != nil {
		return OutcomeNode{}, err
	}
	return outcome, nil
}

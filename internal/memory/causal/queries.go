package causal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codecoder/internal/memory"
)

// ActionStep pairs an action with its outcome, when one is known.
type ActionStep struct {
	Action  ActionNode   `json:"action"`
	Outcome *OutcomeNode `json:"outcome,omitempty"`
}

// Chain is a decision with every action taken under it, in order.
type Chain struct {
	Decision DecisionNode `json:"decision"`
	Actions  []ActionStep `json:"actions"`
}

// Filter narrows Query results. Zero fields match everything: decision
// fields (agent, session, confidence, dates) select chains, and action
// or outcome fields narrow the steps inside them. Chains left with no
// matching step are dropped.
type Filter struct {
	AgentID       string
	SessionID     string
	MinConfidence float64
	From          time.Time
	To            time.Time
	ActionType    ActionType
	Status        OutcomeStatus
}

// GetCausalChain returns the chain rooted at one decision.
func (s *Store) GetCausalChain(ctx context.Context, decisionID string) (Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return Chain{}, err
	}
	decision, ok := data.Decisions[decisionID]
	if !ok {
		return Chain{}, fmt.Errorf("causal: unknown decision %s", decisionID)
	}
	return buildChain(data, decision), nil
}

// GetCausalChainsForSession returns every chain of a session, oldest
// decision first.
func (s *Store) GetCausalChainsForSession(ctx context.Context, sessionID string) ([]Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var chains []Chain
	for _, decision := range sortedDecisions(data) {
		if decision.SessionID != sessionID {
			continue
		}
		chains = append(chains, buildChain(data, decision))
	}
	return chains, nil
}

// Query returns the chains matching the filter, oldest decision first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var chains []Chain
	for _, decision := range sortedDecisions(data) {
		if filter.AgentID != "" && decision.AgentID != filter.AgentID {
			continue
		}
		if filter.SessionID != "" && decision.SessionID != filter.SessionID {
			continue
		}
		if decision.Confidence < filter.MinConfidence {
			continue
		}
		if !filter.From.IsZero() && decision.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && decision.Timestamp.After(filter.To) {
			continue
		}

		chain := buildChain(data, decision)
		if filter.ActionType != "" || filter.Status != "" {
			chain.Actions = filterSteps(chain.Actions, filter)
			if len(chain.Actions) == 0 {
				continue
			}
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func filterSteps(steps []ActionStep, filter Filter) []ActionStep {
	var kept []ActionStep
	for _, step := range steps {
		if filter.ActionType != "" && step.Action.Type != filter.ActionType {
			continue
		}
		if filter.Status != "" {
			if step.Outcome == nil || step.Outcome.Status != filter.Status {
				continue
			}
		}
		kept = append(kept, step)
	}
	return kept
}

// GetSuccessRate averages outcome weights for an agent ("" covers all
// agents): success counts 1, partial 0.5, failure 0. No outcomes
// yields 0.
func (s *Store) GetSuccessRate(ctx context.Context, agentID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	var sum float64
	var total int
	for _, outcome := range data.Outcomes {
		action, ok := data.Actions[outcome.ActionID]
		if !ok {
			continue
		}
		if agentID != "" {
			decision, ok := data.Decisions[action.DecisionID]
			if !ok || decision.AgentID != agentID {
				continue
			}
		}
		sum += statusWeight(outcome.Status)
		total++
	}
	if total == 0 {
		return 0, nil
	}
	return sum / float64(total), nil
}

// Stats summarizes the graph.
type Stats struct {
	Decisions   int                   `json:"decisions"`
	Actions     int                   `json:"actions"`
	Outcomes    int                   `json:"outcomes"`
	Sessions    int                   `json:"sessions"`
	ByType      map[ActionType]int    `json:"byType"`
	ByStatus    map[OutcomeStatus]int `json:"byStatus"`
	SuccessRate float64               `json:"successRate"`
}

// GetStats counts the graph's nodes and groupings.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Decisions: len(data.Decisions),
		Actions:   len(data.Actions),
		Outcomes:  len(data.Outcomes),
		ByType:    make(map[ActionType]int),
		ByStatus:  make(map[OutcomeStatus]int),
	}
	sessions := make(map[string]bool)
	for _, decision := range data.Decisions {
		sessions[decision.SessionID] = true
	}
	stats.Sessions = len(sessions)
	for _, action := range data.Actions {
		stats.ByType[action.Type]++
	}
	var sum float64
	for _, outcome := range data.Outcomes {
		stats.ByStatus[outcome.Status]++
		sum += statusWeight(outcome.Status)
	}
	if stats.Outcomes > 0 {
		stats.SuccessRate = sum / float64(stats.Outcomes)
	}
	return stats, nil
}

// RecentDecisions feeds the context builder: the newest decisions with
// a short title and the agent that made them.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]memory.DecisionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	decisions := sortedDecisions(data)
	// Newest first for display.
	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	if limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}

	summaries := make([]memory.DecisionSummary, 0, len(decisions))
	for _, decision := range decisions {
		title := decision.Prompt
		if title == "" {
			title = decision.Reasoning
		}
		if title == "" {
			title = decision.ID
		}
		summaries = append(summaries, memory.DecisionSummary{
			Title: clip(title, 80),
			Type:  decision.AgentID,
		})
	}
	return summaries, nil
}

var _ memory.DecisionSource = (*Store)(nil)

func sortedDecisions(data graphData) []DecisionNode {
	decisions := make([]DecisionNode, 0, len(data.Decisions))
	for _, decision := range data.Decisions {
		decisions = append(decisions, decision)
	}
	sort.Slice(decisions, func(i, j int) bool {
		if !decisions[i].Timestamp.Equal(decisions[j].Timestamp) {
			return decisions[i].Timestamp.Before(decisions[j].Timestamp)
		}
		return decisions[i].ID < decisions[j].ID
	})
	return decisions
}

func buildChain(data graphData, decision DecisionNode) Chain {
	outcomesByAction := make(map[string]OutcomeNode, len(data.Outcomes))
	for _, outcome := range data.Outcomes {
		outcomesByAction[outcome.ActionID] = outcome
	}

	var steps []ActionStep
	for _, action := range data.Actions {
		if action.DecisionID != decision.ID {
			continue
		}
		step := ActionStep{Action: action}
		if outcome, ok := outcomesByAction[action.ID]; ok {
			step.Outcome = &outcome
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool {
		if !steps[i].Action.Timestamp.Equal(steps[j].Action.Timestamp) {
			return steps[i].Action.Timestamp.Before(steps[j].Action.Timestamp)
		}
		return steps[i].Action.ID < steps[j].Action.ID
	})
	return Chain{Decision: decision, Actions: steps}
}

func clip(s string, limit int) string {
	if limit <= 3 || len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

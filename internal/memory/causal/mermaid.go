package causal

import (
	"context"
	"regexp"
	"strings"
)

// MermaidOptions narrows what ToMermaid renders. Zero options render
// the whole graph.
type MermaidOptions struct {
	SessionID  string
	DecisionID string
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

func sanitizeID(id string) string {
	return nonAlnum.ReplaceAllString(id, "_")
}

func sanitizeLabel(label string) string {
	label = strings.ReplaceAll(label, `"`, "'")
	label = strings.ReplaceAll(label, "\n", " ")
	if len(label) > 64 {
		label = label[:64]
	}
	return label
}

// ToMermaid renders the graph as a top-down Mermaid flowchart:
// decisions as hexagons, actions as boxes, successful outcomes as
// rounded nodes and failures as circles. Partial outcomes keep the box
// shape and carry no style class.
func (s *Store) ToMermaid(ctx context.Context, opts MermaidOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("    classDef decision fill:#f9f0ff,stroke:#9254de,stroke-width:2px\n")
	b.WriteString("    classDef action fill:#e6f4ff,stroke:#1677ff,stroke-width:1px\n")
	b.WriteString("    classDef success fill:#f6ffed,stroke:#52c41a,stroke-width:1px\n")
	b.WriteString("    classDef failure fill:#fff1f0,stroke:#f5222d,stroke-width:2px\n")

	outcomesByAction := make(map[string]OutcomeNode, len(data.Outcomes))
	for _, outcome := range data.Outcomes {
		outcomesByAction[outcome.ActionID] = outcome
	}

	var edges []string
	for _, decision := range sortedDecisions(data) {
		if opts.SessionID != "" && decision.SessionID != opts.SessionID {
			continue
		}
		if opts.DecisionID != "" && decision.ID != opts.DecisionID {
			continue
		}

		decisionID := sanitizeID(decision.ID)
		label := decision.Prompt
		if label == "" {
			label = decision.Reasoning
		}
		if label == "" {
			label = decision.ID
		}
		b.WriteString("    " + decisionID + "{{\"" + sanitizeLabel(label) + "\"}}\n")
		b.WriteString("    class " + decisionID + " decision\n")

		for _, step := range buildChain(data, decision).Actions {
			actionID := sanitizeID(step.Action.ID)
			actionLabel := step.Action.Description
			if actionLabel == "" {
				actionLabel = string(step.Action.Type)
			}
			b.WriteString("    " + actionID + "[\"" + sanitizeLabel(actionLabel) + "\"]\n")
			b.WriteString("    class " + actionID + " action\n")
			edges = append(edges, decisionID+" --> "+actionID)

			outcome, ok := outcomesByAction[step.Action.ID]
			if !ok {
				continue
			}
			outcomeID := sanitizeID(outcome.ID)
			outcomeLabel := sanitizeLabel(outcomeDisplay(outcome))
			switch outcome.Status {
			case StatusSuccess:
				b.WriteString("    " + outcomeID + "(\"" + outcomeLabel + "\")\n")
				b.WriteString("    class " + outcomeID + " success\n")
			case StatusFailure:
				b.WriteString("    " + outcomeID + "((\"" + outcomeLabel + "\"))\n")
				b.WriteString("    class " + outcomeID + " failure\n")
			default:
				b.WriteString("    " + outcomeID + "[\"" + outcomeLabel + "\"]\n")
			}
			edges = append(edges, actionID+" --> "+outcomeID)
		}
	}

	for _, edge := range edges {
		b.WriteString("    " + edge + "\n")
	}
	return b.String(), nil
}

func outcomeDisplay(outcome OutcomeNode) string {
	if outcome.Description != "" {
		return outcome.Description
	}
	return string(outcome.Status)
}

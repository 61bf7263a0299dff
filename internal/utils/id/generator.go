package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers for the core entities.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.setStrategy(strategy)
}

func (g *Generator) setStrategy(strategy Strategy) {
	g.mu.Lock()
	g.strategy = strategy
	g.mu.Unlock()
}

// NewSessionID generates a session identifier with a stable display prefix.
func NewSessionID() string {
	return defaultGenerator.newIdentifier("ses")
}

// NewMessageID generates a message identifier.
func NewMessageID() string {
	return defaultGenerator.newIdentifier("msg")
}

// NewDecisionID generates a causal decision-node identifier.
func NewDecisionID() string {
	return defaultGenerator.newIdentifier("dec")
}

// NewActionID generates a causal action-node identifier.
func NewActionID() string {
	return defaultGenerator.newIdentifier("act")
}

// NewOutcomeID generates a causal outcome-node identifier.
func NewOutcomeID() string {
	return defaultGenerator.newIdentifier("out")
}

// NewEditID generates an edit-record identifier.
func NewEditID() string {
	return defaultGenerator.newIdentifier("edit")
}

// NewCallID generates a tool-call identifier for locally synthesized calls.
func NewCallID() string {
	return defaultGenerator.newIdentifier("call")
}

// NewRequestID generates a permission-request identifier. Requests are keyed
// by plain UUID so external responders can treat them as opaque.
func NewRequestID() string {
	return uuid.NewString()
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		fallthrough
	case StrategyKSUID:
		body = ksuid.New().String()
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}

// NewKSUID exposes raw KSUID generation for callers that need unprefixed identifiers.
func NewKSUID() string {
	return ksuid.New().String()
}

package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Schema is the JSON-Schema subset tools describe their input with.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Enum        []any     `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ObjectSchema is the common case: named properties with a required list.
func ObjectSchema(props map[string]Property, required ...string) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// ParseArguments decodes model-supplied JSON against the tool's schema.
// Broken JSON gets one repair pass before failing. Unknown keys are
// rejected, required keys enforced, values type-checked, and declared
// defaults filled in.
func ParseArguments(def Definition, raw string) (map[string]any, error) {
	args := map[string]any{}
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && trimmed != "{}" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(trimmed)
			if repairErr != nil {
				return nil, fmt.Errorf("tool %s: arguments are not valid JSON: %w", def.Name, err)
			}
			if err := json.Unmarshal([]byte(repaired), &args); err != nil {
				return nil, fmt.Errorf("tool %s: arguments unparseable after repair: %w", def.Name, err)
			}
		}
	}
	if err := def.Schema.validate(def.Name, args); err != nil {
		return nil, err
	}
	return args, nil
}

func (s Schema) validate(toolName string, args map[string]any) error {
	for key := range args {
		if _, known := s.Properties[key]; !known {
			return fmt.Errorf("tool %s: unknown argument %q", toolName, key)
		}
	}
	for _, req := range s.Required {
		if _, present := args[req]; !present {
			return fmt.Errorf("tool %s: missing required argument %q", toolName, req)
		}
	}
	for key, prop := range s.Properties {
		value, present := args[key]
		if !present {
			if prop.Default != nil {
				args[key] = prop.Default
			}
			continue
		}
		if err := prop.check(value); err != nil {
			return fmt.Errorf("tool %s: argument %q: %w", toolName, key, err)
		}
	}
	return nil
}

func (p Property) check(value any) error {
	if value == nil {
		return nil
	}
	switch p.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected %s, got %T", p.Type, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		if p.Items != nil {
			for i, item := range items {
				if err := p.Items.check(item); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	}
	if len(p.Enum) > 0 {
		for _, allowed := range p.Enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %v not in %v", value, p.Enum)
	}
	return nil
}

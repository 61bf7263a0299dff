package config

// Default model settings applied when codecoder.json leaves them unset.
const (
	DefaultProvider   = "anthropic"
	DefaultModel      = "claude-sonnet-4-5"
	DefaultSmallModel = "claude-haiku-4-5"
)

// Config captures the codecoder.json schema. Fields the core consumes:
// default_agent, agent, permission, mcp, model, provider,
// experimental.openTelemetry, username.
type Config struct {
	Username     string                    `json:"username" mapstructure:"username"`
	Model        string                    `json:"model" mapstructure:"model"`
	SmallModel   string                    `json:"small_model" mapstructure:"small_model"`
	DefaultAgent string                    `json:"default_agent" mapstructure:"default_agent"`
	Agent        map[string]AgentConfig    `json:"agent" mapstructure:"agent"`
	Permission   map[string]any            `json:"permission" mapstructure:"permission"`
	MCP          map[string]MCPServer      `json:"mcp" mapstructure:"mcp"`
	Provider     map[string]ProviderConfig `json:"provider" mapstructure:"provider"`
	Experimental Experimental              `json:"experimental" mapstructure:"experimental"`
}

// AgentConfig is a user entry in the "agent" map. Zero-valued fields leave
// the built-in definition untouched; Disable removes the agent entirely.
// Pointer fields distinguish "not set" from an explicit zero.
type AgentConfig struct {
	Disable     bool           `json:"disable,omitempty" mapstructure:"disable"`
	Description string         `json:"description,omitempty" mapstructure:"description"`
	Mode        string         `json:"mode,omitempty" mapstructure:"mode"`
	Model       string         `json:"model,omitempty" mapstructure:"model"`
	Prompt      string         `json:"prompt,omitempty" mapstructure:"prompt"`
	Temperature *float64       `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP        *float64       `json:"top_p,omitempty" mapstructure:"top_p"`
	Color       string         `json:"color,omitempty" mapstructure:"color"`
	Hidden      *bool          `json:"hidden,omitempty" mapstructure:"hidden"`
	Steps       int            `json:"steps,omitempty" mapstructure:"steps"`
	Options     map[string]any `json:"options,omitempty" mapstructure:"options"`
	Permission  map[string]any `json:"permission,omitempty" mapstructure:"permission"`
}

// MCPServer describes one entry of the "mcp" server map. Local servers set
// Command/Args/Env; remote servers set URL.
type MCPServer struct {
	Type    string            `json:"type,omitempty" mapstructure:"type"`
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL     string            `json:"url,omitempty" mapstructure:"url"`
	Enabled *bool             `json:"enabled,omitempty" mapstructure:"enabled"`
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	APIKey  string         `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string         `json:"base_url,omitempty" mapstructure:"base_url"`
	Options map[string]any `json:"options,omitempty" mapstructure:"options"`
}

// Experimental gates features that are off by default.
type Experimental struct {
	OpenTelemetry bool `json:"openTelemetry,omitempty" mapstructure:"opentelemetry"`
}

// ModelFor returns the model an agent should use: the agent override when
// set, else the configured model, else the default.
func (c *Config) ModelFor(agentModel string) string {
	if agentModel != "" {
		return agentModel
	}
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

// SmallModelFor is ModelFor for the hidden utility agents (title, summary)
// which prefer a cheaper model.
func (c *Config) SmallModelFor(agentModel string) string {
	if agentModel != "" {
		return agentModel
	}
	if c.SmallModel != "" {
		return c.SmallModel
	}
	return DefaultSmallModel
}

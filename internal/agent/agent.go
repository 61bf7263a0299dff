// Package agent materializes the process-wide agent registry: built-in
// definitions merged with user config into an immutable map of resolved
// agents, each carrying its compiled permission ruleset.
package agent

import (
	"errors"
	"fmt"
	"sort"

	"codecoder/internal/config"
	"codecoder/internal/logging"
	"codecoder/internal/permission"
)

var (
	// ErrAgentNotFound is returned when a named agent does not exist or
	// has been disabled.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrDefaultAgentNotFound is returned when config names a default
	// agent that is neither resolvable nor a known built-in.
	ErrDefaultAgentNotFound = errors.New("default agent not found")
	// ErrDuplicateAgent is returned by the generator when a proposed
	// name collides with an existing agent.
	ErrDuplicateAgent = errors.New("duplicate agent name")
)

// Mode controls where an agent can be invoked from.
type Mode string

const (
	// ModePrimary agents drive top-level sessions.
	ModePrimary Mode = "primary"
	// ModeSubagent agents only run in child sessions spawned by a tool call.
	ModeSubagent Mode = "subagent"
	// ModeAll agents may do both.
	ModeAll Mode = "all"
)

// Info is one resolved agent. Instances are immutable after registry
// construction; callers must not mutate them.
type Info struct {
	Name        string
	Description string
	Mode        Mode
	// Hidden agents serve internal generations (compaction, title,
	// summary). They never appear in listings and are never offered
	// tools.
	Hidden bool
	// Native marks built-in agents. User-defined agents are not native.
	Native bool
	// Model overrides the configured default when set.
	Model  string
	Prompt string
	// Tools is the allow-list of tool names; nil permits every
	// registered tool.
	Tools       []string
	Temperature *float64
	TopP        *float64
	Color       string
	// Steps caps tool-loop iterations for one turn.
	Steps   int
	Options map[string]any
	Ruleset *permission.Ruleset

	builtinPermission map[string]any
	userPermission    map[string]any
	planMode          bool
}

// Visible reports whether the agent shows up in listings.
func (a *Info) Visible() bool { return !a.Hidden }

// Primary reports whether the agent can drive a top-level session.
func (a *Info) Primary() bool { return a.Mode == ModePrimary || a.Mode == ModeAll }

// Registry holds the resolved agent map. Immutable after construction.
type Registry struct {
	agents      map[string]*Info
	defaultName string
}

// Options for building the registry.
type Options struct {
	Config *config.Config
	// Worktree anchors relative permission patterns.
	Worktree string
	// TruncationDir is allow-listed for reads so spilled tool output
	// stays reachable.
	TruncationDir string
	// PlansDir is where the plan agent may write its artifacts.
	PlansDir string
	Logger   logging.Logger
}

// NewRegistry merges built-ins with user config. Disabled agents are
// dropped, unknown user agents are added with mode=all, and every
// surviving agent gets a compiled permission ruleset.
func NewRegistry(opts Options) (*Registry, error) {
	logger := logging.OrNop(opts.Logger)
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	agents := make(map[string]*Info)
	for _, builtin := range builtinAgents() {
		agents[builtin.Name] = builtin
	}

	for name, userCfg := range cfg.Agent {
		if userCfg.Disable {
			delete(agents, name)
			logger.Debug("agent %s disabled by config", name)
			continue
		}
		info, ok := agents[name]
		if !ok {
			info = &Info{Name: name, Mode: ModeAll, Steps: defaultSteps}
			agents[name] = info
		}
		mergeConfig(info, userCfg)
	}

	for _, info := range agents {
		rs, err := compileRuleset(info, cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", info.Name, err)
		}
		info.Ruleset = rs
	}

	r := &Registry{agents: agents}
	defaultName, err := r.resolveDefault(cfg.DefaultAgent)
	if err != nil {
		return nil, err
	}
	r.defaultName = defaultName
	logger.Info("agent registry ready: %d agents, default=%s", len(agents), defaultName)
	return r, nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (*Info, error) {
	info, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return info, nil
}

// Default returns the resolved default agent.
func (r *Registry) Default() *Info {
	return r.agents[r.defaultName]
}

// List returns the visible agents sorted by name.
func (r *Registry) List() []*Info {
	out := make([]*Info, 0, len(r.agents))
	for _, info := range r.agents {
		if info.Visible() {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subagents returns the visible agents spawnable from a tool call.
func (r *Registry) Subagents() []*Info {
	out := make([]*Info, 0, len(r.agents))
	for _, info := range r.agents {
		if info.Visible() && (info.Mode == ModeSubagent || info.Mode == ModeAll) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether name resolves to any agent, hidden included.
func (r *Registry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// resolveDefault applies the documented order: an explicitly configured
// agent must exist and be a visible primary; a configured name that is
// a known built-in but missing (e.g. disabled) falls back to
// auto-detection; any other unknown name is an error. Auto-detection
// picks the first visible primary by name, preferring "build".
func (r *Registry) resolveDefault(configured string) (string, error) {
	if configured != "" {
		info, ok := r.agents[configured]
		switch {
		case ok && info.Visible() && info.Primary():
			return configured, nil
		case !ok && nativeNames[configured]:
			// A disabled built-in falls back to auto-detection.
		default:
			return "", fmt.Errorf("%w: %s", ErrDefaultAgentNotFound, configured)
		}
	}

	if info, ok := r.agents[defaultAgentName]; ok && info.Visible() && info.Primary() {
		return defaultAgentName, nil
	}
	var names []string
	for name, info := range r.agents {
		if info.Visible() && info.Primary() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w: no visible primary agent", ErrDefaultAgentNotFound)
	}
	sort.Strings(names)
	return names[0], nil
}

// mergeConfig overlays user fields onto a definition. Zero-valued fields
// leave the existing value in place.
func mergeConfig(info *Info, userCfg config.AgentConfig) {
	if userCfg.Description != "" {
		info.Description = userCfg.Description
	}
	if userCfg.Mode != "" {
		info.Mode = Mode(userCfg.Mode)
	}
	if userCfg.Model != "" {
		info.Model = userCfg.Model
	}
	if userCfg.Prompt != "" {
		info.Prompt = userCfg.Prompt
	}
	if userCfg.Temperature != nil {
		info.Temperature = userCfg.Temperature
	}
	if userCfg.TopP != nil {
		info.TopP = userCfg.TopP
	}
	if userCfg.Color != "" {
		info.Color = userCfg.Color
	}
	if userCfg.Hidden != nil {
		info.Hidden = *userCfg.Hidden
	}
	if userCfg.Steps > 0 {
		info.Steps = userCfg.Steps
	}
	if len(userCfg.Options) > 0 {
		if info.Options == nil {
			info.Options = make(map[string]any, len(userCfg.Options))
		}
		for k, v := range userCfg.Options {
			info.Options[k] = v
		}
	}
	if len(userCfg.Permission) > 0 {
		info.userPermission = userCfg.Permission
	}
}

// compileRuleset layers builtin defaults, the agent's own rules, and the
// project's rules, in that order of increasing precedence.
func compileRuleset(info *Info, cfg *config.Config, opts Options) (*permission.Ruleset, error) {
	sources := []permission.Source{permission.BuiltinDefaults(opts.TruncationDir)}
	if len(info.builtinPermission) > 0 {
		sources = append(sources, permission.Source{
			Name:    "agent:" + info.Name,
			Rank:    permission.RankAgent,
			Mapping: info.builtinPermission,
		})
	}
	if len(info.userPermission) > 0 {
		sources = append(sources, permission.Source{
			Name:    "agent-config:" + info.Name,
			Rank:    permission.RankAgent,
			Mapping: info.userPermission,
		})
	}
	if len(cfg.Permission) > 0 {
		sources = append(sources, permission.Source{
			Name:    "project",
			Rank:    permission.RankProject,
			Mapping: cfg.Permission,
		})
	}

	rs, err := permission.Compile(opts.Worktree, sources...)
	if err != nil {
		return nil, err
	}
	if info.planMode {
		rs = rs.WithPlanMode(opts.PlansDir)
	}
	return rs, nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"codecoder/internal/agent"
	"codecoder/internal/bus"
	"codecoder/internal/config"
	"codecoder/internal/hooks"
	"codecoder/internal/logging"
	"codecoder/internal/memory"
	"codecoder/internal/memory/causal"
	"codecoder/internal/memory/vector"
	"codecoder/internal/observability"
	"codecoder/internal/permission"
	"codecoder/internal/provider"
	"codecoder/internal/provider/anthropic"
	"codecoder/internal/runtime"
	"codecoder/internal/session"
	"codecoder/internal/skills"
	"codecoder/internal/storage"
	"codecoder/internal/tools"
	"codecoder/internal/tools/builtin"
	"codecoder/internal/writer"
)

// Container wires the process singletons: one storage handle, one bus,
// one permission engine, one runtime. Commands reach everything through
// it, and Cleanup tears the stateful pieces down in reverse order.
type Container struct {
	Config      *config.Config
	Paths       config.Paths
	Logger      logging.Logger
	DB          *storage.Store
	Bus         *bus.Bus
	Permissions *permission.Engine
	Hooks       *hooks.Pipeline
	Sessions    *session.Store
	Agents      *agent.Registry
	Tools       *tools.Registry
	Skills      skills.Library
	Vector      *vector.Store
	Memory      *memory.Router
	Builder     *memory.Builder
	Causal      *causal.Store
	Edits       *memory.EditLog
	Style       *memory.StyleLearner
	Supervisor  *writer.Supervisor
	Runtime     *runtime.Runtime
	Tracing     *observability.Provider
}

// buildContainer composes the full dependency graph for one worktree.
// The console supplies the interactive pieces: the question-tool asker.
func buildContainer(worktree string, console *console) (*Container, error) {
	paths, err := config.ResolvePaths(worktree)
	if err != nil {
		return nil, err
	}
	conf, err := config.Load(paths.Worktree)
	if err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger("cli")

	tracing, err := observability.Setup(context.Background(), observability.FromConfig(conf), logger)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{paths.RecordsDir(), paths.DailyDir(), paths.PlansDir(), paths.TruncationDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := storage.Open(storage.DefaultConfig(paths.RecordsDir()))
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	events := bus.New()

	perms := permission.NewEngine(db, events, logging.NewComponentLogger("permission"))
	perms.SetPlansDir(paths.PlansDir())

	pipeline := hooks.NewPipeline(paths.HookFiles(), events, logging.NewComponentLogger("hooks"))
	sessions := session.NewStore(db, events, logging.NewComponentLogger("session"))

	vec, err := vector.Open(vector.Config{Dir: paths.MemoryDir(), Store: db})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	registry := tools.NewRegistry()
	toolCfg := builtin.Config{
		WorkDir:      paths.Worktree,
		DB:           db,
		Logger:       logging.NewComponentLogger("tools"),
		SearchAPIKey: searchAPIKey(conf),
		Asker:        console,
		Plan:         perms,
		Searcher:     &vectorSearcher{index: vec},
	}
	if err := builtin.RegisterAll(registry, toolCfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	library, err := skills.Discover(paths.SkillRoots(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, skill := range library.List() {
		if err := registry.Register(skills.NewTool(skill)); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	kv := memory.NewKV(db)
	markdown := memory.NewMarkdown(paths.MemoryDir())
	patterns := memory.NewPatternStore(db)
	router := memory.NewRouter(kv, markdown, patterns, logging.NewComponentLogger("memory"))

	causalStore := causal.NewStore(db, paths.ProjectID())
	edits := memory.NewEditLog(db)
	style := memory.NewStyleLearner(db)
	index := memory.NewCodeIndex(db)
	builder := memory.NewBuilder(memory.BuilderDeps{
		Fingerprint: paths.ProjectID(),
		Style:       style,
		Patterns:    patterns,
		Knowledge:   memory.NewKnowledge(db),
		Index:       index,
		Edits:       edits,
		Decisions:   causalStore,
		Markdown:    markdown,
		Logger:      logging.NewComponentLogger("memory"),
	})
	router.SetInvalidator(builder.Invalidate)

	agents, err := agent.NewRegistry(agent.Options{
		Config:        conf,
		Worktree:      paths.Worktree,
		TruncationDir: paths.TruncationDir(),
		PlansDir:      paths.PlansDir(),
		Logger:        logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	supervisor := writer.NewSupervisor(events, logging.NewComponentLogger("writer"))

	rt, err := runtime.New(runtime.Deps{
		Config:        conf,
		Agents:        agents,
		Sessions:      sessions,
		Provider:      providerClient(conf),
		Tools:         registry,
		Permissions:   perms,
		Hooks:         pipeline,
		Context:       builder,
		Recorder:      causal.NewRecorder(causalStore),
		Edits:         edits,
		Index:         index,
		Style:         style,
		Supervisor:    supervisor,
		Bus:           events,
		Logger:        logging.NewComponentLogger("runtime"),
		TruncationDir: paths.TruncationDir(),
	})
	if err != nil {
		supervisor.Shutdown()
		_ = db.Close()
		return nil, err
	}

	return &Container{
		Config:      conf,
		Paths:       paths,
		Logger:      logger,
		DB:          db,
		Bus:         events,
		Permissions: perms,
		Hooks:       pipeline,
		Sessions:    sessions,
		Agents:      agents,
		Tools:       registry,
		Skills:      library,
		Vector:      vec,
		Memory:      router,
		Builder:     builder,
		Causal:      causalStore,
		Edits:       edits,
		Style:       style,
		Supervisor:  supervisor,
		Runtime:     rt,
		Tracing:     tracing,
	}, nil
}

// Cleanup flushes and closes the stateful members. Safe on a partially
// used container.
func (c *Container) Cleanup() error {
	if c == nil {
		return nil
	}
	if c.Supervisor != nil {
		c.Supervisor.Shutdown()
	}
	ctx := context.Background()
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.Logger.Warn("tracing shutdown: %v", err)
		}
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// providerClient builds the streaming client named by the config. Only
// the anthropic adapter ships; a missing key still returns a client so
// the SDK's own environment lookup gets a chance.
func providerClient(conf *config.Config) provider.Client {
	pc := conf.Provider[config.DefaultProvider]
	return anthropic.New(anthropic.Options{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Logger:  logging.NewComponentLogger("provider"),
	})
}

// searchAPIKey resolves the websearch credential: the environment wins,
// then the provider map's websearch entry.
func searchAPIKey(conf *config.Config) string {
	if key := os.Getenv("CODECODER_SEARCH_API_KEY"); key != "" {
		return key
	}
	return conf.Provider["websearch"].APIKey
}

// vectorSearcher adapts the vector index to the codesearch tool.
type vectorSearcher struct {
	index *vector.Store
}

func (v *vectorSearcher) SearchCode(ctx context.Context, query string, limit int) ([]builtin.CodeMatch, error) {
	hits, err := v.index.Search(ctx, query, limit, 0)
	if err != nil {
		return nil, err
	}
	matches := make([]builtin.CodeMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, builtin.CodeMatch{
			Path:       hit.File,
			Line:       hit.Line,
			Snippet:    hit.Text,
			Similarity: hit.Similarity,
		})
	}
	return matches, nil
}

// Package builtin provides the standard tool set: file access, shell,
// search, web, todos, and the interactive question/plan tools.
package builtin

import (
	"context"
	"net/http"
	"time"

	"codecoder/internal/logging"
	"codecoder/internal/storage"
	"codecoder/internal/tools"
)

// Asker routes a question tool call to the user and returns the answer.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string, options []string) (string, error)
}

// PlanController flips a session in and out of plan mode; implemented by
// the permission layer.
type PlanController interface {
	EnterPlanMode(sessionID string)
	ExitPlanMode(sessionID string)
}

// CodeSearcher answers semantic code queries from the vector index.
type CodeSearcher interface {
	SearchCode(ctx context.Context, query string, limit int) ([]CodeMatch, error)
}

// CodeMatch is one semantic search hit.
type CodeMatch struct {
	Path       string
	Line       int
	Snippet    string
	Similarity float32
}

// Config carries the dependencies the builtin tools share.
type Config struct {
	WorkDir      string
	DB           *storage.Store
	Logger       logging.Logger
	HTTPClient   *http.Client
	SearchAPIKey string
	Asker        Asker
	Plan         PlanController
	Searcher     CodeSearcher
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// RegisterAll installs every builtin tool into the registry. Tools whose
// dependency is absent (no search key, no asker) still register and
// report the gap at call time, so the model sees a uniform tool list.
func RegisterAll(r *tools.Registry, cfg Config) error {
	logger := logging.OrNop(cfg.Logger)
	all := []tools.Executor{
		NewRead(cfg),
		NewWrite(cfg),
		NewEdit(cfg),
		NewBash(cfg, logger),
		NewList(cfg),
		NewGlob(cfg),
		NewGrep(cfg),
		NewWebFetch(cfg, logger),
		NewWebSearch(cfg, logger),
		NewCodeSearch(cfg),
		NewTodoRead(cfg),
		NewTodoWrite(cfg),
		NewQuestion(cfg),
		NewPlanEnter(cfg),
		NewPlanExit(cfg),
	}
	for _, tool := range all {
		if err := r.RegisterBuiltin(tool); err != nil {
			return err
		}
	}
	return nil
}

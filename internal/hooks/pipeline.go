package hooks

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"codecoder/internal/bus"
	"codecoder/internal/logging"
)

// Input carries everything an action can inspect: the tool call identity,
// the target path extracted from its input, the text to scan (serialized
// input for PreToolUse, tool output for PostToolUse), and the shell command
// for command-class tools.
type Input struct {
	Event     Event
	SessionID string
	ToolName  string
	FilePath  string
	Content   string
	Command   string
}

// Result is the only shape the runtime consumes. A zero Result means no
// hook objected.
type Result struct {
	Blocked  bool   `json:"blocked"`
	HookName string `json:"hookName,omitempty"`
	Message  string `json:"message,omitempty"`
}

// EnvLookup resolves environment variables for check_env actions.
type EnvLookup func(string) (string, bool)

// Pipeline evaluates hook files against tool events. Files are re-read when
// their size or mtime changes; parse failures skip the file and keep the
// rest of the chain running.
type Pipeline struct {
	files     []string
	events    *bus.Bus
	logger    logging.Logger
	envLookup EnvLookup

	mu    sync.Mutex
	cache map[string]*cachedFile
}

type cachedFile struct {
	modTime time.Time
	size    int64
	file    *File
	broken  bool
}

// NewPipeline builds a pipeline over hook file paths in evaluation order
// (project locations before home locations). Missing files are fine.
func NewPipeline(files []string, events *bus.Bus, logger logging.Logger) *Pipeline {
	return &Pipeline{
		files:     files,
		events:    events,
		logger:    logging.OrNop(logger),
		envLookup: os.LookupEnv,
		cache:     make(map[string]*cachedFile),
	}
}

// WithEnvLookup overrides environment resolution; used by tests.
func (p *Pipeline) WithEnvLookup(lookup EnvLookup) *Pipeline {
	p.envLookup = lookup
	return p
}

// Evaluate walks matching hook entries and their actions in declared order,
// project files before home files. The first blocking action decides;
// notify-only actions fire along the way. Evaluation never fails: action
// errors degrade to logged warnings.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) Result {
	for _, path := range p.files {
		if err := ctx.Err(); err != nil {
			return Result{}
		}
		file := p.load(path)
		if file == nil || !file.Enabled {
			continue
		}
		for i := range file.Entries[in.Event] {
			entry := &file.Entries[in.Event][i]
			if !entry.matchesTool(in.ToolName) || !entry.matchesFile(in.FilePath) {
				continue
			}
			if result, blocked := p.runEntry(entry, in); blocked {
				return result
			}
		}
	}
	return Result{}
}

func (p *Pipeline) runEntry(entry *Entry, in Input) (Result, bool) {
	for i := range entry.Actions {
		action := &entry.Actions[i]
		if action.compileErr != nil {
			p.logger.Warn("hook %s action %d: %v", entry.Name, i, action.compileErr)
			continue
		}
		switch action.Type {
		case ActionScan:
			if result, blocked := p.runScan(entry, action, in); blocked {
				return result, true
			}
		case ActionNotifyOnly:
			p.notify(entry, action, in)
		case ActionCheckEnv:
			if result, blocked := p.runCheckEnv(entry, action, in); blocked {
				return result, true
			}
		default:
			p.logger.Warn("hook %s: unknown action type %q", entry.Name, action.Type)
		}
	}
	return Result{}, false
}

// runScan searches the event content with each pattern. A match on a
// blocking action stops the chain with the entry's message, `{match}`
// replaced by the matched substring. Non-blocking scan matches only notify.
func (p *Pipeline) runScan(entry *Entry, action *Action, in Input) (Result, bool) {
	for _, re := range action.scanRes {
		match := re.FindString(in.Content)
		if match == "" {
			continue
		}
		message := strings.ReplaceAll(action.Message, "{match}", match)
		if action.Block {
			return Result{Blocked: true, HookName: entry.Name, Message: message}, true
		}
		p.publishNotification(entry.Name, in, message)
	}
	return Result{}, false
}

func (p *Pipeline) runCheckEnv(entry *Entry, action *Action, in Input) (Result, bool) {
	if action.Variable == "" {
		return Result{}, false
	}
	if _, set := p.envLookup(action.Variable); set {
		return Result{}, false
	}
	if action.commandRe != nil && !action.commandRe.MatchString(in.Command) {
		return Result{}, false
	}
	message := action.Message
	if message == "" {
		message = "required environment variable " + action.Variable + " is not set"
	}
	return Result{Blocked: true, HookName: entry.Name, Message: message}, true
}

func (p *Pipeline) notify(entry *Entry, action *Action, in Input) {
	message := strings.ReplaceAll(action.Message, "{match}", "")
	p.publishNotification(entry.Name, in, message)
}

func (p *Pipeline) publishNotification(hookName string, in Input, message string) {
	if p.events == nil {
		return
	}
	p.events.Publish(bus.Event{
		Type:      bus.EventHookNotification,
		SessionID: in.SessionID,
		Payload: map[string]string{
			"hook":    hookName,
			"tool":    in.ToolName,
			"message": message,
		},
	})
}

// load returns the parsed file for path, re-reading when the file changed
// on disk. Malformed files are logged once and skipped until they change.
func (p *Pipeline) load(path string) *File {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cached, ok := p.cache[path]
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		if cached.broken {
			return nil
		}
		return cached.file
	}

	entry := &cachedFile{modTime: info.ModTime(), size: info.Size()}
	p.cache[path] = entry

	data, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("read hook file %s: %v", path, err)
		entry.broken = true
		return nil
	}
	file, err := parseFile(path, data)
	if err != nil {
		p.logger.Warn("skipping malformed hook file: %v", err)
		entry.broken = true
		return nil
	}
	entry.file = file
	return file
}

// Package hooks runs declarative pre/post checks around tool calls. Hook
// files at well-known locations declare entries matched by tool name and
// target path; each entry carries an ordered action list, and the first
// blocking action wins.
package hooks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Event names a hook dispatch point.
type Event string

const (
	PreToolUse  Event = "PreToolUse"
	PostToolUse Event = "PostToolUse"
)

// Action types.
const (
	ActionScan       = "scan"
	ActionNotifyOnly = "notify_only"
	ActionCheckEnv   = "check_env"
)

// Action is one step of a hook entry, evaluated in declared order.
type Action struct {
	Type           string   `json:"type"`
	Patterns       []string `json:"patterns,omitempty"`
	Message        string   `json:"message,omitempty"`
	Variable       string   `json:"variable,omitempty"`
	CommandPattern string   `json:"command_pattern,omitempty"`
	Block          bool     `json:"block,omitempty"`

	scanRes    []*regexp.Regexp
	commandRe  *regexp.Regexp
	compileErr error
}

// Entry is a named hook: a tool-name regex, an optional file-path regex, and
// its actions.
type Entry struct {
	Name        string   `json:"-"`
	Pattern     string   `json:"pattern"`
	FilePattern string   `json:"file_pattern,omitempty"`
	Actions     []Action `json:"actions"`

	patternRe *regexp.Regexp
	fileRe    *regexp.Regexp
}

// File is one parsed hooks.json. Entries preserve their declaration order
// inside the file; nothing re-sorts them.
type File struct {
	Path    string
	Enabled bool
	Entries map[Event][]Entry
}

type settings struct {
	Enabled *bool `json:"enabled"`
}

// parseFile decodes a hooks.json document. The JSON shape is
//
//	{ "hooks": { "PreToolUse"|"PostToolUse": { "<name>": {
//	      "pattern": ..., "file_pattern": ..., "actions": [...] } } },
//	  "settings": { "enabled": true } }
//
// Object key order is the declared hook order, so entries are read with a
// token walk instead of a map.
func parseFile(path string, data []byte) (*File, error) {
	var raw struct {
		Hooks    map[string]json.RawMessage `json:"hooks"`
		Settings settings                   `json:"settings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	file := &File{
		Path:    path,
		Enabled: raw.Settings.Enabled == nil || *raw.Settings.Enabled,
		Entries: make(map[Event][]Entry),
	}

	for _, event := range []Event{PreToolUse, PostToolUse} {
		section, ok := raw.Hooks[string(event)]
		if !ok {
			continue
		}
		entries, err := parseOrderedEntries(section)
		if err != nil {
			return nil, fmt.Errorf("parse %s %s: %w", path, event, err)
		}
		file.Entries[event] = entries
	}
	return file, nil
}

// parseOrderedEntries reads `{ name: entry, ... }` preserving key order.
func parseOrderedEntries(raw json.RawMessage) ([]Entry, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected entry name, got %v", keyTok)
		}

		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("entry %s: %w", name, err)
		}
		entry.Name = name
		compileEntry(&entry)
		entries = append(entries, entry)
	}
	return entries, nil
}

// compileEntry prepares the entry's regular expressions. Compilation errors
// are kept on the entry and surface as non-blocking runtime warnings, so one
// bad pattern does not take down the file.
func compileEntry(entry *Entry) {
	if entry.Pattern != "" {
		entry.patternRe, _ = regexp.Compile(entry.Pattern)
	}
	if entry.FilePattern != "" {
		entry.fileRe, _ = regexp.Compile(entry.FilePattern)
	}
	for i := range entry.Actions {
		action := &entry.Actions[i]
		switch action.Type {
		case ActionScan:
			for _, pattern := range action.Patterns {
				re, err := regexp.Compile(pattern)
				if err != nil {
					action.compileErr = fmt.Errorf("pattern %q: %w", pattern, err)
					continue
				}
				action.scanRes = append(action.scanRes, re)
			}
		case ActionCheckEnv:
			if action.CommandPattern != "" {
				re, err := regexp.Compile(action.CommandPattern)
				if err != nil {
					action.compileErr = fmt.Errorf("command_pattern %q: %w", action.CommandPattern, err)
					continue
				}
				action.commandRe = re
			}
		}
	}
}

// matchesTool reports whether the entry applies to a tool name. An entry
// whose pattern failed to compile matches nothing.
func (e *Entry) matchesTool(tool string) bool {
	if e.Pattern == "" {
		return true
	}
	return e.patternRe != nil && e.patternRe.MatchString(tool)
}

// matchesFile reports whether the entry applies to the target path. Entries
// without a file_pattern apply to every path, including an empty one.
func (e *Entry) matchesFile(path string) bool {
	if e.FilePattern == "" {
		return true
	}
	if path == "" {
		return false
	}
	return e.fileRe != nil && e.fileRe.MatchString(path)
}

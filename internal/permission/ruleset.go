package permission

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	errs "codecoder/internal/errors"
)

// Source ranks. Later sources win over earlier ones at equal pattern
// specificity; session rules appended by allow_always win over everything.
const (
	RankBuiltin = iota
	RankAgent
	RankProject
	RankSession
)

// Source is one origin of permission configuration: a mapping from kind to
// either a bare action ("allow" | "ask" | "deny") or a pattern table.
type Source struct {
	Name    string
	Rank    int
	Mapping map[string]any
}

// Ruleset is an immutable compiled rule list for one agent in one worktree.
// Mutation happens by replacement: WithRule returns a new Ruleset.
type Ruleset struct {
	worktree string
	byKind   map[Kind][]Rule
	size     int

	// Plan mode denies edits to everything but plan markdown, regardless
	// of what the rules say.
	planMode bool
	plansDir string
}

// Compile merges the sources into an ordered ruleset. Unknown kinds and
// malformed actions are configuration errors.
func Compile(worktree string, sources ...Source) (*Ruleset, error) {
	var rules []Rule
	seq := 0
	for _, src := range sources {
		parsed, err := parseMapping(src, &seq)
		if err != nil {
			return nil, errs.WithKind(errs.KindConfiguration,
				fmt.Errorf("permission source %s: %w", src.Name, err))
		}
		rules = append(rules, parsed...)
	}
	return newRuleset(filepath.Clean(worktree), rules), nil
}

func newRuleset(worktree string, rules []Rule) *Ruleset {
	byKind := make(map[Kind][]Rule)
	for _, r := range rules {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
	for kind := range byKind {
		ordered := byKind[kind]
		sort.SliceStable(ordered, func(i, j int) bool { return moreSpecific(ordered[i], ordered[j]) })
		byKind[kind] = ordered
	}
	return &Ruleset{worktree: worktree, byKind: byKind, size: len(rules)}
}

func parseMapping(src Source, seq *int) ([]Rule, error) {
	var rules []Rule
	// Deterministic compile order regardless of map iteration.
	kinds := make([]string, 0, len(src.Mapping))
	for name := range src.Mapping {
		kinds = append(kinds, name)
	}
	sort.Strings(kinds)

	for _, name := range kinds {
		kind, ok := ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown permission kind %q", name)
		}
		switch value := src.Mapping[name].(type) {
		case string:
			action, ok := ParseAction(value)
			if !ok {
				return nil, fmt.Errorf("kind %s: invalid action %q", kind, value)
			}
			rule, err := compileRule(kind, "*", action, src.Rank, *seq)
			if err != nil {
				return nil, err
			}
			*seq++
			rules = append(rules, rule)
		case map[string]any:
			patterns := make([]string, 0, len(value))
			for pattern := range value {
				patterns = append(patterns, pattern)
			}
			sort.Strings(patterns)
			for _, pattern := range patterns {
				actionName, ok := value[pattern].(string)
				if !ok {
					return nil, fmt.Errorf("kind %s pattern %q: action must be a string", kind, pattern)
				}
				action, ok := ParseAction(actionName)
				if !ok {
					return nil, fmt.Errorf("kind %s pattern %q: invalid action %q", kind, pattern, actionName)
				}
				rule, err := compileRule(kind, pattern, action, src.Rank, *seq)
				if err != nil {
					return nil, fmt.Errorf("kind %s: %w", kind, err)
				}
				*seq++
				rules = append(rules, rule)
			}
		case map[string]string:
			converted := make(map[string]any, len(value))
			for k, v := range value {
				converted[k] = v
			}
			src2 := Source{Name: src.Name, Rank: src.Rank, Mapping: map[string]any{name: converted}}
			sub, err := parseMapping(src2, seq)
			if err != nil {
				return nil, err
			}
			rules = append(rules, sub...)
		default:
			return nil, fmt.Errorf("kind %s: value must be an action or a pattern table", kind)
		}
	}
	return rules, nil
}

// BuiltinDefaults returns the rank-0 source every ruleset starts from:
// .env files ask, .env.example files allow, the truncation directory is
// readable and writable, and interaction kinds are allowed.
func BuiltinDefaults(truncationDir string) Source {
	read := map[string]any{
		"*.env":         "ask",
		"*.env.example": "allow",
	}
	edit := map[string]any{
		"*.env":         "ask",
		"*.env.example": "allow",
	}
	mapping := map[string]any{
		"read":       read,
		"edit":       edit,
		"question":   "allow",
		"todoread":   "allow",
		"todowrite":  "allow",
		"plan_enter": "allow",
		"plan_exit":  "allow",
	}
	if truncationDir != "" {
		truncGlob := filepath.Join(truncationDir, "*")
		read[truncGlob] = "allow"
		edit[truncGlob] = "allow"
		mapping["list"] = map[string]any{truncGlob: "allow"}
	}
	return Source{Name: "builtin", Rank: RankBuiltin, Mapping: mapping}
}

// Decide resolves the verdict for one (kind, scope value) pair. It is pure
// and total: any input yields exactly one of allow, ask, or deny. Paths
// outside the worktree consult external_directory rules first.
func (rs *Ruleset) Decide(kind Kind, value string) Action {
	if rs == nil {
		return ActionAsk
	}
	if rs.planMode && kind == KindEdit && !rs.planMarkdown(value) {
		return ActionDeny
	}
	if kind != KindExternalDirectory && pathScoped[kind] && outsideWorktree(value, rs.worktree) {
		if action, ok := rs.firstMatch(KindExternalDirectory, value); ok {
			return action
		}
	}
	if action, ok := rs.firstMatch(kind, value); ok {
		return action
	}
	return ActionAsk
}

func (rs *Ruleset) firstMatch(kind Kind, value string) (Action, bool) {
	for _, rule := range rs.byKind[kind] {
		if rule.matches(value, rs.worktree) {
			return rule.Action, true
		}
	}
	return "", false
}

// WithRule returns a new ruleset containing all existing rules plus one
// session-rank rule. The receiver is unchanged.
func (rs *Ruleset) WithRule(kind Kind, pattern string, action Action) (*Ruleset, error) {
	rule, err := compileRule(kind, pattern, action, RankSession, rs.size)
	if err != nil {
		return nil, errs.WithKind(errs.KindConfiguration, err)
	}
	rules := make([]Rule, 0, rs.size+1)
	for _, existing := range rs.byKind {
		rules = append(rules, existing...)
	}
	rules = append(rules, rule)
	updated := newRuleset(rs.worktree, rules)
	updated.planMode = rs.planMode
	updated.plansDir = rs.plansDir
	return updated, nil
}

// WithPlanMode returns a ruleset enforcing the planning restriction: edit
// is denied for everything except plan markdown (PLAN.md, *.plan.md, and
// markdown under plansDir). Other kinds are unaffected.
func (rs *Ruleset) WithPlanMode(plansDir string) *Ruleset {
	clone := *rs
	clone.planMode = true
	clone.plansDir = filepath.Clean(plansDir)
	return &clone
}

// WithoutPlanMode lifts the planning restriction.
func (rs *Ruleset) WithoutPlanMode() *Ruleset {
	clone := *rs
	clone.planMode = false
	clone.plansDir = ""
	return &clone
}

// PlanMode reports whether the planning restriction is active.
func (rs *Ruleset) PlanMode() bool {
	return rs != nil && rs.planMode
}

func (rs *Ruleset) planMarkdown(value string) bool {
	if value == "" {
		return false
	}
	base := filepath.Base(filepath.Clean(value))
	if base == "PLAN.md" || strings.HasSuffix(base, ".plan.md") {
		return true
	}
	if rs.plansDir != "" && rs.plansDir != "." && strings.HasSuffix(base, ".md") {
		abs := absolutize(value, rs.worktree)
		if abs == rs.plansDir || strings.HasPrefix(abs, rs.plansDir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Len reports the number of compiled rules.
func (rs *Ruleset) Len() int {
	if rs == nil {
		return 0
	}
	return rs.size
}

// Worktree returns the root the ruleset was compiled for.
func (rs *Ruleset) Worktree() string {
	if rs == nil {
		return ""
	}
	return rs.worktree
}

package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"codecoder/internal/storage"
)

// EditChoiceType says what the user did with a suggested edit.
type EditChoiceType string

const (
	ChoiceAccept EditChoiceType = "accept"
	ChoiceModify EditChoiceType = "modify"
	ChoiceReject EditChoiceType = "reject"
)

// EditChoice is one observation fed to the style learner.
type EditChoice struct {
	Type               EditChoiceType `json:"type"`
	FileType           string         `json:"fileType"`
	OriginalSuggestion string         `json:"originalSuggestion,omitempty"`
	FinalCode          string         `json:"finalCode,omitempty"`
	Reason             string         `json:"reason,omitempty"`
}

// StyleObservation accumulates evidence for one style pattern, e.g.
// "indentation:tabs". Confidence moves by exponential average so one
// outlier cannot flip a settled preference.
type StyleObservation struct {
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	Samples    int       `json:"samples"`
	LastSeen   time.Time `json:"lastSeen"`
	Examples   []string  `json:"examples,omitempty"`
}

// Preferences is the promoted, high-confidence style profile.
type Preferences struct {
	Indentation    string `json:"indentation,omitempty"`
	Quotes         string `json:"quotes,omitempty"`
	Semicolons     string `json:"semicolons,omitempty"`
	TrailingCommas string `json:"trailingCommas,omitempty"`
	Naming         string `json:"naming,omitempty"`
}

const (
	emaWeight        = 0.3
	promoteThreshold = 0.7
	maxStyleSamples  = 10
)

// StyleLearner passively infers code style from accepted and modified
// edits. Observations persist through storage so confidence survives
// restarts.
type StyleLearner struct {
	store *storage.Store
	mu    sync.Mutex
}

// NewStyleLearner wraps a storage handle.
func NewStyleLearner(store *storage.Store) *StyleLearner {
	return &StyleLearner{store: store}
}

func styleKey(pattern string) []string { return []string{"memory", "style", pattern} }

var preferencesKey = []string{"memory", "preferences"}

// RecordEditChoice updates style observations from one edit decision.
// Accepts are scanned for style signals; modifications are diffed against
// the suggestion to catch preference shifts; rejections carry no signal.
func (l *StyleLearner) RecordEditChoice(ctx context.Context, choice EditChoice) error {
	var signals []styleSignal
	switch choice.Type {
	case ChoiceAccept:
		signals = scanStyle(choice.FinalCode)
	case ChoiceModify:
		signals = diffStyle(choice.OriginalSuggestion, choice.FinalCode)
	case ChoiceReject:
		return nil
	default:
		return fmt.Errorf("style: unknown edit choice %q", choice.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, signal := range signals {
		if err := l.observe(ctx, signal); err != nil {
			return err
		}
	}
	return nil
}

func (l *StyleLearner) observe(ctx context.Context, signal styleSignal) error {
	var obs StyleObservation
	ok, err := l.store.Read(ctx, styleKey(signal.pattern), &obs)
	if err != nil {
		return err
	}
	if !ok {
		obs = StyleObservation{Pattern: signal.pattern}
	}
	obs.Confidence = obs.Confidence + emaWeight*(1.0-obs.Confidence)
	obs.Samples++
	obs.LastSeen = time.Now()
	if signal.example != "" && !containsLine(obs.Examples, signal.example) && len(obs.Examples) < maxStyleSamples {
		obs.Examples = append(obs.Examples, signal.example)
	}
	if err := l.store.Write(ctx, styleKey(signal.pattern), obs); err != nil {
		return err
	}
	if obs.Confidence > promoteThreshold {
		return l.promote(ctx, obs.Pattern)
	}
	return nil
}

// promote writes the observed value into the preference slot named by
// the pattern's group prefix.
func (l *StyleLearner) promote(ctx context.Context, pattern string) error {
	group, value, ok := strings.Cut(pattern, ":")
	if !ok {
		return nil
	}
	var prefs Preferences
	if _, err := l.store.Read(ctx, preferencesKey, &prefs); err != nil {
		return err
	}
	switch group {
	case "indentation":
		prefs.Indentation = value
	case "quotes":
		prefs.Quotes = value
	case "semicolons":
		prefs.Semicolons = value
	case "trailing-commas":
		prefs.TrailingCommas = value
	case "naming":
		prefs.Naming = value
	default:
		return nil
	}
	return l.store.Write(ctx, preferencesKey, prefs)
}

// Preferences returns the promoted style profile.
func (l *StyleLearner) Preferences(ctx context.Context) (Preferences, error) {
	var prefs Preferences
	_, err := l.store.Read(ctx, preferencesKey, &prefs)
	return prefs, err
}

// Observations lists every tracked pattern, highest confidence first.
func (l *StyleLearner) Observations(ctx context.Context) ([]StyleObservation, error) {
	entries, err := l.store.List(ctx, []string{"memory", "style"})
	if err != nil {
		return nil, err
	}
	out := make([]StyleObservation, 0, len(entries))
	for _, entry := range entries {
		var obs StyleObservation
		if err := entry.Decode(&obs); err != nil {
			continue
		}
		out = append(out, obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Summary renders the profile as a short human-readable clause for the
// context builder, e.g. "tabs indentation, double quotes".
func (l *StyleLearner) Summary(ctx context.Context) string {
	prefs, err := l.Preferences(ctx)
	if err != nil {
		return ""
	}
	var parts []string
	if prefs.Indentation != "" {
		parts = append(parts, prefs.Indentation+" indentation")
	}
	if prefs.Quotes != "" {
		parts = append(parts, prefs.Quotes+" quotes")
	}
	if prefs.Semicolons != "" {
		parts = append(parts, "semicolons "+prefs.Semicolons)
	}
	if prefs.TrailingCommas != "" {
		parts = append(parts, "trailing commas "+prefs.TrailingCommas)
	}
	if prefs.Naming != "" {
		parts = append(parts, prefs.Naming+" naming")
	}
	return strings.Join(parts, ", ")
}

type styleSignal struct {
	pattern string
	example string
}

var identifierRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

// scanStyle extracts style signals from a block of accepted code. Each
// signal carries a clipped sample of the code that produced it.
func scanStyle(code string) []styleSignal {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	var signals []styleSignal
	if s, ok := indentationSignal(code); ok {
		signals = append(signals, s)
	}
	if s, ok := quoteSignal(code); ok {
		signals = append(signals, s)
	}
	if s, ok := semicolonSignal(code); ok {
		signals = append(signals, s)
	}
	if s, ok := trailingCommaSignal(code); ok {
		signals = append(signals, s)
	}
	if s, ok := namingSignal(code); ok {
		signals = append(signals, s)
	}
	sample := clip(strings.TrimSpace(code), 80)
	for i := range signals {
		signals[i].example = sample
	}
	return signals
}

func indentationSignal(code string) (styleSignal, bool) {
	tabs, two, four := 0, 0, 0
	for _, line := range strings.Split(code, "\n") {
		switch {
		case strings.HasPrefix(line, "\t"):
			tabs++
		case strings.HasPrefix(line, "    "):
			four++
		case strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "   "):
			two++
		}
	}
	switch {
	case tabs == 0 && two == 0 && four == 0:
		return styleSignal{}, false
	case tabs >= two && tabs >= four:
		return styleSignal{pattern: "indentation:tabs"}, true
	case four >= two:
		return styleSignal{pattern: "indentation:4-space"}, true
	default:
		return styleSignal{pattern: "indentation:2-space"}, true
	}
}

// quoteSignal counts quote characters outside backtick strings.
func quoteSignal(code string) (styleSignal, bool) {
	single, double := 0, 0
	inBacktick := false
	for _, r := range code {
		switch r {
		case '`':
			inBacktick = !inBacktick
		case '\'':
			if !inBacktick {
				single++
			}
		case '"':
			if !inBacktick {
				double++
			}
		}
	}
	switch {
	case single == 0 && double == 0:
		return styleSignal{}, false
	case single > double:
		return styleSignal{pattern: "quotes:single"}, true
	default:
		return styleSignal{pattern: "quotes:double"}, true
	}
}

func semicolonSignal(code string) (styleSignal, bool) {
	terminated, statements := 0, 0
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasSuffix(trimmed, "{") || strings.HasSuffix(trimmed, "}") || strings.HasSuffix(trimmed, "(") {
			continue
		}
		statements++
		if strings.HasSuffix(trimmed, ";") {
			terminated++
		}
	}
	if statements == 0 {
		return styleSignal{}, false
	}
	if terminated*2 > statements {
		return styleSignal{pattern: "semicolons:always"}, true
	}
	return styleSignal{pattern: "semicolons:never"}, true
}

// trailingCommaSignal looks at multiline literals: a line ending with a
// comma directly before a closing bracket means trailing commas are in
// use.
func trailingCommaSignal(code string) (styleSignal, bool) {
	lines := strings.Split(code, "\n")
	with, without := 0, 0
	for i := 1; i < len(lines); i++ {
		closer := strings.TrimSpace(lines[i])
		if closer == "" || (!strings.HasPrefix(closer, "}") && !strings.HasPrefix(closer, "]") && !strings.HasPrefix(closer, ")")) {
			continue
		}
		prev := strings.TrimSpace(lines[i-1])
		switch {
		case strings.HasSuffix(prev, ","):
			with++
		case prev != "" && !strings.HasSuffix(prev, "{") && !strings.HasSuffix(prev, "[") && !strings.HasSuffix(prev, "("):
			without++
		}
	}
	switch {
	case with == 0 && without == 0:
		return styleSignal{}, false
	case with >= without:
		return styleSignal{pattern: "trailing-commas:always"}, true
	default:
		return styleSignal{pattern: "trailing-commas:never"}, true
	}
}

func namingSignal(code string) (styleSignal, bool) {
	camel, snake, pascal := 0, 0, 0
	for _, ident := range identifierRe.FindAllString(code, -1) {
		switch {
		case strings.Contains(ident, "_") && ident == strings.ToLower(ident):
			snake++
		case ident[0] >= 'A' && ident[0] <= 'Z' && ident != strings.ToUpper(ident):
			pascal++
		case ident[0] >= 'a' && ident[0] <= 'z' && ident != strings.ToLower(ident):
			camel++
		}
	}
	switch {
	case camel == 0 && snake == 0 && pascal == 0:
		return styleSignal{}, false
	case camel >= snake && camel >= pascal:
		return styleSignal{pattern: "naming:camelCase"}, true
	case snake >= pascal:
		return styleSignal{pattern: "naming:snake_case"}, true
	default:
		return styleSignal{pattern: "naming:PascalCase"}, true
	}
}

// diffStyle compares the suggestion with what the user kept and reports
// the shifts the delta reveals: quote changes and semicolon add/remove.
func diffStyle(original, final string) []styleSignal {
	if strings.TrimSpace(original) == "" || strings.TrimSpace(final) == "" {
		return scanStyle(final)
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, final, false)

	var inserted, deleted strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted.WriteString(d.Text)
		}
	}

	var signals []styleSignal
	insSemis := strings.Count(inserted.String(), ";")
	delSemis := strings.Count(deleted.String(), ";")
	if insSemis > delSemis {
		signals = append(signals, styleSignal{pattern: "semicolons:always"})
	} else if delSemis > insSemis {
		signals = append(signals, styleSignal{pattern: "semicolons:never"})
	}

	insSingle := strings.Count(inserted.String(), "'")
	insDouble := strings.Count(inserted.String(), `"`)
	delSingle := strings.Count(deleted.String(), "'")
	delDouble := strings.Count(deleted.String(), `"`)
	if insSingle > 0 && delDouble > 0 && insSingle >= insDouble {
		signals = append(signals, styleSignal{pattern: "quotes:single"})
	} else if insDouble > 0 && delSingle > 0 && insDouble >= insSingle {
		signals = append(signals, styleSignal{pattern: "quotes:double"})
	}
	return signals
}

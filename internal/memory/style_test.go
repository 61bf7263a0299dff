package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"codecoder/internal/storage"
)

func newTestLearner(t *testing.T) *StyleLearner {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewStyleLearner(store)
}

const tabbedGoCode = "\tname := \"value\"\n\tif err != nil {\n\t\treturn err\n\t}\n"

func TestScanStyleSignals(t *testing.T) {
	signals := scanStyle(tabbedGoCode)
	patterns := make([]string, 0, len(signals))
	for _, s := range signals {
		patterns = append(patterns, s.pattern)
	}
	require.Contains(t, patterns, "indentation:tabs")
	require.Contains(t, patterns, "quotes:double")
	require.Contains(t, patterns, "semicolons:never")
}

func TestScanStyleTwoSpaceSingleQuotes(t *testing.T) {
	code := "  const x = 'a';\n  doWork(x);\n"
	signals := scanStyle(code)
	patterns := make([]string, 0, len(signals))
	for _, s := range signals {
		patterns = append(patterns, s.pattern)
	}
	require.Contains(t, patterns, "indentation:2-space")
	require.Contains(t, patterns, "quotes:single")
	require.Contains(t, patterns, "semicolons:always")
}

func TestTrailingCommaDetection(t *testing.T) {
	with := "items := []string{\n\t\"a\",\n\t\"b\",\n}\n"
	signals := scanStyle(with)
	found := false
	for _, s := range signals {
		if s.pattern == "trailing-commas:always" {
			found = true
		}
	}
	require.True(t, found)
}

func TestConfidenceMovesByExponentialAverage(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	choice := EditChoice{Type: ChoiceAccept, FileType: "go", FinalCode: tabbedGoCode}
	require.NoError(t, learner.RecordEditChoice(ctx, choice))

	obs, err := learner.Observations(ctx)
	require.NoError(t, err)
	byPattern := make(map[string]StyleObservation, len(obs))
	for _, o := range obs {
		byPattern[o.Pattern] = o
	}
	require.InDelta(t, 0.3, byPattern["indentation:tabs"].Confidence, 1e-9)
	require.Equal(t, 1, byPattern["indentation:tabs"].Samples)

	require.NoError(t, learner.RecordEditChoice(ctx, choice))
	obs, err = learner.Observations(ctx)
	require.NoError(t, err)
	for _, o := range obs {
		if o.Pattern == "indentation:tabs" {
			require.InDelta(t, 0.51, o.Confidence, 1e-9)
			require.Equal(t, 2, o.Samples)
		}
	}
}

func TestPromotionAboveThreshold(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	choice := EditChoice{Type: ChoiceAccept, FileType: "go", FinalCode: tabbedGoCode}
	// Confidence after n observations is 1-0.7^n: it crosses 0.7 on the
	// fourth.
	for range 3 {
		require.NoError(t, learner.RecordEditChoice(ctx, choice))
	}
	prefs, err := learner.Preferences(ctx)
	require.NoError(t, err)
	require.Empty(t, prefs.Indentation)

	require.NoError(t, learner.RecordEditChoice(ctx, choice))
	prefs, err = learner.Preferences(ctx)
	require.NoError(t, err)
	require.Equal(t, "tabs", prefs.Indentation)
	require.Equal(t, "double", prefs.Quotes)

	require.NotEmpty(t, learner.Summary(ctx))
}

func TestRejectCarriesNoSignal(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	require.NoError(t, learner.RecordEditChoice(ctx, EditChoice{Type: ChoiceReject, FinalCode: tabbedGoCode}))
	obs, err := learner.Observations(ctx)
	require.NoError(t, err)
	require.Empty(t, obs)
}

func TestModifyDetectsQuoteShift(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	err := learner.RecordEditChoice(ctx, EditChoice{
		Type:               ChoiceModify,
		FileType:           "js",
		OriginalSuggestion: `const a = "x"; const b = "y";`,
		FinalCode:          `const a = 'x'; const b = 'y';`,
	})
	require.NoError(t, err)

	obs, err := learner.Observations(ctx)
	require.NoError(t, err)
	patterns := make([]string, 0, len(obs))
	for _, o := range obs {
		patterns = append(patterns, o.Pattern)
	}
	require.Contains(t, patterns, "quotes:single")
}

func TestModifyDetectsSemicolonRemoval(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	err := learner.RecordEditChoice(ctx, EditChoice{
		Type:               ChoiceModify,
		OriginalSuggestion: "let a = 1;\nlet b = 2;",
		FinalCode:          "let a = 1\nlet b = 2",
	})
	require.NoError(t, err)

	obs, err := learner.Observations(ctx)
	require.NoError(t, err)
	var found bool
	for _, o := range obs {
		if o.Pattern == "semicolons:never" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSampleCap(t *testing.T) {
	learner := newTestLearner(t)
	ctx := context.Background()

	for i := range 15 {
		code := "\tcall(" + string(rune('a'+i)) + ")\n"
		require.NoError(t, learner.RecordEditChoice(ctx, EditChoice{Type: ChoiceAccept, FinalCode: code}))
	}
	obs, err := learner.Observations(ctx)
	require.NoError(t, err)
	for _, o := range obs {
		require.LessOrEqual(t, len(o.Examples), maxStyleSamples)
	}
}

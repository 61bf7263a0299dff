// Package writer supervises long-form generation tasks. A book-length
// job streams chapters over many minutes and stalls silently when the
// provider wedges mid-generation; the supervisor watches the gap since
// the last progress report, warns once, and fails the task when the gap
// turns critical.
package writer

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is a parsed chapter-progress marker.
type Progress struct {
	Completed int
	Total     int
}

// progressRe matches the marker the writing prompts ask the model to
// append after finishing each chapter.
var progressRe = regexp.MustCompile(`<!--\s*PROGRESS:\s*(\d+)\s*/\s*(\d+)\s*chapters?\s*-->`)

// ParseProgress extracts the chapter marker from model output. Text that
// carries several markers reports the last one.
func ParseProgress(text string) (Progress, bool) {
	matches := progressRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Progress{}, false
	}
	last := matches[len(matches)-1]
	completed, err := strconv.Atoi(last[1])
	if err != nil {
		return Progress{}, false
	}
	total, err := strconv.Atoi(last[2])
	if err != nil {
		return Progress{}, false
	}
	return Progress{Completed: completed, Total: total}, true
}

// ChunkPlan is a recommended split for a long writing task.
type ChunkPlan struct {
	Chapters        int
	WordsPerChapter int
}

const maxChapters = 40

// SuggestChunkSize recommends how many chapters to split totalWords
// across and how long each should run. Slower provider families get
// shorter chapters so a single generation stays well inside the stall
// thresholds; an unknown length gets one target-sized chapter.
func SuggestChunkSize(totalWords int, providerID string) ChunkPlan {
	target := chapterWords(providerID)
	if totalWords <= 0 {
		return ChunkPlan{Chapters: 1, WordsPerChapter: target}
	}

	chapters := (totalWords + target - 1) / target
	if chapters < 1 {
		chapters = 1
	}
	if chapters > maxChapters {
		chapters = maxChapters
	}
	return ChunkPlan{
		Chapters:        chapters,
		WordsPerChapter: (totalWords + chapters - 1) / chapters,
	}
}

// chapterWords is the per-chapter word target for a provider family.
func chapterWords(providerID string) int {
	id := strings.ToLower(providerID)
	switch {
	case strings.Contains(id, "ollama"),
		strings.Contains(id, "lmstudio"),
		strings.Contains(id, "llama"),
		strings.Contains(id, "local"):
		return 900
	case strings.Contains(id, "anthropic"), strings.Contains(id, "claude"):
		return 1800
	case strings.Contains(id, "openai"), strings.Contains(id, "gpt"):
		return 1600
	default:
		return 1200
	}
}

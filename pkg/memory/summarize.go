package memory

import (
	"regexp"
	"strings"
)

// Summarizer condenses recent user turns into a note summary. The
// default is intentionally crude extraction; a model-backed strategy
// can be swapped in without touching the store.
type Summarizer interface {
	Summarize(userTexts []string) string
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s`)

// FirstSentenceSummarizer takes the first sentence of each turn and
// joins them with " | " under a fixed prefix.
type FirstSentenceSummarizer struct{}

func (FirstSentenceSummarizer) Summarize(userTexts []string) string {
	parts := make([]string, 0, len(userTexts))
	for _, text := range userTexts {
		sentence := firstSentence(text)
		if sentence == "" {
			continue
		}
		parts = append(parts, sentence)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Recent focus: " + strings.Join(parts, " | ")
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		// Keep the terminating punctuation, drop the whitespace.
		return strings.TrimSpace(text[:loc[0]+1])
	}
	return text
}

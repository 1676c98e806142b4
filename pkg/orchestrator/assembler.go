package orchestrator

import "strings"

// sentenceTerminators are the characters that end a sentence, spanning
// both CJK and ASCII punctuation since decoders may emit either depending
// on source language.
var sentenceTerminators = "。！？!?.；;"

// ExtractIncrementalText computes the smallest delta such that
// previous ⊕ delta yields the assembler's new view of current. The six
// rules run in order; each one returns as soon as it applies.
func ExtractIncrementalText(previous, current string) string {
	if current == "" {
		return ""
	}
	if previous == "" {
		return current
	}
	if strings.HasPrefix(current, previous) {
		return current[len(previous):]
	}
	if strings.Contains(previous, current) {
		return ""
	}

	maxOverlap := len(previous)
	if len(current) < maxOverlap {
		maxOverlap = len(current)
	}
	for overlap := maxOverlap; overlap > 0; overlap-- {
		if previous[len(previous)-overlap:] == current[:overlap] {
			return current[overlap:]
		}
	}

	if endsWithTerminator(previous) {
		return current
	}
	return " " + current
}

func endsWithTerminator(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	last := r[len(r)-1]
	return strings.ContainsRune(sentenceTerminators, last)
}

// SplitBySentenceEnd scans text for sentence-terminating punctuation and
// returns the complete sentences found, plus whatever remains after the
// last terminator. A matched sentence shorter than minChars is not
// emitted on its own; it is merged forward by simply leaving it attached
// to the next terminator's span.
func SplitBySentenceEnd(text string, minChars int) (sentences []string, remainder string) {
	runes := []rune(text)
	var pending []rune
	lastEnd := 0

	for i, r := range runes {
		pending = append(pending, r)
		if strings.ContainsRune(sentenceTerminators, r) {
			trimmed := strings.TrimSpace(string(pending))
			if len([]rune(trimmed)) >= minChars {
				sentences = append(sentences, trimmed)
				pending = nil
				lastEnd = i + 1
			}
			// else: too short, keep accumulating into pending so it
			// merges forward into the next terminated span.
		}
	}

	if lastEnd < len(runes) {
		remainder = strings.TrimSpace(string(runes[lastEnd:]))
	} else {
		remainder = strings.TrimSpace(string(pending))
	}
	if len(sentences) == 0 {
		remainder = strings.TrimSpace(text)
	}
	return sentences, remainder
}

// TextZones implements the two-zone model for backends that run both an
// online (fast) and offline (accurate) pass: stable_text is everything up
// to and including the last sentence terminator; unstable_text is
// whatever the decoder has produced since then. Only unstable_text is
// re-punctuated on each online update.
type TextZones struct {
	Stable   string
	Unstable string
}

// Update folds a new decoder view into the zones, re-splitting it so any
// newly terminated sentences move from Unstable into Stable.
func (z *TextZones) Update(fullText string, minSentenceChars int) {
	sentences, remainder := SplitBySentenceEnd(fullText, minSentenceChars)
	if len(sentences) > 0 {
		z.Stable = strings.Join(sentences, "")
	}
	z.Unstable = remainder
}

// Reset clears both zones, used on segment commit and reset_session.
func (z *TextZones) Reset() {
	z.Stable = ""
	z.Unstable = ""
}

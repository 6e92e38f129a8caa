package ai

import (
	"regexp"
	"strings"
	"unicode"
)

// overlapWindow bounds how much of each side is inspected when merging
// a continuation; overlapMaxWords caps the repeated-word run we strip.
const (
	overlapWindow   = 200
	overlapMaxWords = 10
)

// minCompleteLength is the floor below which a response is assumed to
// have been cut off regardless of its shape.
const minCompleteLength = 50

var listMarkerPattern = regexp.MustCompile(`^([-*+]|\d+[.)])$`)

// connectiveWords are words that never end a finished answer. A
// response whose final word is one of these was cut off mid-sentence.
var connectiveWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "so": {}, "because": {},
	"however": {}, "therefore": {}, "additionally": {}, "furthermore": {},
	"moreover": {}, "meanwhile": {}, "although": {}, "while": {},
	"since": {}, "thus": {}, "hence": {}, "also": {}, "then": {},
	"the": {}, "a": {}, "an": {}, "of": {}, "to": {}, "in": {},
	"with": {}, "for": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"as": {}, "by": {}, "at": {}, "on": {}, "that": {}, "which": {},
}

// looksIncomplete applies cheap textual heuristics to decide whether a
// response was truncated by the provider. False positives cost one
// redundant continuation round-trip; false negatives cost a truncated
// result, so the heuristics lean toward reporting incomplete.
func looksIncomplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minCompleteLength {
		return true
	}

	// An odd number of code fences means a block was opened and never
	// closed.
	if strings.Count(trimmed, "```")%2 == 1 {
		return true
	}

	lines := strings.Split(trimmed, "\n")
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if listMarkerPattern.MatchString(lastLine) {
		return true
	}
	if strings.HasPrefix(lastLine, "#") {
		return true
	}

	words := strings.Fields(trimmed)
	lastWord := strings.ToLower(strings.Trim(words[len(words)-1], ",;:()[]{}\"'"))
	if _, ok := connectiveWords[lastWord]; ok {
		return true
	}

	// Ending on a bare letter or digit with no sentence-terminal
	// punctuation anywhere near the end reads as a mid-word or
	// mid-number cut.
	tail := trimmed
	if len(tail) > 100 {
		tail = tail[len(tail)-100:]
	}
	lastRune := []rune(trimmed)[len([]rune(trimmed))-1]
	if (unicode.IsLetter(lastRune) || unicode.IsDigit(lastRune)) && !strings.ContainsAny(tail, ".!?") {
		return true
	}

	return false
}

// stripOverlap removes from continuation any leading word run that
// repeats the tail of existing. Models asked to continue frequently
// restate the last phrase before producing new text; without this the
// merged answer contains the phrase twice.
func stripOverlap(existing, continuation string) string {
	tail := existing
	if len(tail) > overlapWindow {
		tail = tail[len(tail)-overlapWindow:]
	}
	head := continuation
	if len(head) > overlapWindow {
		head = head[:overlapWindow]
	}

	tailWords := strings.Fields(tail)
	if len(tailWords) > overlapMaxWords {
		tailWords = tailWords[len(tailWords)-overlapMaxWords:]
	}
	headWords, headEnds := fieldsWithEnds(head)
	if len(headWords) > overlapMaxWords {
		headWords = headWords[:overlapMaxWords]
		headEnds = headEnds[:overlapMaxWords]
	}

	max := len(tailWords)
	if len(headWords) < max {
		max = len(headWords)
	}

	for n := max; n > 0; n-- {
		if wordsEqualFold(tailWords[len(tailWords)-n:], headWords[:n]) {
			return continuation[headEnds[n-1]:]
		}
	}
	return continuation
}

// fieldsWithEnds splits s into whitespace-separated words and records
// the byte offset just past each word, so a matched prefix can be cut
// from the original string.
func fieldsWithEnds(s string) ([]string, []int) {
	var words []string
	var ends []int
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, s[start:i])
				ends = append(ends, i)
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
		ends = append(ends, len(s))
	}
	return words, ends
}

func wordsEqualFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

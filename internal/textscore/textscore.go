// Package textscore ranks text content against keyword queries. It backs
// both memory recall and local document search so the two stay on the same
// formula.
package textscore

import (
	"strings"
	"unicode"
)

// Tokenize yields word tokens for alphanumeric runs and overlapping
// bigrams for Han runs, so Chinese queries match on shared characters
// without a segmentation library.
func Tokenize(s string) []string {
	var tokens []string
	var word []rune
	var han []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushHan := func() {
		if len(han) == 1 {
			tokens = append(tokens, string(han))
		}
		for i := 0; i+1 < len(han); i++ {
			tokens = append(tokens, string(han[i:i+2]))
		}
		han = han[:0]
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// Score ranks lowercased content against a lowercased query: exact
// substring containment in either direction scores 2.0, the fraction of
// query tokens found in the content adds up to 1.5, and per-token
// frequency capped at 5 adds 0.1 each. Zero means no match.
func Score(contentLower, queryLower string, queryTokens []string) float64 {
	var score float64

	if strings.Contains(contentLower, queryLower) || strings.Contains(queryLower, contentLower) {
		score += 2.0
	}

	if len(queryTokens) > 0 {
		matched := 0
		for _, tok := range queryTokens {
			if strings.Contains(contentLower, tok) {
				matched++
			}
		}
		score += 1.5 * float64(matched) / float64(len(queryTokens))

		for _, tok := range queryTokens {
			freq := strings.Count(contentLower, tok)
			if freq > 5 {
				freq = 5
			}
			score += 0.1 * float64(freq)
		}
	}

	return score
}

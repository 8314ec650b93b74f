package responder

import "strings"

// SplitSentences segments response text into the units that get synthesized
// and shipped as individual audio chunks. A unit ends at sentence punctuation
// followed by whitespace (or end of text), so decimals and expressions like
// "3.14" stay intact. Whitespace-only units are dropped; text without any
// sentence punctuation comes back as a single unit.
func SplitSentences(text string) []string {
	var sentences []string
	var builder strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		builder.WriteRune(r)
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !isBoundary(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(builder.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		builder.Reset()
	}

	if sentence := strings.TrimSpace(builder.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isBoundary(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '"', '\'', ')', ']':
		return true
	}
	return false
}

package parse

import (
	"strings"
	"unicode/utf8"
)

// Window bounds in estimated tokens.
const (
	WindowMin = 512
	WindowMax = 1024
)

// EstimateTokens approximates the token count of a model tokenizer without
// shipping one: roughly four characters per token for prose, with a floor of
// one token per whitespace-separated word. Numeric tables tokenize denser
// than prose, which the word floor captures.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	chars := utf8.RuneCountInString(s)
	words := len(strings.Fields(s))
	est := chars / 4
	if words > est {
		est = words
	}
	if est == 0 {
		est = 1
	}
	return est
}

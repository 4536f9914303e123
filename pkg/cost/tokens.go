package cost

import "unicode/utf8"

const charsPerToken = 4

// EstimateTokens approximates the token count of text as one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

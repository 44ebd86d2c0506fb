package core

// EstimateTokens approximates the token count of text. One token is roughly
// four characters of English text; the estimate rounds up so that budget
// checks err on the conservative side.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

package modelrouter

// TokenEstimator returns an approximate prompt token count.
type TokenEstimator func(prompt string) int

// EstimateTokens provides a rough token count estimate for a prompt.
// Uses the approximation: ~4 chars per token + fixed request overhead.
func EstimateTokens(prompt string) int {
	// ~4 chars per token
	n := len(prompt) / 4
	// role/formatting overhead of the single user message + request base
	return n + 7
}

// fits reports whether a prompt plus maxTokens of output fit the model context window.
func fits(d ModelDescriptor, promptTokens, maxTokens int) bool {
	return promptTokens+maxTokens <= d.MaxContextTokens
}

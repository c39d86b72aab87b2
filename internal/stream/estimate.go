package stream

// CharsPerToken is the rough character-to-token ratio used for running
// estimates surfaced to the UI and for compaction triggering. Never used for
// billing.
const CharsPerToken = 3.5

// Estimator keeps a running token estimate from observed characters.
type Estimator struct {
	chars int
}

// Observe adds a chunk to the running count.
func (e *Estimator) Observe(chunk string) {
	e.chars += len(chunk)
}

// Tokens returns the current estimate.
func (e *Estimator) Tokens() int {
	return EstimateTokens(e.chars)
}

// EstimateTokens converts a character count to an estimated token count.
func EstimateTokens(chars int) int {
	return int(float64(chars) / CharsPerToken)
}

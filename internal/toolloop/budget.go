package toolloop

// ContextBudget derives a capacity budget in bytes from the remaining
// context window, per spec.md §5's back-pressure rule: "budget − used −
// safety margin, expressed in bytes (≈ 4 × available tokens)." Grounded on
// original_source's context-usage heuristic (SPEC_FULL.md §3's "context
// usage / token estimation heuristic" supplemented feature) — the teacher
// has no analogous byte-budget, estimating tokens only for display.
type ContextBudget struct {
	windowTokens int
	usedTokens   int
	safetyMargin int
	remaining    int
}

// NewContextBudget computes the initial byte budget. safetyMarginTokens is
// reserved headroom (e.g. for the model's own reply) never spent on tool
// output.
func NewContextBudget(windowTokens, usedTokens, safetyMarginTokens int) *ContextBudget {
	b := &ContextBudget{windowTokens: windowTokens, usedTokens: usedTokens, safetyMargin: safetyMarginTokens}
	b.remaining = tokensToBytes(remainingTokens(windowTokens, usedTokens, safetyMarginTokens))
	return b
}

func remainingTokens(window, used, margin int) int {
	r := window - used - margin
	if r < 0 {
		return 0
	}
	return r
}

// tokensToBytes applies the spec's fixed 4-bytes-per-token heuristic.
func tokensToBytes(tokens int) int {
	return tokens * 4
}

// Remaining returns the current byte capacity available to the next call in
// the batch.
func (b *ContextBudget) Remaining() int {
	return b.remaining
}

// OutputCap returns the effective output-size cap for the next spawn: the
// smaller of the configured max_output_bytes and the remaining capacity,
// per spec.md §4.8.4.
func (b *ContextBudget) OutputCap(maxOutputBytes int) int {
	if b.remaining < maxOutputBytes {
		return b.remaining
	}
	return maxOutputBytes
}

// Spend subtracts a committed result's size from the budget for subsequent
// calls in the same batch, per spec.md §5.
func (b *ContextBudget) Spend(resultBytes int) {
	b.remaining -= resultBytes
	if b.remaining < 0 {
		b.remaining = 0
	}
}

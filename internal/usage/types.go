// Package usage tracks per-turn token consumption and estimates cost,
// grounded on the teacher's internal/usage package. The teacher loads usage
// history from Claude Code/Codex CLI/Gemini CLI transcript files on disk;
// this engine has no equivalent transcript files, so entries are recorded
// directly from stream.Controller's llm.Usage accounting instead of parsed
// off a log file.
package usage

import "time"

// Entry represents token usage from a single streamed turn.
type Entry struct {
	Timestamp         time.Time
	SessionID         string
	Model             string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int // prompt-cache hit, billed at the cache-read rate
	CacheWriteTokens  int // prompt-cache creation, billed at the cache-write rate
	CostUSD           float64
}

// TotalTokens returns the sum of all token categories.
func (e Entry) TotalTokens() int {
	return e.InputTokens + e.OutputTokens + e.CachedInputTokens + e.CacheWriteTokens
}

// DailyUsage aggregates every Entry recorded on a single calendar day.
type DailyUsage struct {
	Date              string // YYYY-MM-DD
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	CacheWriteTokens  int
	TotalCost         float64
	ModelsUsed        []string
}

// TotalTokens returns the sum of all token categories for the day.
func (d DailyUsage) TotalTokens() int {
	return d.InputTokens + d.OutputTokens + d.CachedInputTokens + d.CacheWriteTokens
}

// ModelBreakdown aggregates every Entry recorded against a single model.
type ModelBreakdown struct {
	Model             string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	CacheWriteTokens  int
	Cost              float64
}

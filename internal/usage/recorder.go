package usage

import (
	"sync"
	"time"

	"github.com/forgeai/engine/internal/llm"
)

// Recorder accumulates Entry records for the lifetime of a process,
// fed directly from stream.Controller's terminal llm.Usage rather than
// parsed from a CLI transcript file on disk (the teacher's loaders read
// Claude Code/Codex/Gemini CLI log files; this engine is the only writer
// of its own usage, so it records as it streams).
type Recorder struct {
	mu      sync.Mutex
	pricing *PricingFetcher
	entries []Entry
}

func NewRecorder(pricing *PricingFetcher) *Recorder {
	return &Recorder{pricing: pricing}
}

// Record converts one step's provider usage into an Entry, estimating cost
// via the pricing fetcher on a best-effort basis: a pricing miss (unknown
// model, fetch failure) records zero cost rather than dropping the entry,
// since token counts remain meaningful without it.
func (r *Recorder) Record(sessionID, model string, u llm.Usage) Entry {
	e := Entry{
		Timestamp:         time.Now(),
		SessionID:         sessionID,
		Model:             model,
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		CachedInputTokens: u.CachedInputTokens,
		CacheWriteTokens:  u.CacheWriteTokens,
	}
	if r.pricing != nil {
		if cost, err := r.pricing.CalculateCost(e); err == nil {
			e.CostUSD = cost
		}
	}

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return e
}

// Entries returns a snapshot of every entry recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Totals sums every recorded entry's token counts and cost.
func (r *Recorder) Totals() Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Entry
	for _, e := range r.entries {
		total.InputTokens += e.InputTokens
		total.OutputTokens += e.OutputTokens
		total.CachedInputTokens += e.CachedInputTokens
		total.CacheWriteTokens += e.CacheWriteTokens
		total.CostUSD += e.CostUSD
	}
	return total
}

package llm

import "sync"

// MessageID is a monotonically increasing integer assigned on insertion
// (invariant (i): the sequence of message ids is 0, 1, 2, ... contiguous).
// A History is not rebuilt from the journal or the session file, so ids
// start again at 0 in every new History, including after a restart.
type MessageID int64

// Entry pairs a committed Message with its assigned id and a cached token
// count, so later estimation work doesn't need to re-tokenize history.
type Entry struct {
	ID           MessageID
	Message      Message
	CachedTokens int
}

// Summary covers a half-open range of message ids [FromID, ToID) and marks
// the covered messages as "summarised" without deleting them. Restoration
// is possible when budget expands (Open Question 9c): policy is monotonic,
// only ever adding summaries back to the restored set, never removing one
// once restored.
type Summary struct {
	FromID    MessageID
	ToID      MessageID
	Text      string
	Restored  bool
	CreatedAt int64 // unix millis; stamped by the caller, not by History itself
}

// History is an ordered, append-only sequence of messages plus their
// summaries. All mutation is serialized by mu so the engine's single
// goroutine (and any background journal-recovery path) can share it
// safely without the caller needing to reason about locking.
type History struct {
	mu        sync.Mutex
	entries   []Entry
	summaries []Summary
	nextID    MessageID
}

func NewHistory() *History {
	return &History{}
}

// Append commits a message and returns its assigned id. It does not check
// invariant (ii): an empty Assistant message is accepted like any other.
func (h *History) Append(msg Message, cachedTokens int) MessageID {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.entries = append(h.entries, Entry{ID: id, Message: msg, CachedTokens: cachedTokens})
	return id
}

// AppendBatch commits several messages atomically with respect to id
// assignment, preserving canonical order (invariant (vi)): callers pass
// them already ordered as text, then ToolUse(s), then ToolResult(s).
func (h *History) AppendBatch(msgs []Message) []MessageID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]MessageID, len(msgs))
	for i, m := range msgs {
		ids[i] = h.nextID
		h.nextID++
		h.entries = append(h.entries, Entry{ID: ids[i], Message: m})
	}
	return ids
}

// Entries returns a snapshot copy of the committed history.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of committed messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// NextID previews the id the next Append would assign, without mutating
// state.
func (h *History) NextID() MessageID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextID
}

// Summarize records a summary covering [from, to) without deleting the
// underlying messages, per the Data Model's Summary contract.
func (h *History) Summarize(from, to MessageID, text string, createdAtUnixMs int64) Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Summary{FromID: from, ToID: to, Text: text, CreatedAt: createdAtUnixMs}
	h.summaries = append(h.summaries, s)
	return s
}

// Summaries returns a snapshot of all recorded summaries.
func (h *History) Summaries() []Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Summary, len(h.summaries))
	copy(out, h.summaries)
	return out
}

// RestoreSummary marks a previously recorded summary as restored (its
// covered messages should be treated as live again by anyone rendering
// context). Restoration is monotonic: once restored, a summary is never
// marked un-restored again, satisfying Open Question 9c's policy.
func (h *History) RestoreSummary(from, to MessageID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.summaries {
		if h.summaries[i].FromID == from && h.summaries[i].ToID == to {
			h.summaries[i].Restored = true
			return true
		}
	}
	return false
}

// IsContiguous checks invariant (i): message ids are 0, 1, 2, ... with no
// gaps. Exposed for tests and for the recovery path's consistency checks.
func (h *History) IsContiguous() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if int64(e.ID) != int64(i) {
			return false
		}
	}
	return true
}

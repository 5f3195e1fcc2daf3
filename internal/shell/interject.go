package shell

// Interject queues a user message to be inserted after the current batch's
// tool results, right before the next streaming request — SPEC_FULL.md §3's
// supplemented "queued user message" feature, grounded on the teacher's
// Engine.Interject. Non-blocking: if an interjection is already pending, the
// new one replaces it (only the latest is kept). Safe to call from any
// goroutine while RunTurn is in progress on its own.
func (e *Engine) Interject(text string) {
	e.interjectMu.Lock()
	if e.interjection == nil {
		e.interjection = make(chan string, 1)
	}
	ch := e.interjection
	e.interjectMu.Unlock()

	select {
	case <-ch:
	default:
	}
	ch <- text
}

// DrainInterjection returns the pending interjection text, or "" if none.
// Non-blocking. Exported so a caller can recover a pending interjection that
// was never consumed because the turn ended before reaching a tool boundary.
func (e *Engine) DrainInterjection() string {
	e.interjectMu.Lock()
	ch := e.interjection
	e.interjectMu.Unlock()

	if ch == nil {
		return ""
	}
	select {
	case text := <-ch:
		return text
	default:
		return ""
	}
}

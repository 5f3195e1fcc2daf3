package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// DeltaKind mirrors internal/llm's EventType for the subset persisted to the
// stream journal, kept as an independent string type so the journal package
// has no dependency on internal/llm (it's a leaf in the package graph).
type DeltaKind string

const (
	DeltaText              DeltaKind = "text"
	DeltaThinking          DeltaKind = "thinking-delta"
	DeltaThinkingSignature DeltaKind = "thinking-signature"
	DeltaToolStart         DeltaKind = "tool-start"
	DeltaToolArgDelta      DeltaKind = "tool-arg-delta"
	DeltaDone              DeltaKind = "done"
	DeltaError             DeltaKind = "error"
)

// Delta is one persisted stream event.
type Delta struct {
	Sequence int64
	Kind     DeltaKind
	Payload  json.RawMessage
}

// Outcome classifies a recovered unsealed step, per spec.md §4.3.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeIncomplete Outcome = "incomplete"
)

// RecoveredStep is what recover() returns for the most recent unsealed step.
type RecoveredStep struct {
	StepID  int64
	Outcome Outcome
	Deltas  []Delta
}

// StreamJournal is the append-only, step-id-keyed log of provider stream
// deltas described in spec.md §4.3.
type StreamJournal struct {
	db    *DB
	audit *AuditLogger
}

func NewStreamJournal(db *DB, audit *AuditLogger) *StreamJournal {
	return &StreamJournal{db: db, audit: audit}
}

// BeginSession allocates a new step-id and returns its handle.
func (j *StreamJournal) BeginSession() (int64, error) {
	res, err := j.db.sql.Exec(`INSERT INTO stream_steps (sealed) VALUES (FALSE)`)
	if err != nil {
		return 0, fmt.Errorf("journal: begin stream session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: read new step id: %w", err)
	}
	return id, nil
}

// AppendDelta durably records one event for stepID. Ordering invariant: the
// caller is responsible for supplying contiguous sequence numbers from 1;
// AppendDelta itself only enforces durability, not sequencing, because the
// engine thread is the sole writer and already serialises calls.
func (j *StreamJournal) AppendDelta(stepID int64, seq int64, kind DeltaKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("journal: marshal delta payload: %w", err)
	}
	_, err = j.db.sql.Exec(
		`INSERT INTO stream_deltas (step_id, sequence, kind, payload) VALUES (?, ?, ?, ?)`,
		stepID, seq, string(kind), string(raw),
	)
	if err != nil {
		return fmt.Errorf("journal: append delta for step %d: %w", stepID, err)
	}
	return nil
}

// Seal marks a step complete.
func (j *StreamJournal) Seal(stepID int64, outcome Outcome) error {
	_, err := j.db.sql.Exec(`UPDATE stream_steps SET sealed = TRUE, outcome = ? WHERE step_id = ?`, string(outcome), stepID)
	if err != nil {
		return fmt.Errorf("journal: seal step %d: %w", stepID, err)
	}
	if j.audit != nil {
		j.audit.StepSealed(stepID, string(outcome))
	}
	return nil
}

// DiscardUnsealed removes a step whose outcome is no longer useful, e.g. a
// cancellation.
func (j *StreamJournal) DiscardUnsealed(stepID int64) error {
	_, err := j.db.sql.Exec(`DELETE FROM stream_steps WHERE step_id = ? AND sealed = FALSE`, stepID)
	if err != nil {
		return fmt.Errorf("journal: discard step %d: %w", stepID, err)
	}
	if j.audit != nil {
		j.audit.StepDiscarded(stepID)
	}
	return nil
}

// Recover returns the most recent unsealed step, if any.
func (j *StreamJournal) Recover() (*RecoveredStep, error) {
	row := j.db.sql.QueryRow(`SELECT step_id FROM stream_steps WHERE sealed = FALSE ORDER BY step_id DESC LIMIT 1`)
	var stepID int64
	if err := row.Scan(&stepID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: query unsealed step: %w", err)
	}

	rows, err := j.db.sql.Query(`SELECT sequence, kind, payload FROM stream_deltas WHERE step_id = ? ORDER BY sequence ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("journal: query deltas for step %d: %w", stepID, err)
	}
	defer rows.Close()

	var deltas []Delta
	sawDone := false
	for rows.Next() {
		var d Delta
		var kind string
		if err := rows.Scan(&d.Sequence, &kind, &d.Payload); err != nil {
			return nil, fmt.Errorf("journal: scan delta: %w", err)
		}
		d.Kind = DeltaKind(kind)
		if d.Kind == DeltaDone {
			sawDone = true
		}
		deltas = append(deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcome := OutcomeIncomplete
	if sawDone {
		outcome = OutcomeComplete
	}
	return &RecoveredStep{StepID: stepID, Outcome: outcome, Deltas: deltas}, nil
}

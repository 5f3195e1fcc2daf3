package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CallRecord is the wire shape of one planned tool call, persisted as part
// of a batch's durable record before any executor runs (invariant (iii)).
type CallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResultRecord is a persisted tool result.
type ResultRecord struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// PendingBatch is what Recover yields: at most one pending batch per
// process, per spec.md §4.4.
type PendingBatch struct {
	BatchID        int64
	StepID         int64
	Model          string
	AssistantText  string
	ThinkingReplay string
	Calls          []CallRecord
	Results        []ResultRecord
}

// ErrConflictingResult is returned by RecordResult when the (batch, call-id)
// pair already has a different persisted result — this is the double-commit
// detector that triggers the tool gate per spec.md §4.4.
var ErrConflictingResult = errors.New("journal: conflicting tool result already recorded")

// ToolJournal is the batch-scoped durable record of tool calls, process
// metadata, and results described in spec.md §4.4.
type ToolJournal struct {
	db    *DB
	audit *AuditLogger
}

func NewToolJournal(db *DB, audit *AuditLogger) *ToolJournal {
	return &ToolJournal{db: db, audit: audit}
}

// BeginBatch persists the batch's pre-execution record — assistant text,
// replay state, and the full call list — establishing the
// JournalStatus::Present capability required before any executor runs.
func (j *ToolJournal) BeginBatch(stepID int64, model, assistantText, thinkingReplay string, calls []CallRecord) (int64, error) {
	rawCalls, err := json.Marshal(calls)
	if err != nil {
		return 0, fmt.Errorf("journal: marshal calls: %w", err)
	}
	res, err := j.db.sql.Exec(
		`INSERT INTO tool_batches (step_id, model, assistant_text, thinking_replay, calls) VALUES (?, ?, ?, ?, ?)`,
		stepID, model, assistantText, thinkingReplay, string(rawCalls),
	)
	if err != nil {
		return 0, fmt.Errorf("journal: begin tool batch: %w", err)
	}
	return res.LastInsertId()
}

func (j *ToolJournal) UpdateAssistantText(batchID int64, text string) error {
	_, err := j.db.sql.Exec(`UPDATE tool_batches SET assistant_text = ? WHERE batch_id = ?`, text, batchID)
	if err != nil {
		return fmt.Errorf("journal: update assistant text for batch %d: %w", batchID, err)
	}
	return nil
}

func (j *ToolJournal) UpdateThinkingReplay(batchID int64, replay string) error {
	_, err := j.db.sql.Exec(`UPDATE tool_batches SET thinking_replay = ? WHERE batch_id = ?`, replay, batchID)
	if err != nil {
		return fmt.Errorf("journal: update thinking replay for batch %d: %w", batchID, err)
	}
	return nil
}

// RecordCallProcess persists a spawned process's pid and start time, used by
// the Run tool; non-process tools skip this call.
func (j *ToolJournal) RecordCallProcess(batchID int64, callID string, pid int, startedAtMs int64) error {
	_, err := j.db.sql.Exec(
		`INSERT OR REPLACE INTO tool_processes (batch_id, call_id, pid, started_at_ms) VALUES (?, ?, ?, ?)`,
		batchID, callID, pid, startedAtMs,
	)
	if err != nil {
		return fmt.Errorf("journal: record call process for batch %d call %s: %w", batchID, callID, err)
	}
	return nil
}

// RecordResult persists one tool result. It returns ErrConflictingResult if
// a different result for the same (batch, call-id) already exists.
func (j *ToolJournal) RecordResult(batchID int64, r ResultRecord) error {
	var existingContent string
	var existingIsError bool
	row := j.db.sql.QueryRow(`SELECT content, is_error FROM tool_results WHERE batch_id = ? AND call_id = ?`, batchID, r.CallID)
	err := row.Scan(&existingContent, &existingIsError)
	switch {
	case err == nil:
		if existingContent != r.Content || existingIsError != r.IsError {
			return ErrConflictingResult
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		_, err := j.db.sql.Exec(
			`INSERT INTO tool_results (batch_id, call_id, content, is_error) VALUES (?, ?, ?, ?)`,
			batchID, r.CallID, r.Content, r.IsError,
		)
		if err != nil {
			return fmt.Errorf("journal: record result for batch %d call %s: %w", batchID, r.CallID, err)
		}
		return nil
	default:
		return fmt.Errorf("journal: check existing result: %w", err)
	}
}

func (j *ToolJournal) CommitBatch(batchID int64) error {
	res, err := j.db.sql.Exec(`UPDATE tool_batches SET committed = TRUE WHERE batch_id = ? AND committed = FALSE AND discarded = FALSE`, batchID)
	if err != nil {
		return fmt.Errorf("journal: commit batch %d: %w", batchID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Idempotent per spec.md §8: a second commit of the same batch is a
		// no-op, not an error — the caller already observed Idle.
		return nil
	}
	if j.audit != nil {
		var count int
		_ = j.db.sql.QueryRow(`SELECT COUNT(*) FROM tool_results WHERE batch_id = ?`, batchID).Scan(&count)
		j.audit.BatchCommitted(batchID, count)
	}
	return nil
}

func (j *ToolJournal) DiscardBatch(batchID int64) error {
	_, err := j.db.sql.Exec(`UPDATE tool_batches SET discarded = TRUE WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("journal: discard batch %d: %w", batchID, err)
	}
	if j.audit != nil {
		j.audit.BatchDiscarded(batchID)
	}
	return nil
}

// Recover yields at most one pending (uncommitted, undiscarded) batch.
func (j *ToolJournal) Recover() (*PendingBatch, error) {
	row := j.db.sql.QueryRow(`SELECT batch_id, step_id, model, assistant_text, thinking_replay, calls FROM tool_batches WHERE committed = FALSE AND discarded = FALSE ORDER BY batch_id DESC LIMIT 1`)
	var pb PendingBatch
	var rawCalls string
	var thinkingReplay sql.NullString
	if err := row.Scan(&pb.BatchID, &pb.StepID, &pb.Model, &pb.AssistantText, &thinkingReplay, &rawCalls); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: query pending batch: %w", err)
	}
	pb.ThinkingReplay = thinkingReplay.String
	if err := json.Unmarshal([]byte(rawCalls), &pb.Calls); err != nil {
		return nil, fmt.Errorf("journal: unmarshal calls for batch %d: %w", pb.BatchID, err)
	}

	rows, err := j.db.sql.Query(`SELECT call_id, content, is_error FROM tool_results WHERE batch_id = ?`, pb.BatchID)
	if err != nil {
		return nil, fmt.Errorf("journal: query results for batch %d: %w", pb.BatchID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var r ResultRecord
		if err := rows.Scan(&r.CallID, &r.Content, &r.IsError); err != nil {
			return nil, fmt.Errorf("journal: scan result: %w", err)
		}
		pb.Results = append(pb.Results, r)
	}
	return &pb, rows.Err()
}

package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStreamJournal_SealAndRecover(t *testing.T) {
	db := newTestDB(t)
	j := NewStreamJournal(db, nil)

	stepID, err := j.BeginSession()
	require.NoError(t, err)

	require.NoError(t, j.AppendDelta(stepID, 1, DeltaText, map[string]string{"text": "hello"}))
	require.NoError(t, j.AppendDelta(stepID, 2, DeltaDone, map[string]string{}))
	require.NoError(t, j.Seal(stepID, OutcomeComplete))

	rec, err := j.Recover()
	require.NoError(t, err)
	require.Nil(t, rec, "a sealed step must not be recoverable")
}

func TestStreamJournal_RecoversUnsealedAsIncomplete(t *testing.T) {
	db := newTestDB(t)
	j := NewStreamJournal(db, nil)

	stepID, err := j.BeginSession()
	require.NoError(t, err)
	require.NoError(t, j.AppendDelta(stepID, 1, DeltaText, map[string]string{"text": "partial"}))

	rec, err := j.Recover()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, stepID, rec.StepID)
	require.Equal(t, OutcomeIncomplete, rec.Outcome)
	require.Len(t, rec.Deltas, 1)
}

func TestStreamJournal_RecoversUnsealedAsCompleteWhenDoneSeen(t *testing.T) {
	db := newTestDB(t)
	j := NewStreamJournal(db, nil)

	stepID, err := j.BeginSession()
	require.NoError(t, err)
	require.NoError(t, j.AppendDelta(stepID, 1, DeltaText, map[string]string{"text": "x"}))
	require.NoError(t, j.AppendDelta(stepID, 2, DeltaDone, map[string]string{}))

	rec, err := j.Recover()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, OutcomeComplete, rec.Outcome)
}

func TestToolJournal_BeginRecordCommit(t *testing.T) {
	db := newTestDB(t)
	j := NewToolJournal(db, nil)

	calls := []CallRecord{{ID: "c1", Name: "Read", Arguments: []byte(`{"path":"README"}`)}}
	batchID, err := j.BeginBatch(1, "claude-test", "Let me read it.", "", calls)
	require.NoError(t, err)

	require.NoError(t, j.RecordResult(batchID, ResultRecord{CallID: "c1", Content: "hello world", IsError: false}))
	require.NoError(t, j.CommitBatch(batchID))

	// Idempotent second commit must not error (spec.md §8).
	require.NoError(t, j.CommitBatch(batchID))

	pending, err := j.Recover()
	require.NoError(t, err)
	require.Nil(t, pending, "a committed batch must not be recoverable")
}

func TestToolJournal_RecordResult_ConflictDetection(t *testing.T) {
	db := newTestDB(t)
	j := NewToolJournal(db, nil)

	batchID, err := j.BeginBatch(1, "m", "", "", []CallRecord{{ID: "c1", Name: "Read"}})
	require.NoError(t, err)

	require.NoError(t, j.RecordResult(batchID, ResultRecord{CallID: "c1", Content: "a"}))
	require.NoError(t, j.RecordResult(batchID, ResultRecord{CallID: "c1", Content: "a"}), "identical re-record is not a conflict")

	err = j.RecordResult(batchID, ResultRecord{CallID: "c1", Content: "b"})
	require.ErrorIs(t, err, ErrConflictingResult)
}

func TestToolJournal_RecoverPendingBatch(t *testing.T) {
	db := newTestDB(t)
	j := NewToolJournal(db, nil)

	calls := []CallRecord{{ID: "c1", Name: "Edit"}}
	batchID, err := j.BeginBatch(5, "m", "assistant text", "", calls)
	require.NoError(t, err)

	pending, err := j.Recover()
	require.NoError(t, err)
	require.NotNil(t, pending)
	require.Equal(t, batchID, pending.BatchID)
	require.Empty(t, pending.Results, "crash before any tool finished yields an empty result set")

	require.NoError(t, j.DiscardBatch(batchID))
	pending, err = j.Recover()
	require.NoError(t, err)
	require.Nil(t, pending)
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/forgeai/engine/internal/llm"
)

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

func filepathAbsCwd() (string, error) {
	return os.Getwd()
}

// sessionID mints a trace id for correlating this run's log lines and
// usage entries, grounded on the pack's use of google/uuid for exactly
// this purpose.
func sessionID() string {
	return uuid.NewString()
}

// sessionAutosaveFunc persists the full committed history as one JSON
// array under dataDir/sessions/<id>.json after every commit, the flat-file
// analogue of the teacher's sessions.db row-per-message persistence —
// simplified here because the durable source of truth for replay is
// already the stream/tool journal. No forge command reads this file back.
func sessionAutosaveFunc(dataDir, id string) func(*llm.History) error {
	path := filepath.Join(dataDir, "sessions", id+".json")
	return func(h *llm.History) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		data, err := json.Marshal(h.Entries())
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o600)
	}
}

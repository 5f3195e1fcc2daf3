package toolapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/forgeai/engine/internal/sandbox"
)

// ApprovalRequirement is declared per-tool, per spec.md §4.5.
type ApprovalRequirement string

const (
	ApprovalNever  ApprovalRequirement = "never"
	ApprovalAlways ApprovalRequirement = "always"
)

// EffectProfile classifies what a call with specific args will do, so
// planning (spec.md §4.8.2 step 11) can decide whether approval is needed
// under the Default approval mode without the tool itself knowing about
// approval policy.
type EffectProfile string

const (
	EffectReadOnly                   EffectProfile = "read_only"
	EffectReadsUserData               EffectProfile = "reads_user_data"
	EffectSideEffecting                EffectProfile = "side_effecting"
	EffectSideEffectingAndReadsUserData EffectProfile = "side_effecting_and_reads_user_data"
)

// RiskLevel is surfaced to the user alongside an approval request.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
)

// Result is a successful tool execution outcome.
type Result struct {
	Content string
	// Attachments, if present, are surfaced alongside Content without being
	// folded into the text the model sees verbatim (e.g. image bytes).
	Attachments []Attachment
}

type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Tool is the executor contract named in spec.md §4.5: "an executor
// declares name, schema, approval_requirement, effect_profile, risk_level,
// timeout, execute." Concrete tools live in internal/tools.
type Tool interface {
	Name() string
	Schema() map[string]any
	ApprovalRequirement() ApprovalRequirement
	EffectProfile(args json.RawMessage) EffectProfile
	RiskLevel(args json.RawMessage) RiskLevel
	// Timeout returns zero to accept the caller's per-category default.
	Timeout() time.Duration
	Execute(ctx context.Context, args json.RawMessage, tctx *Ctx) (Result, *Error)
}

// Previewer is optionally implemented by a Tool to produce the
// human-readable summary and warnings shown alongside an approval request
// (spec.md §4.8.2 step 12).
type Previewer interface {
	Preview(args json.RawMessage) (summary string, warnings []string)
}

// OutputEvent is an incremental chunk of executor output, forwarded to the
// engine over Ctx's bounded event sender.
type OutputEvent struct {
	CallID string
	Chunk  string
	Stderr bool
}

// ChangeRecorder tracks which files were touched during a turn so a summary
// can be surfaced at the end of it. Grounded on original_source's
// ChangeRecorder/TurnChangeReport (SPEC_FULL.md §3).
type ChangeRecorder struct {
	mu      sync.Mutex
	touched map[string]struct{}
}

func NewChangeRecorder() *ChangeRecorder {
	return &ChangeRecorder{touched: make(map[string]struct{})}
}

func (c *ChangeRecorder) Record(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched[path] = struct{}{}
}

func (c *ChangeRecorder) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.touched))
	for p := range c.touched {
		out = append(out, p)
	}
	return out
}

// Ctx carries everything an executor needs without ever reaching back into
// the engine (spec.md §9, "executors never reach back into the engine").
type Ctx struct {
	Sandbox      *sandbox.Sandbox
	Env          *sandbox.EnvSanitizer
	Events       chan<- OutputEvent
	CallID       string
	WorkingDir   string
	Changes      *ChangeRecorder
	FileCache    *FileCache
	CommandDeny  []string

	MaxOutputBytes   int
	RemainingCapacity int

	// RecordProcess journals a spawned child's pid and start time (spec.md
	// §4.8.4, "record the child pid and start-time to the journal"). Only
	// process-spawning tools (Run/shell) call it; nil-safe for tools that
	// don't.
	RecordProcess func(pid int, startedAtMs int64)
}

// FileCache maps a canonical path to the observed region/hash Read last
// reported, consulted by Edit for stale-file protection per the glossary's
// "Observed region" entry. Updated under a mutex after every successful
// Read or Edit (spec.md §5, "Shared resources").
type FileCache struct {
	mu      sync.Mutex
	regions map[string]ObservedRegion
}

type ObservedRegion struct {
	StartLine int
	EndLine   int
	Hash      string
}

func NewFileCache() *FileCache {
	return &FileCache{regions: make(map[string]ObservedRegion)}
}

func (f *FileCache) Put(path string, region ObservedRegion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions[path] = region
}

func (f *FileCache) Get(path string) (ObservedRegion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regions[path]
	return r, ok
}

package toolloop

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/toolapi"
)

// TimeoutCategory picks the per-category default from spec.md §6's
// tools.timeouts.
type TimeoutCategory string

const (
	TimeoutDefault      TimeoutCategory = "default"
	TimeoutFileOps      TimeoutCategory = "file_operations"
	TimeoutShellCommand TimeoutCategory = "shell_commands"
)

// Timeouts holds the configured per-category defaults, per spec.md §6.
type Timeouts struct {
	Default      time.Duration
	FileOps      time.Duration
	ShellCommand time.Duration
}

func (t Timeouts) For(category TimeoutCategory, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	switch category {
	case TimeoutFileOps:
		return t.FileOps
	case TimeoutShellCommand:
		return t.ShellCommand
	default:
		return t.Default
	}
}

// CategoryOf classifies a tool by name for the timeout lookup above.
// Concrete tools that need a category other than "default" register it
// here; unrecognised names fall back to Default.
type CategoryOf func(toolName string) TimeoutCategory

// Executor runs one batch's execute-queue to completion, sequencing spawns
// one at a time per spec.md §4.8.4 ("a single 'active' slot executes one
// call at a time by default"). Grounded on the teacher's executeToolCalls /
// executeSingleToolCallSafe, generalised with an explicit output-capacity
// budget and journal-conflict gate disabling neither of which the teacher's
// loop needs.
type Executor struct {
	registry  *toolapi.Registry
	journal   *journal.ToolJournal
	gate      *Gate
	timeouts  Timeouts
	category  CategoryOf
	maxOutput int
}

func NewExecutor(registry *toolapi.Registry, j *journal.ToolJournal, gate *Gate, timeouts Timeouts, category CategoryOf, maxOutputBytes int) *Executor {
	return &Executor{registry: registry, journal: j, gate: gate, timeouts: timeouts, category: category, maxOutput: maxOutputBytes}
}

// ExecutedResult is one call's outcome after running (or being
// pre-resolved / cancelled).
type ExecutedResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// RunQueue executes every call in order against batchID, recomputing the
// capacity budget before each spawn and stopping early — filling the rest
// with "Cancelled by user" — if ctx is cancelled, per spec.md §4.8.4's
// cancellation clause.
func (ex *Executor) RunQueue(ctx context.Context, batchID int64, calls []Call, ctxBuilder func(callID string, outputCap int) *toolapi.Ctx, budget *ContextBudget) []ExecutedResult {
	results := make([]ExecutedResult, 0, len(calls))

	for _, c := range calls {
		select {
		case <-ctx.Done():
			results = append(results, ExecutedResult{CallID: c.ID, Name: c.Name, Content: "cancelled by user", IsError: true})
			continue
		default:
		}

		if disabled, reason := ex.gate.Disabled(); disabled {
			results = append(results, ExecutedResult{CallID: c.ID, Name: c.Name, Content: fmt.Sprintf("tool gate disabled: %s", reason), IsError: true})
			continue
		}

		outputCap := budget.OutputCap(ex.maxOutput)
		tctx := ctxBuilder(c.ID, outputCap)

		result := ex.runOne(ctx, c, tctx)
		results = append(results, result)

		if err := ex.journal.RecordResult(batchID, journal.ResultRecord{CallID: c.ID, Content: result.Content, IsError: result.IsError}); err != nil {
			ex.gate.Disable(fmt.Sprintf("tool journal conflict recording result for %s: %v", c.ID, err))
		}

		budget.Spend(len(result.Content))
	}

	return results
}

// runOne executes a single call under a timeout and panic recovery, per
// spec.md §4.8.4.
func (ex *Executor) runOne(ctx context.Context, c Call, tctx *toolapi.Ctx) (result ExecutedResult) {
	result = ExecutedResult{CallID: c.ID, Name: c.Name}

	manifest, ok := ex.registry.Get(c.Name)
	if !ok {
		result.Content, result.IsError = "unknown tool", true
		return
	}

	category := TimeoutDefault
	if ex.category != nil {
		category = ex.category(c.Name)
	}
	timeout := ex.timeouts.For(category, manifest.Tool.Timeout())

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *toolapi.Result
		err *toolapi.Error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: toolapi.Newf(toolapi.ErrExecutionFailed, "tool panicked: %v", r)}
			}
		}()
		res, tErr := manifest.Tool.Execute(runCtx, c.Arguments, tctx)
		done <- outcome{res: &res, err: tErr}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			result.Content, result.IsError = "tool execution cancelled", true
			return
		}
		result.Content, result.IsError = toolapi.New(toolapi.ErrTimeout, "tool execution timed out").Error(), true
		return
	case o := <-done:
		if o.err != nil {
			result.Content, result.IsError = o.err.Error(), true
			return
		}
		sanitized := toolapi.SanitizeOutput(o.res.Content)
		result.Content = toolapi.TruncateWithMarker(sanitized, tctx.RemainingCapacity)
		return
	}
}

package toolloop

import (
	"encoding/json"
	"fmt"

	"github.com/forgeai/engine/internal/toolapi"
)

// ApprovalMode controls how aggressively planning requires human sign-off,
// per spec.md §6's tools.approval.mode.
type ApprovalMode string

const (
	ApprovalModePermissive ApprovalMode = "permissive"
	ApprovalModeDefault    ApprovalMode = "default"
	ApprovalModeStrict     ApprovalMode = "strict"
)

// Policy is the subset of config that planning consults, per spec.md §6.
type Policy struct {
	Mode      ApprovalMode
	Allowlist map[string]bool
	Denylist  map[string]bool
}

// Limits caps batch size and argument size, per spec.md §6.
type Limits struct {
	MaxCallsPerBatch int
	MaxArgsBytes     int
}

// Call is one planned tool invocation as the model emitted it.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Resolved is a call that planning has already turned into a final result,
// without ever reaching an executor (validation failure, policy denial,
// duplicate-id collision — spec.md §3's "pre-resolved results").
type Resolved struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ApprovalRequest carries what the UI needs to ask the user about one call,
// per spec.md §4.8.2 step 12.
type ApprovalRequest struct {
	CallID   string
	Summary  string
	Warnings []string
	Risk     toolapi.RiskLevel
}

// Plan is the result of planning one batch, per spec.md §3's ToolBatch.
type Plan struct {
	PreResolved      []Resolved
	ExecuteNow       []Call
	ApprovalCalls    []Call
	ApprovalRequests []ApprovalRequest
}

// PreflightChecker is optionally implemented by a Tool whose arguments need
// a size/shape check before the registry's generic schema validation — e.g.
// Edit's patch-size limit (spec.md §4.8.2 step 6).
type PreflightChecker interface {
	Preflight(args json.RawMessage, limits Limits) *toolapi.Error
}

// Planner implements spec.md §4.8.2's planning procedure. Of its twelve
// steps, 3 and 9 are not performed here: Plan takes no upstream
// pre-resolved set, and paths are resolved through the sandbox inside each
// tool's Execute, not before dispatch.
type Planner struct {
	registry *toolapi.Registry
	policy   Policy
	limits   Limits
}

func NewPlanner(registry *toolapi.Registry, policy Policy, limits Limits) *Planner {
	return &Planner{registry: registry, policy: policy, limits: limits}
}

// Plan runs every call in order through the numbered steps, classifying each
// into PreResolved, ExecuteNow, or ApprovalCalls. iterationsUsed/maxIterations
// implements step 2's sibling cap from spec.md §4.8.3: once the turn's
// tool-iteration budget is exhausted, every remaining call in this batch is
// pre-resolved to "Max tool iterations reached."
func (p *Planner) Plan(calls []Call, iterationsUsed, maxIterations int) Plan {
	var plan Plan
	seen := make(map[string]bool, len(calls))
	atIterationCap := maxIterations > 0 && iterationsUsed >= maxIterations

	for i, c := range calls {
		// 1. Duplicate call-id within the batch.
		if seen[c.ID] {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "duplicate tool call id"))
			continue
		}
		seen[c.ID] = true

		// 2. Count toward max_tool_calls_per_batch.
		if p.limits.MaxCallsPerBatch > 0 && i >= p.limits.MaxCallsPerBatch {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "max tool calls per batch exceeded"))
			continue
		}

		if atIterationCap {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "max tool iterations reached"))
			continue
		}

		// 4. Policy denylist match by tool name.
		if p.policy.Denylist[c.Name] {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "tool denylisted by policy"))
			continue
		}

		// 5. Args size limit.
		if p.limits.MaxArgsBytes > 0 && len(c.Arguments) > p.limits.MaxArgsBytes {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "tool arguments exceed size limit"))
			continue
		}

		// 7. Registry lookup.
		manifest, ok := p.registry.Get(c.Name)
		if !ok {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "unknown tool"))
			continue
		}

		// 6. Tool-specific pre-check (e.g. Edit patch size), now that we
		// know which tool this is.
		if pc, ok := manifest.Tool.(PreflightChecker); ok {
			if tErr := pc.Preflight(c.Arguments, p.limits); tErr != nil {
				plan.PreResolved = append(plan.PreResolved, errResolved(c, tErr.Error()))
				continue
			}
		}

		// 8. JSON-Schema validation.
		if vErr := manifest.ValidateArgs(c.Arguments); vErr != nil {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, vErr.Error()))
			continue
		}

		// 10. Strict mode: any non-allowlisted tool is denied outright.
		allowlisted := p.policy.Allowlist[c.Name]
		if p.policy.Mode == ApprovalModeStrict && !allowlisted {
			plan.PreResolved = append(plan.PreResolved, errResolved(c, "tool not allowlisted under strict approval mode"))
			continue
		}

		// 11. Determine approval requirement.
		needsApproval := p.requiresApproval(manifest, c.Arguments, allowlisted)

		if !needsApproval {
			plan.ExecuteNow = append(plan.ExecuteNow, c)
			continue
		}

		// 12. Build the approval request from the tool's preview, if any.
		summary, warnings := fmt.Sprintf("%s(%s)", c.Name, string(c.Arguments)), []string(nil)
		if previewer, ok := manifest.Tool.(toolapi.Previewer); ok {
			summary, warnings = previewer.Preview(c.Arguments)
		}
		plan.ApprovalCalls = append(plan.ApprovalCalls, c)
		plan.ApprovalRequests = append(plan.ApprovalRequests, ApprovalRequest{
			CallID:   c.ID,
			Summary:  summary,
			Warnings: warnings,
			Risk:     manifest.Tool.RiskLevel(c.Arguments),
		})
	}

	return plan
}

func (p *Planner) requiresApproval(m *toolapi.Manifest, args json.RawMessage, allowlisted bool) bool {
	switch p.policy.Mode {
	case ApprovalModePermissive:
		return m.Tool.ApprovalRequirement() == toolapi.ApprovalAlways
	case ApprovalModeStrict:
		return true
	default: // ApprovalModeDefault
		if m.Tool.ApprovalRequirement() == toolapi.ApprovalAlways {
			return true
		}
		if allowlisted {
			return false
		}
		switch m.Tool.EffectProfile(args) {
		case toolapi.EffectReadsUserData, toolapi.EffectSideEffecting, toolapi.EffectSideEffectingAndReadsUserData:
			return true
		default:
			return false
		}
	}
}

func errResolved(c Call, message string) Resolved {
	return Resolved{CallID: c.ID, Name: c.Name, Content: message, IsError: true}
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/gobwas/glob"

	"github.com/forgeai/engine/internal/toolapi"
)

// ShellLimits mirrors spec.md §6's tools.output.max_bytes and the shell
// timeout defaults from tools.timeouts.shell_command.
type ShellLimits struct {
	MaxOutputBytes int64
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// ShellTool runs a command through the host shell, grounded on the
// teacher's shell.go. Generalised to route the environment through
// internal/sandbox's EnvSanitizer (the teacher inherits os.Environ()
// unfiltered) and to reject commands matching the engine's command
// denylist before exec ever runs.
type ShellTool struct {
	limits    ShellLimits
	shellPath string
}

func NewShellTool(limits ShellLimits) *ShellTool {
	return &ShellTool{limits: limits, shellPath: detectShell()}
}

// EnvMap unmarshals both the plain JSON object form and the
// array-of-{key,value} form OpenAI strict-mode schemas require when
// additionalProperties must be false.
type EnvMap map[string]string

func (e *EnvMap) UnmarshalJSON(data []byte) error {
	var pairs []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &pairs); err == nil {
		m := make(map[string]string, len(pairs))
		for _, p := range pairs {
			if p.Key == "" {
				return fmt.Errorf("env pair has empty key")
			}
			m[p.Key] = p.Value
		}
		*e = m
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = m
	return nil
}

type shellArgs struct {
	Command        string `json:"command"`
	WorkingDir     string `json:"working_dir,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Env            EnvMap `json:"env,omitempty"`
	Description    string `json:"description,omitempty"`
}

type shellResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute"},
			"working_dir":     map[string]any{"type": "string", "description": "Working directory (defaults to current directory)"},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Command timeout in seconds"},
			"env":             map[string]any{"type": "object", "description": "Environment variables to set", "additionalProperties": map[string]any{"type": "string"}},
			"description":     map[string]any{"type": "string", "description": "Short human-readable label for what this command does"},
		},
		"required":             []any{"command"},
		"additionalProperties": false,
	}
}

func (t *ShellTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalAlways }
func (t *ShellTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectSideEffectingAndReadsUserData
}
func (t *ShellTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskHigh }
func (t *ShellTool) Timeout() time.Duration                      { return t.limits.DefaultTimeout }

func (t *ShellTool) Preview(args json.RawMessage) (string, []string) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return "", nil
	}
	if a.Description != "" {
		return truncateRunes(a.Description, 100), nil
	}
	return truncateRunes(a.Command, 50), nil
}

func (t *ShellTool) Execute(ctx context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}
	if a.Command == "" {
		return toolapi.Result{}, toolapi.New(toolapi.ErrBadArgs, "command is required")
	}

	for _, pattern := range tctx.CommandDeny {
		g, err := glob.Compile(pattern)
		if err == nil && g.Match(a.Command) {
			return toolapi.Result{}, toolapi.Newf(toolapi.ErrDenylisted, "command matches denylisted pattern %q", pattern)
		}
	}

	timeout := t.limits.DefaultTimeout
	if a.TimeoutSeconds > 0 {
		timeout = time.Duration(a.TimeoutSeconds) * time.Second
	}
	if t.limits.MaxTimeout > 0 && timeout > t.limits.MaxTimeout {
		timeout = t.limits.MaxTimeout
	}

	resolvedDir := tctx.WorkingDir
	if a.WorkingDir != "" {
		var vErr error
		resolvedDir, vErr = tctx.Sandbox.ResolvePath(a.WorkingDir, tctx.WorkingDir)
		if vErr != nil {
			return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
		}
	}

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.shellPath, "-c", a.Command)
	cmd.Dir = resolvedDir

	env := os.Environ()
	if tctx.Env != nil {
		env = tctx.Env.SanitizeEnv(env)
	}
	overrides := make(map[string]struct{}, len(a.Env))
	for key := range a.Env {
		overrides[key] = struct{}{}
	}
	cmd.Env = make([]string, 0, len(env)+len(a.Env))
	for _, e := range env {
		if k, _, ok := strings.Cut(e, "="); ok {
			if _, shadowed := overrides[k]; shadowed {
				continue
			}
		}
		cmd.Env = append(cmd.Env, e)
	}
	for key, value := range a.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	devNull, openErr := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if openErr == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "command error: %v", err)
	}
	if tctx.RecordProcess != nil {
		tctx.RecordProcess(cmd.Process.Pid, time.Now().UnixMilli())
	}
	runErr := cmd.Wait()

	result := shellResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if execCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return toolapi.Result{Content: formatShellResult(result, t.limits.MaxOutputBytes)}, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "command error: %v", runErr)
		}
	}

	tctx.Changes.Record(resolvedDir)

	return toolapi.Result{Content: formatShellResult(result, t.limits.MaxOutputBytes)}, nil
}

func formatShellResult(result shellResult, maxBytes int64) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false

	if maxBytes > 0 && int64(len(stdout)) > maxBytes {
		stdout = stdout[:maxBytes]
		truncated = true
	}
	if maxBytes > 0 && int64(len(stderr)) > maxBytes {
		stderr = stderr[:maxBytes]
		truncated = true
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}
	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)
	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}
	return sb.String()
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

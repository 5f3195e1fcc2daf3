package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgeai/engine/internal/config"
	"github.com/forgeai/engine/internal/journal"
	"github.com/forgeai/engine/internal/llm"
	"github.com/forgeai/engine/internal/opstate"
	"github.com/forgeai/engine/internal/providers"
	"github.com/forgeai/engine/internal/sandbox"
	"github.com/forgeai/engine/internal/shell"
	"github.com/forgeai/engine/internal/toolapi"
	"github.com/forgeai/engine/internal/tools"
	"github.com/forgeai/engine/internal/toolloop"
	"github.com/forgeai/engine/internal/usage"
)

// rig bundles every wired collaborator a subcommand needs, plus the
// resources (the journal DB) that must be closed on the way out.
type rig struct {
	cfg     *config.Config
	dataDir string
	db      *journal.DB
	audit   *journal.AuditLogger
	engine  *shell.Engine
}

func (r *rig) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// buildRig loads config, opens the journal database, and constructs a
// fully wired Engine, following the dependency order the teacher's run()
// assembles its provider/UI pair in: config first, credentials next,
// storage and the engine last.
func buildRig(configPath string, approve shell.ApprovalFunc) (*rig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("forge: load config: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("forge: resolve data dir: %w", err)
	}

	db, err := journal.Open(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		return nil, fmt.Errorf("forge: open journal: %w", err)
	}

	audit := journal.NewAuditLogger(filepath.Join(dataDir, "audit.log"), 50)
	streamJournal := journal.NewStreamJournal(db, audit)
	toolJournal := journal.NewToolJournal(db, audit)

	provider, err := selectProvider(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := toolapi.NewRegistry()
	if err := tools.RegisterAll(registry, toolsConfig(cfg)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("forge: register tools: %w", err)
	}

	sb, err := sandbox.New(sandbox.Config{
		AllowedRoots:         cfg.Tools.Sandbox.AllowedRoots,
		DeniedPatterns:       cfg.Tools.Sandbox.DeniedPatterns,
		IncludeDefaultDenies: cfg.Tools.Sandbox.IncludeDefaultDenies,
		AllowAbsolute:        cfg.Tools.Sandbox.AllowAbsolute,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("forge: build sandbox: %w", err)
	}

	env, err := sandbox.NewEnvSanitizer(cfg.Tools.Environment.Denylist, cfg.Tools.Environment.IncludeDefaultDenies)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("forge: build env sanitizer: %w", err)
	}

	history := llm.NewHistory()
	machine := opstate.NewMachine()
	gate := toolloop.NewGate()

	allowlist, denylist := toSet(cfg.Tools.Approval.Allowlist), toSet(cfg.Tools.Approval.Denylist)
	planner := toolloop.NewPlanner(registry, toolloop.Policy{
		Mode:      toolloop.ApprovalMode(cfg.Tools.Approval.Mode),
		Allowlist: allowlist,
		Denylist:  denylist,
	}, toolloop.Limits{
		MaxCallsPerBatch: cfg.Tools.MaxToolCallsPerBatch,
		MaxArgsBytes:     int(cfg.Tools.MaxToolArgsBytes),
	})

	timeouts := toolloop.Timeouts{
		Default:      secondsToDuration(cfg.Tools.Timeouts.DefaultSeconds),
		FileOps:      secondsToDuration(cfg.Tools.Timeouts.FileOperationsSeconds),
		ShellCommand: secondsToDuration(cfg.Tools.Timeouts.ShellCommandsSeconds),
	}
	executor := toolloop.NewExecutor(registry, toolJournal, gate, timeouts, categoryOf, int(cfg.Tools.Output.MaxBytes))

	pricing := usage.NewPricingFetcher()
	recorder := usage.NewRecorder(pricing)
	sess := sessionID()
	autosave := sessionAutosaveFunc(dataDir, sess)

	committer := toolloop.NewCommitter(history, streamJournal, toolJournal, machine, gate, autosave)

	cwd, err := filepathAbsCwd()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	engine := shell.NewEngine(provider, registry, sb, env, history, streamJournal, toolJournal, machine, gate,
		planner, executor, committer, recorder, autosave, approve, shell.Config{
			Model:                        cfg.App.Model,
			SessionID:                    sess,
			MaxToolIterationsPerUserTurn: cfg.Tools.MaxToolIterationsPerUserTurn,
			MaxOutputBytes:               int(cfg.Tools.Output.MaxBytes),
			Window:                       shell.ContextWindow{Tokens: contextWindowFor(cfg.App.Model), SafetyMarginTokens: 4096},
			WorkingDir:                   cwd,
			CommandDeny:                  cfg.Tools.Shell.DenyPatterns,
		})

	return &rig{cfg: cfg, dataDir: dataDir, db: db, audit: audit, engine: engine}, nil
}

func toolsConfig(cfg *config.Config) tools.Config {
	return tools.Config{
		ReadFile: tools.ReadFileLimits{
			MaxFileReadBytes: cfg.Tools.ReadFile.MaxFileReadBytes,
			MaxScanBytes:     cfg.Tools.ReadFile.MaxScanBytes,
		},
		EditFile: tools.EditFileLimits{MaxPatchBytes: cfg.Tools.ApplyPatch.MaxPatchBytes},
		Shell: tools.ShellLimits{
			MaxOutputBytes: cfg.Tools.Output.MaxBytes,
			DefaultTimeout: secondsToDuration(cfg.Tools.Timeouts.ShellCommandsSeconds),
			MaxTimeout:     secondsToDuration(cfg.Tools.Timeouts.ShellCommandsSeconds * 4),
		},
		Grep: tools.GrepLimits{MaxResults: 500},
	}
}

// selectProvider picks a provider by the configured model's vendor prefix,
// the same dispatch the teacher's internal/llm.NewProvider does by reading
// cfg.Provider; here the model name itself carries the vendor, since
// AppConfig has no separate provider field.
func selectProvider(cfg *config.Config) (llm.Provider, error) {
	model := cfg.App.Model
	switch {
	case strings.HasPrefix(model, "claude"):
		return providers.NewAnthropicProvider(cfg.APIKeys.Anthropic, "", model), nil
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return providers.NewOpenAIProvider(cfg.APIKeys.OpenAI, "", model), nil
	case strings.HasPrefix(model, "gemini"):
		return providers.NewGeminiProvider(cfg.APIKeys.Google, model), nil
	case model == "":
		return providers.NewAnthropicProvider(cfg.APIKeys.Anthropic, "", "claude-sonnet-4-5"), nil
	default:
		return nil, fmt.Errorf("forge: unrecognized model %q (expected a claude-/gpt-/gemini- prefixed name)", model)
	}
}

func categoryOf(toolName string) toolloop.TimeoutCategory {
	switch toolName {
	case "run_command", "shell":
		return toolloop.TimeoutShellCommand
	case "read_file", "write_file", "edit_file":
		return toolloop.TimeoutFileOps
	default:
		return toolloop.TimeoutDefault
	}
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

// contextWindowFor is a coarse per-vendor default; spec.md §6 leaves the
// exact figure to the deployer, so this only needs to be in the right
// order of magnitude for ContextBudget's safety margin to matter.
func contextWindowFor(model string) int {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return 1_000_000
	case strings.HasPrefix(model, "claude"):
		return 200_000
	default:
		return 128_000
	}
}

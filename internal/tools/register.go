package tools

import "github.com/forgeai/engine/internal/toolapi"

// Config bundles the per-tool limits read from spec.md §6's tools.* config
// block, used to build the stock executor set at startup.
type Config struct {
	ReadFile ReadFileLimits
	EditFile EditFileLimits
	Shell    ShellLimits
	Grep     GrepLimits
}

// RegisterAll registers the stock executors (read_file, write_file,
// edit_file, shell, grep, glob) into a registry.
func RegisterAll(r *toolapi.Registry, cfg Config) error {
	tools := []toolapi.Tool{
		NewReadFileTool(cfg.ReadFile),
		NewWriteFileTool(),
		NewEditFileTool(cfg.EditFile),
		NewShellTool(cfg.Shell),
		NewGrepTool(cfg.Grep),
		NewGlobTool(),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

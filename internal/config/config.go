// Package config loads the engine's nested configuration record (spec.md
// §6), grounded on the teacher's internal/config/config.go: viper for
// layered file/default loading, ${VAR}/$VAR environment expansion on
// api_keys, and a data directory created with 0o700 permissions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Model string `mapstructure:"model"`
}

type APIKeysConfig struct {
	Anthropic string `mapstructure:"anthropic"`
	OpenAI    string `mapstructure:"openai"`
	Google    string `mapstructure:"google"`
}

type ReadFileConfig struct {
	MaxFileReadBytes int64 `mapstructure:"max_file_read_bytes"`
	MaxScanBytes     int64 `mapstructure:"max_scan_bytes"`
}

type ApplyPatchConfig struct {
	MaxPatchBytes int64 `mapstructure:"max_patch_bytes"`
}

type TimeoutsConfig struct {
	DefaultSeconds       int `mapstructure:"default_seconds"`
	FileOperationsSeconds int `mapstructure:"file_operations_seconds"`
	ShellCommandsSeconds int `mapstructure:"shell_commands_seconds"`
}

type OutputConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type ApprovalConfig struct {
	Mode      string   `mapstructure:"mode"`
	Allowlist []string `mapstructure:"allowlist"`
	Denylist  []string `mapstructure:"denylist"`
}

type SandboxConfig struct {
	AllowedRoots         []string `mapstructure:"allowed_roots"`
	DeniedPatterns       []string `mapstructure:"denied_patterns"`
	IncludeDefaultDenies bool     `mapstructure:"include_default_denies"`
	AllowAbsolute        bool     `mapstructure:"allow_absolute"`
}

type EnvironmentConfig struct {
	Denylist             []string `mapstructure:"denylist"`
	IncludeDefaultDenies bool     `mapstructure:"include_default_denies"`
}

// ShellConfig holds the shell tool's own deny list, separate from the
// sandbox's path-pattern denylist: these patterns match against the
// command string itself (spec.md §1's "sandboxing file and shell
// operations against a configurable allow/deny list").
type ShellConfig struct {
	DenyPatterns []string `mapstructure:"deny_patterns"`
}

type ToolsConfig struct {
	MaxToolCallsPerBatch          int               `mapstructure:"max_tool_calls_per_batch"`
	MaxToolIterationsPerUserTurn  int               `mapstructure:"max_tool_iterations_per_user_turn"`
	MaxToolArgsBytes              int64             `mapstructure:"max_tool_args_bytes"`
	ReadFile                      ReadFileConfig    `mapstructure:"read_file"`
	ApplyPatch                    ApplyPatchConfig   `mapstructure:"apply_patch"`
	Timeouts                      TimeoutsConfig     `mapstructure:"timeouts"`
	Output                        OutputConfig       `mapstructure:"output"`
	Approval                      ApprovalConfig     `mapstructure:"approval"`
	Sandbox                       SandboxConfig      `mapstructure:"sandbox"`
	Environment                   EnvironmentConfig  `mapstructure:"environment"`
	Shell                         ShellConfig        `mapstructure:"shell"`
}

// Config is the engine's full nested record, spec.md §6.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	APIKeys APIKeysConfig `mapstructure:"api_keys"`
	Tools   ToolsConfig   `mapstructure:"tools"`
}

// Defaults returns every default value spec.md §6 names, single source of
// truth for both Load's viper defaults and WriteDefault's generated file.
func Defaults() *Config {
	return &Config{
		Tools: ToolsConfig{
			MaxToolCallsPerBatch:         8,
			MaxToolIterationsPerUserTurn: 4,
			MaxToolArgsBytes:             256 * 1024,
			ReadFile: ReadFileConfig{
				MaxFileReadBytes: 200 * 1024,
				MaxScanBytes:     2 * 1024 * 1024,
			},
			ApplyPatch: ApplyPatchConfig{MaxPatchBytes: 512 * 1024},
			Timeouts: TimeoutsConfig{
				DefaultSeconds:        30,
				FileOperationsSeconds: 30,
				ShellCommandsSeconds:  300,
			},
			Output: OutputConfig{MaxBytes: 100 * 1024},
			Approval: ApprovalConfig{
				Mode:      "default",
				Allowlist: []string{},
				Denylist:  []string{},
			},
			Sandbox: SandboxConfig{
				AllowedRoots:         []string{"."},
				DeniedPatterns:       []string{},
				IncludeDefaultDenies: true,
				AllowAbsolute:        false,
			},
			Environment: EnvironmentConfig{
				Denylist:             []string{},
				IncludeDefaultDenies: true,
			},
			Shell: ShellConfig{
				DenyPatterns: []string{"rm -rf /*", "mkfs*", "dd if=*of=/dev/*"},
			},
		},
	}
}

func setViperDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("tools.max_tool_calls_per_batch", d.Tools.MaxToolCallsPerBatch)
	v.SetDefault("tools.max_tool_iterations_per_user_turn", d.Tools.MaxToolIterationsPerUserTurn)
	v.SetDefault("tools.max_tool_args_bytes", d.Tools.MaxToolArgsBytes)
	v.SetDefault("tools.read_file.max_file_read_bytes", d.Tools.ReadFile.MaxFileReadBytes)
	v.SetDefault("tools.read_file.max_scan_bytes", d.Tools.ReadFile.MaxScanBytes)
	v.SetDefault("tools.apply_patch.max_patch_bytes", d.Tools.ApplyPatch.MaxPatchBytes)
	v.SetDefault("tools.timeouts.default_seconds", d.Tools.Timeouts.DefaultSeconds)
	v.SetDefault("tools.timeouts.file_operations_seconds", d.Tools.Timeouts.FileOperationsSeconds)
	v.SetDefault("tools.timeouts.shell_commands_seconds", d.Tools.Timeouts.ShellCommandsSeconds)
	v.SetDefault("tools.output.max_bytes", d.Tools.Output.MaxBytes)
	v.SetDefault("tools.approval.mode", d.Tools.Approval.Mode)
	v.SetDefault("tools.approval.allowlist", d.Tools.Approval.Allowlist)
	v.SetDefault("tools.approval.denylist", d.Tools.Approval.Denylist)
	v.SetDefault("tools.sandbox.allowed_roots", d.Tools.Sandbox.AllowedRoots)
	v.SetDefault("tools.sandbox.denied_patterns", d.Tools.Sandbox.DeniedPatterns)
	v.SetDefault("tools.sandbox.include_default_denies", d.Tools.Sandbox.IncludeDefaultDenies)
	v.SetDefault("tools.sandbox.allow_absolute", d.Tools.Sandbox.AllowAbsolute)
	v.SetDefault("tools.environment.denylist", d.Tools.Environment.Denylist)
	v.SetDefault("tools.environment.include_default_denies", d.Tools.Environment.IncludeDefaultDenies)
	v.SetDefault("tools.shell.deny_patterns", d.Tools.Shell.DenyPatterns)
}

// Load reads config.toml from path (if present; absence is not an error)
// layered over Defaults(), then expands ${VAR}/$VAR references in
// api_keys, falling back to ANTHROPIC_API_KEY/OPENAI_API_KEY/GEMINI_API_KEY
// when a key is left unset (spec.md §6's "Environment variables consulted").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIKeys.Anthropic = resolveAPIKey(cfg.APIKeys.Anthropic, "ANTHROPIC_API_KEY")
	cfg.APIKeys.OpenAI = resolveAPIKey(cfg.APIKeys.OpenAI, "OPENAI_API_KEY")
	cfg.APIKeys.Google = resolveAPIKey(cfg.APIKeys.Google, "GEMINI_API_KEY")

	return &cfg, nil
}

func resolveAPIKey(configured, envName string) string {
	expanded := expandEnv(configured)
	if expanded != "" {
		return expanded
	}
	return os.Getenv(envName)
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// WriteDefault writes a fresh config.toml at path containing Defaults(),
// keyed by the same snake_case names Load reads, using BurntSushi/toml
// directly (rather than viper's writer) so the file is hand-editable and
// carries no viper-internal bookkeeping keys.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	v := viper.New()
	setViperDefaults(v, Defaults())
	return toml.NewEncoder(f).Encode(v.AllSettings())
}

// Runtime holds the FORGE_* environment tunables spec.md §6 names, read
// straight from the process environment rather than the config file since
// they govern engine startup behaviour, not tool policy.
type Runtime struct {
	ContextInfinity       bool
	StreamIdleTimeoutSecs int
}

// LoadRuntime reads FORGE_CONTEXT_INFINITY and FORGE_STREAM_IDLE_TIMEOUT_SECS,
// defaulting StreamIdleTimeoutSecs to 60 when unset or unparsable.
func LoadRuntime() Runtime {
	r := Runtime{StreamIdleTimeoutSecs: 60}
	if v := os.Getenv("FORGE_CONTEXT_INFINITY"); v == "1" || strings.EqualFold(v, "true") {
		r.ContextInfinity = true
	}
	if v := os.Getenv("FORGE_STREAM_IDLE_TIMEOUT_SECS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			r.StreamIdleTimeoutSecs = secs
		}
	}
	return r
}

// DataDir resolves the engine's data directory: FORGE_DATA_DIR if set,
// otherwise the XDG data directory, created with 0o700 permissions if
// missing (spec.md §6's "Data directory" requirement).
func DataDir() (string, error) {
	if override := os.Getenv("FORGE_DATA_DIR"); override != "" {
		if err := os.MkdirAll(override, 0o700); err != nil {
			return "", err
		}
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "forge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

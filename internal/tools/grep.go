package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/forgeai/engine/internal/toolapi"
)

// GrepLimits mirrors spec.md §6's tools.grep config block.
type GrepLimits struct {
	MaxResults int
}

// GrepTool searches file contents by regex, grounded on the teacher's
// grep.go: ripgrep first when available, a Go walk+regexp fallback
// otherwise. Generalised to resolve the search path through
// internal/sandbox before touching the filesystem.
type GrepTool struct {
	limits GrepLimits
}

func NewGrepTool(limits GrepLimits) *GrepTool {
	return &GrepTool{limits: limits}
}

type grepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	Include    string `json:"include,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type grepMatch struct {
	FilePath   string
	LineNumber int
	Match      string
	Context    string
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern":     map[string]any{"type": "string", "description": "Regular expression pattern to search for (RE2 syntax)"},
			"path":        map[string]any{"type": "string", "description": "File or directory to search in (defaults to current directory)"},
			"include":     map[string]any{"type": "string", "description": "Glob filter for files, e.g. '*.go'"},
			"max_results": map[string]any{"type": "integer", "description": "Maximum number of results"},
		},
		"required":             []any{"pattern"},
		"additionalProperties": false,
	}
}

func (t *GrepTool) ApprovalRequirement() toolapi.ApprovalRequirement { return toolapi.ApprovalNever }
func (t *GrepTool) EffectProfile(json.RawMessage) toolapi.EffectProfile {
	return toolapi.EffectReadsUserData
}
func (t *GrepTool) RiskLevel(json.RawMessage) toolapi.RiskLevel { return toolapi.RiskLow }
func (t *GrepTool) Timeout() time.Duration                      { return time.Minute }

func (t *GrepTool) Preview(args json.RawMessage) (string, []string) {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Pattern == "" {
		return "", nil
	}
	pattern := a.Pattern
	if len(pattern) > 30 {
		pattern = pattern[:27] + "..."
	}
	result := fmt.Sprintf("/%s/", pattern)
	if a.Path != "" {
		result += " in " + a.Path
	}
	if a.Include != "" {
		result += " (" + a.Include + ")"
	}
	return result, nil
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage, tctx *toolapi.Ctx) (toolapi.Result, *toolapi.Error) {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid arguments: %v", err)
	}
	if a.Pattern == "" {
		return toolapi.Result{}, toolapi.New(toolapi.ErrBadArgs, "pattern is required")
	}

	searchArg := a.Path
	if searchArg == "" {
		searchArg = "."
	}
	searchPath, vErr := tctx.Sandbox.ResolvePath(searchArg, tctx.WorkingDir)
	if vErr != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrSandboxViolation, "%v", vErr)
	}

	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = t.limits.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	if ripgrepAvailable() {
		matches, err := executeRipgrep(ctx, a.Pattern, searchPath, a.Include, maxResults)
		if err == nil {
			if len(matches) == 0 {
				return toolapi.Result{Content: "No matches found."}, nil
			}
			return toolapi.Result{Content: formatGrepResults(matches, len(matches) >= maxResults)}, nil
		}
		if ctx.Err() != nil {
			return toolapi.Result{}, toolapi.New(toolapi.ErrTimeout, "grep timed out; try a more specific pattern or path")
		}
		// fall through to the Go implementation on ripgrep error
	}

	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrBadArgs, "invalid regex pattern: %v", err)
	}

	files, err := collectFiles(searchPath, a.Include)
	if err != nil {
		return toolapi.Result{}, toolapi.Newf(toolapi.ErrExecutionFailed, "failed to collect files: %v", err)
	}
	sortFilesByMtime(files)

	var matches []grepMatch
	for _, file := range files {
		if ctx.Err() != nil {
			return toolapi.Result{}, toolapi.New(toolapi.ErrTimeout, "grep timed out; try a more specific pattern or path")
		}
		if len(matches) >= maxResults {
			break
		}
		fileMatches, err := searchFile(file, re, maxResults-len(matches))
		if err != nil {
			continue
		}
		matches = append(matches, fileMatches...)
	}

	if len(matches) == 0 {
		return toolapi.Result{Content: "No matches found."}, nil
	}
	return toolapi.Result{Content: formatGrepResults(matches, len(matches) >= maxResults)}, nil
}

func ripgrepAvailable() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

type rgMatch struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type rgMatchData struct {
	Path struct {
		Text string `json:"text"`
	} `json:"path"`
	Lines struct {
		Text string `json:"text"`
	} `json:"lines"`
	LineNumber int `json:"line_number"`
}

func executeRipgrep(ctx context.Context, pattern, searchPath, include string, maxResults int) ([]grepMatch, error) {
	args := []string{
		"--json",
		"--max-count", strconv.Itoa(maxResults),
		"--context", "3",
		"--hidden",
		"--glob", "!.git",
	}
	if include != "" {
		args = append(args, "--glob", include)
	}
	args = append(args, pattern, searchPath)

	cmd := exec.CommandContext(ctx, "rg", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parseRipgrepOutput(output, maxResults)
}

type pendingMatch struct {
	filePath   string
	lineNumber int
	matchLine  string
	before     []string
	after      []string
}

func parseRipgrepOutput(output []byte, maxResults int) ([]grepMatch, error) {
	var matches []grepMatch
	var pending *pendingMatch

	for _, line := range strings.Split(string(output), "\n") {
		if line == "" {
			continue
		}
		var msg rgMatch
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "match":
			if pending != nil {
				matches = append(matches, buildMatchFromPending(pending))
				if len(matches) >= maxResults {
					return matches, nil
				}
			}
			var data rgMatchData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			pending = &pendingMatch{
				filePath:   data.Path.Text,
				lineNumber: data.LineNumber,
				matchLine:  strings.TrimSuffix(data.Lines.Text, "\n"),
			}
		case "context":
			if pending == nil {
				continue
			}
			var data rgMatchData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				continue
			}
			contextLine := strings.TrimSuffix(data.Lines.Text, "\n")
			if data.LineNumber < pending.lineNumber {
				pending.before = append(pending.before, contextLine)
			} else {
				pending.after = append(pending.after, contextLine)
			}
		}
	}
	if pending != nil {
		matches = append(matches, buildMatchFromPending(pending))
	}
	return matches, nil
}

func buildMatchFromPending(p *pendingMatch) grepMatch {
	var sb strings.Builder
	startLine := p.lineNumber - len(p.before)
	for i, line := range p.before {
		fmt.Fprintf(&sb, "  %d: %s\n", startLine+i, line)
	}
	fmt.Fprintf(&sb, "> %d: %s\n", p.lineNumber, p.matchLine)
	for i, line := range p.after {
		fmt.Fprintf(&sb, "  %d: %s\n", p.lineNumber+1+i, line)
	}
	return grepMatch{
		FilePath:   p.filePath,
		LineNumber: p.lineNumber,
		Match:      p.matchLine,
		Context:    strings.TrimSuffix(sb.String(), "\n"),
	}
}

func collectFiles(searchPath, include string) ([]string, error) {
	info, err := os.Stat(searchPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{searchPath}, nil
	}

	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		if include != "" {
			match, err := doublestar.Match(include, d.Name())
			if err != nil || !match {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func sortFilesByMtime(files []string) {
	type fileInfo struct {
		path  string
		mtime int64
	}
	infos := make([]fileInfo, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			infos = append(infos, fileInfo{path: f})
			continue
		}
		infos = append(infos, fileInfo{path: f, mtime: info.ModTime().Unix()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mtime > infos[j].mtime })
	for i, info := range infos {
		files[i] = info.path
	}
}

func searchFile(path string, re *regexp.Regexp, maxMatches int) ([]grepMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	contentType := http.DetectContentType(buf[:n])
	if !strings.HasPrefix(contentType, "text/") && !strings.Contains(contentType, "json") && !strings.Contains(contentType, "xml") {
		return nil, fmt.Errorf("binary file")
	}
	file.Seek(0, 0)

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var matches []grepMatch
	for lineNum, line := range lines {
		if re.MatchString(line) {
			matches = append(matches, grepMatch{
				FilePath:   path,
				LineNumber: lineNum + 1,
				Match:      line,
				Context:    buildContext(lines, lineNum, 3),
			})
			if len(matches) >= maxMatches {
				break
			}
		}
	}
	return matches, nil
}

func buildContext(lines []string, matchIdx, contextLines int) string {
	start := matchIdx - contextLines
	if start < 0 {
		start = 0
	}
	end := matchIdx + contextLines + 1
	if end > len(lines) {
		end = len(lines)
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		prefix := "  "
		if i == matchIdx {
			prefix = "> "
		}
		fmt.Fprintf(&sb, "%s%d: %s\n", prefix, i+1, lines[i])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatGrepResults(matches []grepMatch, truncated bool) string {
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "%s:%d\n", m.FilePath, m.LineNumber)
		sb.WriteString(m.Context)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString("\n[Results truncated at limit]")
	}
	return sb.String()
}

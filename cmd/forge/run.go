package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/forgeai/engine/internal/shell"
	"github.com/forgeai/engine/internal/toolloop"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start an interactive conversation",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := buildRig(configFlag, terminalApprove)
	if err != nil {
		return err
	}
	defer r.Close()

	if pending, err := r.engine.Recover(); err != nil {
		return fmt.Errorf("forge: recovery check: %w", err)
	} else if pending != nil {
		decision := promptRecoveryDecision(pending.AssistantText, pending.CallNames)
		outcome, err := r.engine.ResolveRecovery(decision)
		if err != nil {
			return fmt.Errorf("forge: resolve recovery: %w", err)
		}
		if outcome.ShouldContinue {
			report, err := r.engine.RunTurn(ctx, "")
			if err != nil {
				fmt.Fprintf(os.Stderr, "forge: resumed turn error: %v\n", err)
			} else {
				fmt.Println(report.FinalText)
			}
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("forge ready. Type a message, or Ctrl-D to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		report, err := r.engine.RunTurn(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "forge: turn error: %v\n", err)
			continue
		}
		fmt.Println(report.FinalText)
		if len(report.TouchedFiles) > 0 {
			fmt.Printf("(touched: %s)\n", strings.Join(report.TouchedFiles, ", "))
		}
	}
}

// terminalApprove asks the user interactively for every call parked
// pending approval. Non-interactive stdin (piped input, CI) denies
// everything, matching the teacher's non-interactive YoloMode fallback
// except inverted: forge fails closed where the teacher fails open.
func terminalApprove(ctx context.Context, requests []toolloop.ApprovalRequest) (toolloop.Decision, map[string]bool) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return toolloop.DenyAll, nil
	}

	fmt.Println("Approval required:")
	for _, req := range requests {
		fmt.Printf("  [%s] %s\n", req.Risk, req.Summary)
		for _, w := range req.Warnings {
			fmt.Printf("      ! %s\n", w)
		}
	}
	fmt.Print("Approve all (y), deny all (n), or select individually (s)? ")

	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return toolloop.ApproveAll, nil
	case "s", "select":
		selected := make(map[string]bool, len(requests))
		for _, req := range requests {
			fmt.Printf("  approve %s? (y/N) ", req.CallID)
			resp, _ := reader.ReadString('\n')
			if strings.EqualFold(strings.TrimSpace(resp), "y") {
				selected[req.CallID] = true
			}
		}
		return toolloop.ApproveSelected, selected
	default:
		return toolloop.DenyAll, nil
	}
}

func promptRecoveryDecision(assistantText string, callNames []string) shell.RecoveryDecision {
	fmt.Printf("Found an interrupted turn. Last assistant text: %q\n", assistantText)
	fmt.Printf("Pending calls: %s\n", strings.Join(callNames, ", "))
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("non-interactive stdin: discarding")
		return shell.RecoveryDiscard
	}
	fmt.Print("Resume (r) or discard (d) the interrupted batch? ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	if strings.EqualFold(strings.TrimSpace(answer), "r") {
		return shell.RecoveryResume
	}
	return shell.RecoveryDiscard
}

package main

import (
	"fmt"

	"github.com/forgeai/engine/internal/shell"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "inspect and resolve an interrupted turn without starting a conversation",
	RunE:  runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	r, err := buildRig(configFlag, terminalApprove)
	if err != nil {
		return err
	}
	defer r.Close()

	pending, err := r.engine.Recover()
	if err != nil {
		return fmt.Errorf("forge: recovery check: %w", err)
	}
	if pending == nil {
		fmt.Println("nothing to recover")
		return nil
	}

	decision := promptRecoveryDecision(pending.AssistantText, pending.CallNames)
	if _, err := r.engine.ResolveRecovery(decision); err != nil {
		return fmt.Errorf("forge: resolve recovery: %w", err)
	}

	verb := "resumed"
	if decision == shell.RecoveryDiscard {
		verb = "discarded"
	}
	fmt.Printf("batch %d %s and committed; no follow-on model request was sent\n", pending.BatchID, verb)
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge runs a coding-agent turn engine conversation",
	Long: `forge drives a coding-agent turn engine: streaming model turns,
planned/approved tool execution, and crash-recoverable journaling.

Examples:
  forge run
  forge recover
  forge doctor`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.toml (when unset, no file is read and built-in defaults apply)")
	rootCmd.AddCommand(runCmd, recoverCmd, doctorCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Task coordination for a multi-role dev pipeline",
	Long: `Crew tracks the work a multi-role development team hands around:
architect, coder, pr_reviewer, qa_tester, and coordinator move tasks
through an explicit state machine with dependencies, blockers, and
quality gates.

Core capabilities:
- Decomposes a requirement into role-assigned tasks
- Plans dependency levels and runs them under a concurrency cap
- Records handoffs, blockers, and gate verdicts per task
- Persists every change to SQLite and archives finished work
- Exposes the same operations to coding agents over MCP ('crew serve')`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

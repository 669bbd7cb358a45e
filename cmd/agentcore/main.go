// Package main provides the CLI entry point for the agent runtime core.
//
// agentcore drives one conversation at a time against a model provider,
// executing the tool calls it emits (shell, unified PTY exec, apply-patch,
// MCP-proxied tools) under a sandbox and approval policy, and recording
// every event to an append-only rollout log that can later be resumed or
// archived.
//
// # Basic usage
//
//	agentcore exec "fix the failing test in pkg/foo"
//	agentcore resume <rollout-id> "continue where we left off"
//	agentcore rollout ls
//	agentcore rollout archive <rollout-id>
//
// The CLI argument surface here is deliberately thin: argument parsing,
// interactive TUI rendering, and the model wire client are external
// collaborators (spec's out-of-scope list), not part of the runtime core
// this command wires together.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var profileName string

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached.
// Kept separate from main so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - code-assistant agent runtime core",
		Long: `agentcore drives a conversation with a model provider, dispatching the
tool calls it emits under a sandbox and approval policy, and recording
every event to a resumable, archivable rollout log.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "config.toml [profiles.<name>] override to apply")

	rootCmd.AddCommand(
		buildExecCmd(),
		buildResumeCmd(),
		buildRolloutCmd(),
		buildMcpCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

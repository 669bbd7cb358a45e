package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/codexcore/agentcore/cmd/agentcore/tui"
	"github.com/codexcore/agentcore/internal/config"
	"github.com/codexcore/agentcore/internal/convo"
	"github.com/codexcore/agentcore/internal/datetime"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/rollout"
)

// buildExecCmd starts a new conversation with the given prompt as its
// first user message and runs it to completion (spec §4.9's UserInput
// submission, started from an idle conversation).
func buildExecCmd() *cobra.Command {
	var cwd string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "exec [prompt]",
		Short: "Run one turn against a new conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cwd == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				cwd = wd
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := buildSession(ctx, cwd)
			if err != nil {
				return err
			}
			defer s.rw.Close()
			defer s.close(ctx)

			done := make(chan struct{})
			var closeDoneOnce sync.Once
			s.conv.OnIdle = func() {
				closeDoneOnce.Do(func() { close(done) })
			}

			go tui.RunSpinner("agentcore is working", done)

			prompt := strings.Join(args, " ")
			s.conv.Submit(convo.UserInput{
				Items: []protocol.ResponseItem{{Kind: protocol.KindUserMessage, Text: prompt}},
			})

			select {
			case <-done:
			case <-ctx.Done():
				return fmt.Errorf("exec: %w", ctx.Err())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rollout: %s\n", s.rw.Path())
			for _, item := range s.cm.Items() {
				if item.Kind == protocol.KindAssistantMessage {
					fmt.Fprintln(out, item.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the conversation (default: current directory)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait for the turn to finish")
	return cmd
}

// buildResumeCmd reopens an existing rollout by id and continues it with a
// new prompt, per spec §4.1's resume contract.
func buildResumeCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "resume [rollout-id] [prompt]",
		Short: "Resume a rollout and run one more turn",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := resumeSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.rw.Close()
			defer s.close(ctx)

			done := make(chan struct{})
			var closeDoneOnce sync.Once
			s.conv.OnIdle = func() {
				closeDoneOnce.Do(func() { close(done) })
			}

			go tui.RunSpinner("agentcore is working", done)

			prompt := strings.Join(args[1:], " ")
			s.conv.Submit(convo.UserInput{
				Items: []protocol.ResponseItem{{Kind: protocol.KindUserMessage, Text: prompt}},
			})

			select {
			case <-done:
			case <-ctx.Done():
				return fmt.Errorf("resume: %w", ctx.Err())
			}

			out := cmd.OutOrStdout()
			for _, item := range s.cm.Items() {
				if item.Kind == protocol.KindAssistantMessage {
					fmt.Fprintln(out, item.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to wait for the turn to finish")
	return cmd
}

// buildRolloutCmd creates the "rollout" command group: ls and archive.
func buildRolloutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect and manage rollout session files",
	}
	cmd.AddCommand(buildRolloutLsCmd(), buildRolloutArchiveCmd())
	return cmd
}

func buildRolloutLsCmd() *cobra.Command {
	var limit int
	var tzFlag string
	var timeFormatFlag string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List recent rollout sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rollout.Home()
			if err != nil {
				return err
			}
			summaries, err := rollout.List(home, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No rollout sessions found.")
				return nil
			}
			tz := datetime.ResolveUserTimezone(tzFlag)
			resolvedFormat := datetime.ResolveUserTimeFormat(datetime.TimeFormatPreference(timeFormatFlag))
			now := time.Now()
			for _, s := range summaries {
				fmt.Fprintln(out, formatRolloutRow(s, tz, resolvedFormat, now))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tzFlag, "tz", "", "IANA timezone for displayed timestamps (default: host timezone)")
	cmd.Flags().StringVar(&timeFormatFlag, "time-format", string(datetime.TimeFormatAuto), "time format: auto, 12, or 24")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to list")
	return cmd
}

func buildRolloutArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive [rollout-id]",
		Short: "Move a rollout session into archived-sessions/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rollout.Home()
			if err != nil {
				return err
			}
			path, err := rollout.FindByID(home, args[0])
			if err != nil {
				return err
			}
			newPath, err := rollout.Archive(home, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived: %s\n", newPath)
			return nil
		},
	}
}

// buildConfigCmd exposes config inspection subcommands, grounded on
// cmd/nexus-edge's config.go diagnostics printing.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the resolved configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the fully-merged config (defaults, config.toml, --profile) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := rollout.Home()
			if err != nil {
				return err
			}
			cfg, _, err := config.Load(home)
			if err != nil {
				return err
			}
			if profileName != "" {
				cfg = cfg.WithProfile(profileName)
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}

// buildMcpCmd exposes the connected MCP servers' tool names for debugging,
// grounded on cmd/nexus's "mcp" command group (commands_mcp.go).
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mcp", Short: "Inspect configured MCP servers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tools advertised by connected MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			s, err := buildSession(ctx, wd)
			if err != nil {
				return err
			}
			defer s.rw.Close()
			defer s.close(ctx)

			if s.mcpMgr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No MCP servers configured.")
				return nil
			}
			for server, tools := range s.mcpMgr.AllTools() {
				for _, tool := range tools {
					fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\n", server, tool.Name)
				}
			}
			return nil
		},
	})
	return cmd
}

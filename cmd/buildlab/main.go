// Package main provides the BuildLab CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joss/buildlab/internal/config"
	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/logging"
)

var (
	version  = "0.1.0"
	cfgFile  string
	pretty   = true
	settings *config.Settings
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "buildlab [query]",
		Short: "BuildLab - conversational project generator",
		Long: `BuildLab: describe a web project and refine it turn by turn.

Usage modes:
  buildlab                 Start an interactive session (TUI on a terminal)
  buildlab "a todo app"    Run one query and print the result
  buildlab <command>       Run a specific command (see below)

Each turn replaces the previous files: the project is always the baseline
scaffold plus the files of the latest turn.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(cmd.Flags(), cfgFile)
			if err != nil {
				return err
			}
			config.SetEnv(s)
			settings = s
			return logging.SetLevel(logging.Level(s.LogLevel))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, domain.ModeProject, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./buildlab.yaml or ~/.buildlab/buildlab.yaml)")
	pf.BoolVar(&pretty, "pretty", true, "Colored output")
	pf.String("provider", "", "Model provider: google, genai, openai")
	pf.String("api-key", "", "Provider API key")
	pf.String("base-url", "", "Provider base URL")
	pf.String("project-model", "", "Model used for project generation")
	pf.String("answer-model", "", "Model used for answers")
	pf.Duration("timeout", 0, "Per-call model timeout")
	pf.Int("token-budget", 0, "Prompt token budget")
	pf.String("store", "", "Project store backend: sqlite, graph")
	pf.String("data-dir", "", "Directory for the sqlite project store")
	pf.String("scaffold", "", "Baseline scaffold manifest or directory")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	addSessionFlags(rootCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Sessions:"},
		&cobra.Group{ID: "projects", Title: "Projects:"},
		&cobra.Group{ID: "infra", Title: "Infrastructure:"},
	)

	build := buildCmd()
	build.GroupID = "session"
	rootCmd.AddCommand(build)

	ask := askCmd()
	ask.GroupID = "session"
	rootCmd.AddCommand(ask)

	project := projectCmd()
	project.GroupID = "projects"
	rootCmd.AddCommand(project)

	serve := serveCmd()
	serve.GroupID = "infra"
	rootCmd.AddCommand(serve)

	cfg := configCmd()
	cfg.GroupID = "infra"
	rootCmd.AddCommand(cfg)

	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("buildlab %s\n", version)
		},
	}
}

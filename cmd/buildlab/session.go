package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/buildlab/internal/config"
	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/export"
	"github.com/joss/buildlab/internal/history"
	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/internal/projectstore"
	"github.com/joss/buildlab/internal/render"
	"github.com/joss/buildlab/internal/session"
	"github.com/joss/buildlab/internal/store"
	"github.com/joss/buildlab/internal/tui"
)

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("project", "p", "", "Project ID or name to resume and save into (created if missing)")
	cmd.Flags().StringP("out", "o", "", "Write the final project tree to this directory")
	cmd.Flags().String("export-dir", "", "Directory for exported turns (default ~/.buildlab/exports)")
	cmd.Flags().Bool("code", false, "Print file contents with each turn")
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [query]",
		Short: "Generate a project and refine it turn by turn",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, domain.ModeProject, args)
		},
	}
	addSessionFlags(cmd)
	return cmd
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question; answers do not use prior turns",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, domain.ModeAnswer, args)
		},
	}
	addSessionFlags(cmd)
	return cmd
}

// runSession opens a controller for mode and drives it from the command
// line arguments, the TUI, or stdin lines, in that order of preference.
func runSession(cmd *cobra.Command, mode domain.Mode, args []string) error {
	ctx := cmd.Context()
	projectRef, _ := cmd.Flags().GetString("project")
	outDir, _ := cmd.Flags().GetString("out")
	exportDir, _ := cmd.Flags().GetString("export-dir")
	withCode, _ := cmd.Flags().GetBool("code")
	if exportDir == "" {
		exportDir = config.GetPaths().Exports
	}

	provider, err := newProvider(ctx, settings)
	if err != nil {
		return err
	}
	baseline, err := loadBaseline(settings)
	if err != nil {
		return err
	}
	machine := newMachine(mode, settings, baseline)

	var (
		opts  []session.Option
		save  tui.SaveFunc
		title = "BuildLab"
	)
	if projectRef != "" {
		st, err := openStore(ctx, settings)
		if err != nil {
			return err
		}
		defer st.Close()

		p, err := openProject(ctx, st, projectRef)
		if err != nil {
			return err
		}
		title = p.Name
		opts = append(opts, session.WithHistory(history.New(p.Turns...)))
		if len(p.Tree) > 0 {
			opts = append(opts, session.WithTree(p.Tree))
		}
		save = func(ctx context.Context, snap session.Snapshot) error {
			return st.SaveProject(ctx, p.ID, snap.Tree, snap.Turns)
		}
	}

	ctrl := session.NewController(machine, provider, opts...)
	defer ctrl.Close()

	r := render.New(pretty).WithCode(withCode)
	query := strings.TrimSpace(strings.Join(args, " "))
	switch {
	case query != "":
		err = runOnce(ctx, ctrl, r, query, save)
	case term.IsTerminal(int(os.Stdin.Fd())):
		err = runTUI(ctx, tui.Config{
			Controller: ctrl,
			ExportDir:  exportDir,
			Save:       save,
			Title:      title,
		})
	default:
		err = runLines(ctx, ctrl, r, os.Stdin, render.Stdout(), save)
	}
	if err != nil {
		return err
	}

	if outDir != "" {
		written, err := export.WriteTree(outDir, ctrl.Snapshot().Tree)
		if err != nil {
			return err
		}
		render.Stderr().Println("Wrote %d files to %s", len(written), outDir)
	}
	return nil
}

// openProject resolves ref, creating a project named ref when none exists.
func openProject(ctx context.Context, st projectstore.Store, ref string) (*domain.Project, error) {
	p, err := resolveProject(ctx, st, ref)
	if store.IsNotFound(err) {
		return st.Create(ctx, ref, "", nil)
	}
	return p, err
}

// runTUI hands the terminal to the TUI. Logs go to a file meanwhile.
func runTUI(ctx context.Context, cfg tui.Config) error {
	if err := config.EnsureDir(config.GetPaths().Home); err != nil {
		return err
	}
	f, err := os.OpenFile(config.Path("buildlab.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	logging.SetOutput(f)
	defer logging.SetOutput(os.Stderr)

	return tui.Run(ctx, cfg)
}

// runOnce submits one query with a spinner and prints the outcome.
func runOnce(ctx context.Context, ctrl *session.Controller, r *render.Renderer, query string, save tui.SaveFunc) error {
	spinner, _ := pterm.DefaultSpinner.
		WithStyle(pterm.NewStyle(pterm.FgCyan)).
		WithRemoveWhenDone(true).
		Start("Generating...")

	n, err := submitAndWait(ctx, ctrl, query)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}
	if n.Failed() {
		return fmt.Errorf("%s", r.Notification(n))
	}
	render.Stdout().Print(r.Turn(*n.Turn))
	return saveSnapshot(ctx, ctrl, save)
}

// runLines reads one query per line from in until EOF. Failed queries are
// reported and the loop continues.
func runLines(ctx context.Context, ctrl *session.Controller, r *render.Renderer, in io.Reader, out *render.Writer, save tui.SaveFunc) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		n, err := submitAndWait(ctx, ctrl, query)
		if err != nil {
			return err
		}
		if n.Failed() {
			out.Print(r.Notification(n))
			continue
		}
		out.Print(r.Turn(*n.Turn))
		if err := saveSnapshot(ctx, ctrl, save); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// submitAndWait submits query and returns the notification that settles
// it: the refusal, the failure, or the appended turn.
func submitAndWait(ctx context.Context, ctrl *session.Controller, query string) (session.Notification, error) {
	if err := ctrl.Submit(query); err == session.ErrClosed {
		return session.Notification{}, err
	}
	select {
	case n, ok := <-ctrl.Notifications():
		if !ok {
			return session.Notification{}, session.ErrClosed
		}
		return n, nil
	case <-ctx.Done():
		return session.Notification{}, ctx.Err()
	}
}

func saveSnapshot(ctx context.Context, ctrl *session.Controller, save tui.SaveFunc) error {
	if save == nil {
		return nil
	}
	if err := save(ctx, ctrl.Snapshot()); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

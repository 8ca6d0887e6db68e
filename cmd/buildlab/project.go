package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/export"
	"github.com/joss/buildlab/internal/projectstore"
	"github.com/joss/buildlab/internal/render"
	"github.com/joss/buildlab/internal/store"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Manage saved projects",
	}
	cmd.AddCommand(
		projectCreateCmd(),
		projectListCmd(),
		projectShowCmd(),
		projectDeleteCmd(),
		projectExportCmd(),
		projectChatCmd(),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(st projectstore.Store) error) error {
	st, err := openStore(cmd.Context(), settings)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func projectCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, _ := cmd.Flags().GetString("description")
			owners, _ := cmd.Flags().GetStringSlice("owner")
			return withStore(cmd, func(st projectstore.Store) error {
				p, err := st.Create(cmd.Context(), args[0], desc, owners)
				if err != nil {
					return err
				}
				render.Stdout().Println("Created %s (%s)", p.Name, p.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringP("description", "d", "", "Project description")
	cmd.Flags().StringSlice("owner", nil, "Owner email (repeatable)")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			search, _ := cmd.Flags().GetString("search")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := store.DefaultFilter().WithOwner(owner).WithSearch(search)
			if limit > 0 {
				filter = filter.WithLimit(limit)
			}
			return withStore(cmd, func(st projectstore.Store) error {
				projects, err := st.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				render.Stdout().Print(render.New(pretty).Projects(projects))
				return nil
			})
		},
	}
	cmd.Flags().String("owner", "", "Only projects owned by this email")
	cmd.Flags().String("search", "", "Substring of the project name")
	cmd.Flags().Int("limit", 0, "Maximum number of projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a project with its turns and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st projectstore.Store) error {
				p, err := resolveProject(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				render.Stdout().Print(render.New(pretty).Project(p))
				return nil
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st projectstore.Store) error {
				p, err := resolveProject(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if err := st.Delete(cmd.Context(), p.ID); err != nil {
					return err
				}
				render.Stdout().Println("Deleted %s", p.Name)
				return nil
			})
		},
	}
}

// projectExportCmd writes the stored tree, or one turn as JSON.
func projectExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id|name> <dir>",
		Short: "Write a project's files, or one turn's JSON, to a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			turn, _ := cmd.Flags().GetInt("turn")
			return withStore(cmd, func(st projectstore.Store) error {
				p, err := resolveProject(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if turn >= 0 {
					if turn >= len(p.Turns) {
						return fmt.Errorf("project %s has %d turns", p.Name, len(p.Turns))
					}
					path, err := export.WriteTurn(args[1], p.Turns[turn])
					if err != nil {
						return err
					}
					render.Stdout().Println("Exported turn %d to %s", turn, path)
					return nil
				}

				written, err := export.WriteTree(args[1], p.Tree)
				if err != nil {
					return err
				}
				render.Stdout().Println("Wrote %d files to %s", len(written), args[1])
				return nil
			})
		},
	}
	cmd.Flags().Int("turn", -1, "Export turn N (0-based) as JSON instead of the tree")
	return cmd
}

func projectChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <id|name> <message...>",
		Short: "Attach a note to a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				email = os.Getenv("USER")
			}
			return withStore(cmd, func(st projectstore.Store) error {
				p, err := resolveProject(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				return st.AppendChat(cmd.Context(), p.ID, domain.ChatMessage{
					Email:     email,
					Message:   strings.Join(args[1:], " "),
					Timestamp: time.Now().UTC(),
				})
			})
		},
	}
	cmd.Flags().String("email", "", "Author email (default $USER)")
	return cmd
}

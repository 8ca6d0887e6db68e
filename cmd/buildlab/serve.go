package main

import (
	"github.com/spf13/cobra"

	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/internal/projectstore"
	"github.com/joss/buildlab/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr, _ := cmd.Flags().GetString("server-addr")
			if addr == "" {
				addr = settings.ServerAddr
			}
			noStore, _ := cmd.Flags().GetBool("no-store")

			provider, err := newProvider(ctx, settings)
			if err != nil {
				return err
			}
			baseline, err := loadBaseline(settings)
			if err != nil {
				return err
			}

			var projects projectstore.Store
			if !noStore {
				projects, err = openStore(ctx, settings)
				if err != nil {
					return err
				}
				defer projects.Close()
			}

			log := logging.New("cli")
			log.Info("serve", map[string]interface{}{
				"addr":     addr,
				"provider": provider.ID(),
				"store":    settings.Store,
			})

			srv := server.New(server.Config{
				Addr:     addr,
				Machines: newMachines(settings, baseline),
				Provider: provider,
				Projects: projects,
			})
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().String("server-addr", "", "Listen address (default from config)")
	cmd.Flags().Bool("no-store", false, "Run without a project store")
	return cmd
}

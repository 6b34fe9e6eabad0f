package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/micnote/internal/server"
	"github.com/audiolibrelab/micnote/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the micnote web server to control recording from a browser.
This allows you to record notes from your phone or any device on the same
network. Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctx, cancel := signalContext()
		defer cancel()

		svc, err := service.New(ctx, cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		srv := server.New(svc, cfgFile, port)
		slog.Info("micnote web server starting", "port", port, "config", cfgFile)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return svc.Run(gctx)
		})
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}

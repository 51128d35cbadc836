package commands

import (
	"context"
	"errors"
	"gallery/internal/api"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the status API and metrics; harvests are started with POST /api/harvest.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, true, func(ctx context.Context, a *app) error {
			if _, err := a.gallery.LoadGallery(a.cfg.CSVFile, a.cfg.DataFolder); err != nil {
				a.logger.Info("starting with an empty gallery", zap.Error(err))
			}

			deps := api.Deps{
				Port:    a.cfg.ServerPort,
				Gallery: a.gallery,
				Runner:  a.harvester(),
				Checks:  a.checks(),
				Metrics: a.metrics,
				Logger:  a.logger,
			}
			if a.pg != nil {
				deps.Status = a.pg
			}
			server := api.NewServer(deps)

			errc := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()
			a.logger.Info("server started", zap.String("port", a.cfg.ServerPort))

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("server exiting")
			return nil
		})
	},
}

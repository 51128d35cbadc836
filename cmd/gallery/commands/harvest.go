package commands

import (
	"context"
	"gallery/internal/harvest"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var force bool

func init() {
	harvestCmd.Flags().BoolVar(&force, "force", false, "Scrape elements even when recently scraped.")
	rootCmd.AddCommand(harvestCmd, deriveCmd, checkCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest [--force]",
	Short: "Scrapes the index and every element page, downloads assets and saves the table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, true, func(ctx context.Context, a *app) error {
			res, err := a.harvester().Run(ctx, force)
			if err != nil {
				return err
			}
			if res.Err != nil {
				a.logger.Warn("some elements failed", zap.Int("failed", res.Failed), zap.Error(res.Err))
			}
			return nil
		})
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Exports image derivatives for the saved table and records their paths and shapes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			res, err := harvest.NewDeriver(a.cfg, a.gallery, a.metrics, a.logger).Run(ctx)
			if err != nil {
				return err
			}
			if res.Err != nil {
				a.logger.Warn("some derivatives failed", zap.Error(res.Err))
			}
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Loads the saved table and prints its shape.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			if _, err := a.gallery.LoadGallery(a.cfg.CSVFile, a.cfg.DataFolder); err != nil {
				return err
			}
			s := a.gallery.CheckGallery()
			cmd.Printf("%d rows, %d columns\n", s.Rows, len(s.Columns))
			for _, c := range s.Columns {
				cmd.Printf("  %-16s %d non-empty\n", c, s.NonEmpty[c])
			}
			return nil
		})
	},
}

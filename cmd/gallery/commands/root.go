package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "gallery",
	Short:         "gallery scrapes an online art collection into a CSV table and derives image variants.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default gallery.yaml)")
}

// withApp builds the app for one command and releases it afterwards.
func withApp(cmd *cobra.Command, connect bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if connect {
		if err := a.connect(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/cmd/breeds"
	"github.com/tphakala/pawdentify/cmd/cache"
	"github.com/tphakala/pawdentify/cmd/fetch"
	"github.com/tphakala/pawdentify/cmd/identify"
	"github.com/tphakala/pawdentify/cmd/preload"
	"github.com/tphakala/pawdentify/cmd/serve"
	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "pawdentify",
		Short:         "Dog breed image resolver and cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       ctx.Build.Version(),
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		serve.Command(ctx),
		fetch.Command(ctx),
		identify.Command(ctx),
		preload.Command(ctx),
		breeds.Command(ctx),
		cache.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(configFile)
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		// Command-line flags take precedence over file and environment
		if cmd.Flags().Changed("debug") {
			settings.Debug = debug
		}
		ctx.Settings = settings
		return nil
	}

	return rootCmd
}

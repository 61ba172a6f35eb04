package cache

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/app"
)

// Command creates the cache command group operating on the durable cache.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the durable image cache",
	}

	cmd.AddCommand(statsCommand(ctx), clearCommand(ctx))
	return cmd
}

func statsCommand(ctx *app.Context) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.New(cmd.Context(), ctx, app.Options{Restore: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			stats := rt.Service.Stats()
			out := cmd.OutOrStdout()
			if output == "json" {
				return app.WriteJSON(out, stats)
			}
			fmt.Fprintf(out, "Entries:    %d / %d\n", stats.Entries, stats.MaxEntries)
			if !stats.LastSync.IsZero() {
				fmt.Fprintf(out, "Last sync:  %s\n", stats.LastSync.Format("2006-01-02 15:04:05"))
			}
			for _, b := range stats.TopBreeds {
				fmt.Fprintf(out, "  %-32s %d\n", b.Breed, b.AccessCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	return cmd
}

func clearCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [breed]",
		Short: "Clear the whole cache or one breed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.New(cmd.Context(), ctx, app.Options{Restore: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				before := rt.Service.Stats().Entries
				rt.Service.ClearCache(cmd.Context())
				fmt.Fprintf(out, "Removed %d entries\n", before)
				return nil
			}

			removed, err := rt.Service.ClearBreed(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d entries for %s\n", removed, args[0])
			return nil
		},
	}
}

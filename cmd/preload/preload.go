package preload

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/breedimages"
)

// Command creates the preload command that warms the durable cache.
func Command(ctx *app.Context) *cobra.Command {
	var (
		favorites []string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "preload [breed...]",
		Short: "Warm the image cache",
		Long: `Fetch galleries for the best scoring breeds and store them in the durable
cache. Without arguments the breeds listed under cache.preload are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := breedimages.PreloadRequest{Breeds: args, Favorites: favorites}
			if len(req.Breeds) == 0 {
				req.Breeds = ctx.Settings.Cache.Preload.Breeds
			}
			if len(req.Favorites) == 0 {
				req.Favorites = ctx.Settings.Cache.Preload.Favorites
			}
			if len(req.Breeds) == 0 {
				return fmt.Errorf("no breeds to preload")
			}

			rt, err := app.New(cmd.Context(), ctx, app.Options{Restore: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			report := rt.Service.Preload(cmd.Context(), req)

			out := cmd.OutOrStdout()
			if output == "json" {
				return app.WriteJSON(out, report)
			}
			fmt.Fprintf(out, "Preloaded %d of %d attempted breeds\n", len(report.Succeeded), len(report.Attempted))
			for _, name := range report.Succeeded {
				fmt.Fprintf(out, "  ok      %s\n", name)
			}
			for name, reason := range report.Failed {
				fmt.Fprintf(out, "  failed  %s: %s\n", name, reason)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&favorites, "favorite", "f", nil, "Breeds ranked first regardless of usage")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")

	return cmd
}

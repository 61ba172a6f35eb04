package breeds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/breeds"
)

// Command creates the breeds command that lists or resolves breeds.
func Command(ctx *app.Context) *cobra.Command {
	var (
		output string
		review bool
	)

	cmd := &cobra.Command{
		Use:   "breeds [name]",
		Short: "List known breeds or resolve a name",
		Long:  "Without arguments print the breed catalog. With a name print the breed it resolves to.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := breeds.LoadTables(ctx.Settings.ResolvePath(ctx.Settings.Breeds.OverridesPath))
			if err != nil {
				return err
			}
			resolver, err := breeds.NewResolver(tables, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if review {
				mappings := resolver.ReviewableMappings()
				if output == "json" {
					return app.WriteJSON(out, mappings)
				}
				for _, m := range mappings {
					fmt.Fprintf(out, "%-12s %-28s -> %-28s %s\n", m.Table, m.Key, m.Target, m.Note)
				}
				return nil
			}

			records := resolver.All()
			if len(args) == 1 {
				rec, err := resolver.Resolve(args[0])
				if err != nil {
					return err
				}
				records = []breeds.Record{rec}
			}

			if output == "json" {
				return app.WriteJSON(out, records)
			}
			for _, r := range records {
				fmt.Fprintf(out, "%-32s %-32s %s\n", r.DisplayName, r.ClassifierLabel, r.ExternalSourceKey)
				if len(args) == 1 && len(r.SearchTerms) > 0 {
					fmt.Fprintf(out, "  search terms: %s\n", strings.Join(r.SearchTerms, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&review, "review", false, "List table mappings flagged for manual review")

	return cmd
}

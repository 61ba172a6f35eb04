package fetch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/classifier"
)

// Command creates the fetch command for breed galleries.
func Command(ctx *app.Context) *cobra.Command {
	var (
		f   app.ImageFlags
		mix bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <breed> | fetch --mix <breed=confidence>...",
		Short: "Fetch images of a breed",
		Long: `Fetch a gallery for one breed, resolving display names, classifier labels
and aliases. With --mix, arguments are breed=confidence pairs and the result is
a mixed gallery of up to three breeds.`,
		Example: `  pawdentify fetch "Yorkshire Terrier" -n 4
  pawdentify fetch --mix pug=0.62 beagle=0.31`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var candidates []classifier.Candidate
			if mix {
				var err error
				if candidates, err = parseCandidates(args); err != nil {
					return err
				}
			} else if len(args) > 1 {
				return fmt.Errorf("fetch takes one breed, use --mix for several")
			}

			rt, err := app.New(cmd.Context(), ctx, app.Options{Restore: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			var res breedimages.Result
			if mix {
				res = rt.Service.FetchMultiBreed(cmd.Context(), candidates, f.Options())
			} else {
				res = rt.Service.FetchBreedImages(cmd.Context(), args[0], f.Options())
			}

			out := cmd.OutOrStdout()
			if f.JSON() {
				err = app.WriteJSON(out, res)
			} else {
				err = app.WriteResult(out, res)
			}
			if err != nil {
				return err
			}
			if !res.Success {
				return res.Err
			}
			return nil
		},
	}

	app.BindImageFlags(cmd, &f)
	cmd.Flags().BoolVar(&mix, "mix", false, "Treat arguments as breed=confidence pairs of a mixed breed")

	return cmd
}

// parseCandidates reads breed=confidence pairs, ranking them in argument order
func parseCandidates(args []string) ([]classifier.Candidate, error) {
	out := make([]classifier.Candidate, 0, len(args))
	for i, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid pair %q, expected breed=confidence", arg)
		}
		confidence, err := strconv.ParseFloat(value, 64)
		if err != nil || confidence < 0 || confidence > 1 {
			return nil, fmt.Errorf("invalid confidence in %q, expected a value between 0 and 1", arg)
		}
		out = append(out, classifier.Candidate{Breed: strings.TrimSpace(name), Confidence: confidence, Rank: i + 1})
	}
	return out, nil
}

package identify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/app"
)

// Command creates the identify command that classifies a photo and shows
// a gallery of the predicted breed.
func Command(ctx *app.Context) *cobra.Command {
	var (
		f         app.ImageFlags
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "identify <image>",
		Short: "Identify the breed in a photo",
		Long:  "Send a photo to the classifier service and fetch images of the predicted breed or breed mix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.Settings.Classifier.Endpoint == "" {
				return fmt.Errorf("classifier.endpoint is not configured")
			}
			if cmd.Flags().Changed("threshold") {
				ctx.Settings.Classifier.Threshold = threshold
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open image: %w", err)
			}
			defer func() { _ = file.Close() }()

			rt, err := app.New(cmd.Context(), ctx, app.Options{Restore: true})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			res := rt.Service.Identify(cmd.Context(), file, filepath.Base(args[0]), f.Options())

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
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Minimum confidence for a breed to be shown, overrides classifier.threshold")

	return cmd
}

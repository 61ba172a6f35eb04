package app

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/pawdentify/internal/breedimages"
)

// ImageFlags are the gallery options shared by fetch, identify and preload
type ImageFlags struct {
	Count        int
	NoQuality    bool
	NoFallbacks  bool
	Refresh      bool
	OutputFormat string
}

// BindImageFlags registers the gallery flags on cmd
func BindImageFlags(cmd *cobra.Command, f *ImageFlags) {
	cmd.Flags().IntVarP(&f.Count, "count", "n", breedimages.DefaultImageCount, "Number of images to return (1-30)")
	cmd.Flags().BoolVar(&f.NoQuality, "no-quality", false, "Keep source order instead of ranking by quality")
	cmd.Flags().BoolVar(&f.NoFallbacks, "no-fallbacks", false, "Do not pad short galleries with placeholders")
	cmd.Flags().BoolVar(&f.Refresh, "refresh", false, "Bypass the cache and fetch fresh images")
	cmd.Flags().StringVarP(&f.OutputFormat, "output", "o", "text", "Output format: text, json")
}

// Options converts the flags into request options
func (f *ImageFlags) Options() breedimages.Options {
	return breedimages.Options{
		ImageCount:        f.Count,
		PrioritizeQuality: !f.NoQuality,
		IncludeFallbacks:  !f.NoFallbacks,
		ForceRefresh:      f.Refresh,
	}
}

// JSON reports whether JSON output was requested
func (f *ImageFlags) JSON() bool {
	return f.OutputFormat == "json"
}

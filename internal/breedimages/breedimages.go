// Package breedimages is the single entry point used by the HTTP API and the
// CLI. It resolves a breed name, serves image sets from the cache, runs the
// source aggregation on a miss and turns classifier predictions into single
// or mixed-breed galleries.
package breedimages

import (
	"time"

	"github.com/tphakala/pawdentify/internal/classifier"
	"github.com/tphakala/pawdentify/internal/imageprovider"
)

const (
	DefaultImageCount = 6
	MaxImageCount     = 30
	// MaxMultiBreeds caps how many breeds a mixed gallery combines
	MaxMultiBreeds = 3
	// MultiBreedSeparator joins display names of a mixed gallery
	MultiBreedSeparator = " × "
)

// Options are the caller-facing request options
type Options struct {
	ImageCount        int  `json:"imageCount"`
	PrioritizeQuality bool `json:"prioritizeQuality"`
	IncludeFallbacks  bool `json:"includeFallbacks"`
	ForceRefresh      bool `json:"forceRefresh"`
}

// DefaultOptions returns six images, quality first, padded with placeholders
func DefaultOptions() Options {
	return Options{
		ImageCount:        DefaultImageCount,
		PrioritizeQuality: true,
		IncludeFallbacks:  true,
	}
}

// normalized clamps ImageCount into 1..MaxImageCount; zero or negative
// counts use the default.
func (o Options) normalized() Options {
	switch {
	case o.ImageCount <= 0:
		o.ImageCount = DefaultImageCount
	case o.ImageCount > MaxImageCount:
		o.ImageCount = MaxImageCount
	}
	return o
}

// Image is a descriptor as shown to callers. The parent fields are set on
// mixed-breed galleries.
type Image struct {
	imageprovider.ImageDescriptor
	ParentBreed      string  `json:"parentBreed,omitempty"`
	ParentLabel      string  `json:"parentLabel,omitempty"`
	ParentConfidence float64 `json:"parentConfidence,omitempty"`
	ParentRank       int     `json:"parentRank,omitempty"`
}

// BreedBreakdown describes one breed of a mixed gallery
type BreedBreakdown struct {
	Breed           string  `json:"breed"`
	ClassifierLabel string  `json:"classifierLabel,omitempty"`
	Confidence      float64 `json:"confidence"`
	Rank            int     `json:"rank"`
	Images          int     `json:"images"`
	Cached          bool    `json:"cached"`
	Error           string  `json:"error,omitempty"`
}

// Metadata accompanies a successful result
type Metadata struct {
	TotalFetched         int                        `json:"totalFetched"`
	Sources              []imageprovider.SourceName `json:"sources"`
	FetchTime            time.Time                  `json:"fetchTime"`
	PredictionConfidence float64                    `json:"predictionConfidence,omitempty"`
	Cached               bool                       `json:"cached"`
	LowConfidence        bool                       `json:"lowConfidence,omitempty"`
	Placeholders         int                        `json:"placeholders"`
	Breakdown            []BreedBreakdown           `json:"breakdown,omitempty"`
}

// Result is either a gallery with metadata or a failure descriptor
// {success:false, error, breedName}.
type Result struct {
	Success         bool                   `json:"success"`
	BreedName       string                 `json:"breedName"`
	ClassifierLabel string                 `json:"classifierLabel,omitempty"`
	IsMultiBreed    bool                   `json:"isMultiBreed,omitempty"`
	Images          []Image                `json:"images,omitempty"`
	Metadata        *Metadata              `json:"metadata,omitempty"`
	Candidates      []classifier.Candidate `json:"candidates,omitempty"`
	Error           string                 `json:"error,omitempty"`
	// Err keeps the categorized failure for callers that map it to a status
	Err error `json:"-"`
}

func failure(breedName string, err error) Result {
	return Result{Success: false, BreedName: breedName, Error: err.Error(), Err: err}
}

// sourcesOf lists the distinct sources in images in order of first use
func sourcesOf(images []imageprovider.ImageDescriptor) []imageprovider.SourceName {
	var out []imageprovider.SourceName
	seen := make(map[imageprovider.SourceName]struct{}, 3)
	for i := range images {
		src := images[i].Source
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

func countPlaceholders(images []imageprovider.ImageDescriptor) int {
	n := 0
	for i := range images {
		if images[i].IsFallback {
			n++
		}
	}
	return n
}

func wrapImages(images []imageprovider.ImageDescriptor) []Image {
	out := make([]Image, len(images))
	for i := range images {
		out[i] = Image{ImageDescriptor: images[i]}
	}
	return out
}

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tphakala/pawdentify/internal/breedimages"
)

// WriteJSON prints v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteResult prints a gallery in a short human readable form
func WriteResult(w io.Writer, res breedimages.Result) error {
	if !res.Success {
		_, err := fmt.Fprintf(w, "%s: %s\n", res.BreedName, res.Error)
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s", res.BreedName)
	if res.ClassifierLabel != "" && res.ClassifierLabel != res.BreedName {
		fmt.Fprintf(&b, " (%s)", res.ClassifierLabel)
	}
	if m := res.Metadata; m != nil {
		if m.PredictionConfidence > 0 {
			fmt.Fprintf(&b, " confidence %.1f%%", m.PredictionConfidence*100)
		}
		if m.Cached {
			b.WriteString(" [cached]")
		}
		if m.LowConfidence {
			b.WriteString(" [low confidence]")
		}
	}
	b.WriteByte('\n')

	if m := res.Metadata; m != nil {
		for _, part := range m.Breakdown {
			fmt.Fprintf(&b, "  %d. %s %.1f%% images=%d", part.Rank, part.Breed, part.Confidence*100, part.Images)
			if part.Error != "" {
				fmt.Fprintf(&b, " error=%q", part.Error)
			}
			b.WriteByte('\n')
		}
	}
	for _, img := range res.Images {
		fmt.Fprintf(&b, "  - %-11s %s\n", img.Source, img.URL)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

package imageprovider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tphakala/pawdentify/internal/breeds"
)

const (
	placeholderBaseURL   = "https://via.placeholder.com"
	placeholderFullSize  = "800x600"
	placeholderThumbSize = "300x200"
	placeholderColors    = "4A90E2/FFFFFF"
)

// Relevance returns the fraction of rec's search terms that appear,
// case-insensitively, in the concatenated metadata. It is 0 when there is
// no metadata.
func Relevance(rec breeds.Record, metadata ...string) float64 {
	text := strings.ToLower(strings.TrimSpace(strings.Join(metadata, " ")))
	if text == "" || len(rec.SearchTerms) == 0 {
		return 0
	}

	found := 0
	for _, term := range rec.SearchTerms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			found++
		}
	}
	return float64(found) / float64(len(rec.SearchTerms))
}

// PlaceholderURL returns the deterministic placeholder image for a name
func PlaceholderURL(displayName string, thumbnail bool) string {
	size := placeholderFullSize
	if thumbnail {
		size = placeholderThumbSize
	}
	return fmt.Sprintf("%s/%s/%s?text=%s", placeholderBaseURL, size, placeholderColors,
		url.QueryEscape(displayName))
}

// Placeholders returns n fallback descriptors for rec, numbered from offset
func Placeholders(rec breeds.Record, n, offset int) []ImageDescriptor {
	return PlaceholdersFor(rec.DisplayName, n, offset)
}

// PlaceholdersFor is Placeholders for a bare display name, used when the
// name did not resolve to a catalog record.
func PlaceholdersFor(displayName string, n, offset int) []ImageDescriptor {
	if n <= 0 {
		return nil
	}
	slug := strings.ReplaceAll(strings.ToLower(strings.Join(strings.Fields(displayName), "_")), "/", "_")
	full := PlaceholderURL(displayName, false)
	thumb := PlaceholderURL(displayName, true)

	out := make([]ImageDescriptor, n)
	for i := range n {
		out[i] = ImageDescriptor{
			ID:           fmt.Sprintf("placeholder_%s_%d", slug, offset+i),
			URL:          full,
			ThumbnailURL: thumb,
			Alt:          displayName + " placeholder",
			Source:       SourcePlaceholder,
			Quality:      QualityPlaceholder,
			IsFallback:   true,
		}
	}
	return out
}

// dedupKey strips query string and fragment so that resized variants of
// one photo collapse to a single entry.
func dedupKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

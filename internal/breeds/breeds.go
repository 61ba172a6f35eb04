// Package breeds maps classifier labels and human breed names to canonical
// breed records and to the path form used by the dog.ceo image API.
package breeds

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed data/labels.json data/overrides.yaml
var dataFS embed.FS

const (
	labelsFile    = "data/labels.json"
	overridesFile = "data/overrides.yaml"

	// minSubstringLength keeps one and two letter inputs from matching
	// half the catalog
	minSubstringLength = 3
)

// Record is the canonical identity of one breed. Records are immutable once
// built; DisplayName and ExternalSourceKey are derived from the label and
// the lookup tables only.
type Record struct {
	ClassifierLabel   string   `json:"classifierLabel"`
	DisplayName       string   `json:"displayName"`
	ExternalSourceKey string   `json:"externalSourceKey"`
	SearchTerms       []string `json:"searchTerms"`
}

// IsZero reports whether r is the zero Record
func (r Record) IsZero() bool {
	return r.ClassifierLabel == ""
}

var titleCaser = cases.Title(language.English)

// NormalizeDisplayName turns a label into a human-readable name:
// "_" and "-" become spaces, whitespace collapses and each word is
// title-cased. "Yorkshire_terrier", "yorkshire-terrier" and
// "YORKSHIRE TERRIER" all give "Yorkshire Terrier".
func NormalizeDisplayName(label string) string {
	replaced := strings.NewReplacer("_", " ", "-", " ").Replace(label)
	words := strings.Fields(replaced)
	return titleCaser.String(strings.ToLower(strings.Join(words, " ")))
}

// DefaultSourceKey lowercases label and strips "_", "-" and spaces
func DefaultSourceKey(label string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(label))
}

// loadCatalog reads the embedded classifier label list
func loadCatalog() ([]string, error) {
	raw, err := dataFS.ReadFile(labelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read breed catalog: %w", err)
	}

	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse breed catalog: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("breed catalog is empty")
	}

	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("duplicate classifier label %q in catalog", label)
		}
		seen[label] = struct{}{}
	}
	return labels, nil
}

// searchTerms returns the lowercase display name followed by the configured
// synonyms, without duplicates.
func searchTerms(displayName string, synonyms []string) []string {
	lower := strings.ToLower(displayName)
	terms := []string{lower}
	seen := map[string]struct{}{lower: {}}

	for _, syn := range synonyms {
		syn = strings.ToLower(strings.TrimSpace(syn))
		if syn == "" {
			continue
		}
		if _, ok := seen[syn]; ok {
			continue
		}
		seen[syn] = struct{}{}
		terms = append(terms, syn)
	}
	return terms
}

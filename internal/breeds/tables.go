package breeds

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping is one table entry. In YAML it is either a plain scalar or a
// mapping with a review flag and an optional note.
type Mapping struct {
	Target string
	Review bool
	Note   string
}

// UnmarshalYAML accepts both "key: value" and "key: {label|path: value, review: true}".
func (m *Mapping) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		m.Target = value.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Label  string `yaml:"label"`
			Path   string `yaml:"path"`
			Review bool   `yaml:"review"`
			Note   string `yaml:"note"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		m.Target = raw.Label
		if m.Target == "" {
			m.Target = raw.Path
		}
		m.Review = raw.Review
		m.Note = raw.Note
		if m.Target == "" {
			return fmt.Errorf("line %d: mapping needs a label or path", value.Line)
		}
		return nil
	default:
		return fmt.Errorf("line %d: unsupported mapping node", value.Line)
	}
}

// Tables holds the static lookup data
type Tables struct {
	SourceKeys map[string]Mapping  `yaml:"source_keys"`
	Aliases    map[string]Mapping  `yaml:"aliases"`
	Synonyms   map[string][]string `yaml:"synonyms"`
}

// ReviewableMapping is a table entry flagged for curation
type ReviewableMapping struct {
	Table  string `json:"table"`
	Key    string `json:"key"`
	Target string `json:"target"`
	Note   string `json:"note,omitempty"`
}

// DefaultTables returns the embedded lookup tables
func DefaultTables() (*Tables, error) {
	raw, err := dataFS.ReadFile(overridesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded breed tables: %w", err)
	}
	return parseTables(raw)
}

// LoadTables returns the embedded tables merged with the file at path.
// Entries from the file win. An empty path returns the defaults.
func LoadTables(path string) (*Tables, error) {
	tables, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return tables, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read breed tables %s: %w", path, err)
	}
	extra, err := parseTables(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse breed tables %s: %w", path, err)
	}
	tables.Merge(extra)
	return tables, nil
}

func parseTables(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	t.normalize()
	return &t, nil
}

// normalize lowercases alias keys and makes every map non-nil
func (t *Tables) normalize() {
	if t.SourceKeys == nil {
		t.SourceKeys = make(map[string]Mapping)
	}
	if t.Synonyms == nil {
		t.Synonyms = make(map[string][]string)
	}
	aliases := make(map[string]Mapping, len(t.Aliases))
	for name, m := range t.Aliases {
		aliases[strings.ToLower(strings.Join(strings.Fields(name), " "))] = m
	}
	t.Aliases = aliases
}

// Merge copies every entry of other into t, replacing existing keys
func (t *Tables) Merge(other *Tables) {
	if other == nil {
		return
	}
	maps.Copy(t.SourceKeys, other.SourceKeys)
	maps.Copy(t.Aliases, other.Aliases)
	maps.Copy(t.Synonyms, other.Synonyms)
}

// reviewable lists flagged entries in a stable order
func (t *Tables) reviewable() []ReviewableMapping {
	var out []ReviewableMapping
	collect := func(table string, entries map[string]Mapping) {
		for _, key := range sortedKeys(entries) {
			m := entries[key]
			if m.Review {
				out = append(out, ReviewableMapping{Table: table, Key: key, Target: m.Target, Note: m.Note})
			}
		}
	}
	collect("aliases", t.Aliases)
	collect("source_keys", t.SourceKeys)
	return out
}

func sortedKeys(m map[string]Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

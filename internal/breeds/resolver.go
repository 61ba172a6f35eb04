package breeds

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

// ErrBreedNotFound is wrapped by every resolution miss
var ErrBreedNotFound = errors.NewStd("breed not found")

// MatchKind tells which step of a cascade produced a record
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchAlias
	MatchSubstring
)

func (m MatchKind) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchAlias:
		return "alias"
	case MatchSubstring:
		return "substring"
	default:
		return "none"
	}
}

// Resolver resolves classifier labels and display names to catalog records.
// It is read-only after construction and safe for concurrent use.
type Resolver struct {
	records    []Record
	byLabel    map[string]int // exact label
	byFolded   map[string]int // lowercased, separator-normalized label
	byDisplay  map[string]int // exact display name
	byLowerDN  map[string]int // lowercased display name
	aliases    map[string]int
	sourceKeys map[string]string
	reviewable []ReviewableMapping
	log        logger.Logger
}

// NewResolver builds a resolver over the embedded catalog. A nil tables
// value uses the embedded defaults. Aliases and synonyms naming a label
// outside the catalog are rejected.
func NewResolver(tables *Tables, log logger.Logger) (*Resolver, error) {
	labels, err := loadCatalog()
	if err != nil {
		return nil, errors.New(err).
			Component("breeds").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return newResolver(labels, tables, log)
}

func newResolver(labels []string, tables *Tables, log logger.Logger) (*Resolver, error) {
	if tables == nil {
		var err error
		if tables, err = DefaultTables(); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	r := &Resolver{
		records:    make([]Record, 0, len(labels)),
		byLabel:    make(map[string]int, len(labels)),
		byFolded:   make(map[string]int, len(labels)),
		byDisplay:  make(map[string]int, len(labels)),
		byLowerDN:  make(map[string]int, len(labels)),
		aliases:    make(map[string]int, len(tables.Aliases)),
		sourceKeys: make(map[string]string, len(tables.SourceKeys)),
		reviewable: tables.reviewable(),
		log:        log.Module("breeds"),
	}

	for key, m := range tables.SourceKeys {
		r.sourceKeys[key] = m.Target
	}

	for label := range tables.Synonyms {
		if !slices.Contains(labels, label) {
			return nil, configError("synonyms reference unknown label %q", label)
		}
	}

	for i, label := range labels {
		display := NormalizeDisplayName(label)
		rec := Record{
			ClassifierLabel: label,
			DisplayName:     display,
			SearchTerms:     searchTerms(display, tables.Synonyms[label]),
		}
		rec.ExternalSourceKey = r.sourceKeyFor(label)
		r.records = append(r.records, rec)

		r.byLabel[label] = i
		// first label wins when two fold to the same key
		if _, ok := r.byFolded[foldLabel(label)]; !ok {
			r.byFolded[foldLabel(label)] = i
		}
		if _, ok := r.byDisplay[display]; !ok {
			r.byDisplay[display] = i
		}
		if _, ok := r.byLowerDN[strings.ToLower(display)]; !ok {
			r.byLowerDN[strings.ToLower(display)] = i
		}
	}

	for name, m := range tables.Aliases {
		idx, ok := r.byLabel[m.Target]
		if !ok {
			return nil, configError("alias %q references unknown label %q", name, m.Target)
		}
		r.aliases[name] = idx
	}

	for _, rm := range r.reviewable {
		r.log.Info("breed mapping flagged for review",
			logger.String("table", rm.Table),
			logger.String("key", rm.Key),
			logger.String("target", rm.Target),
			logger.String("note", rm.Note))
	}
	r.log.Debug("breed resolver ready",
		logger.Int("breeds", len(r.records)),
		logger.Int("aliases", len(r.aliases)),
		logger.Int("source_overrides", len(r.sourceKeys)))

	return r, nil
}

// ResolveByLabel resolves a classifier label: exact label, then
// case-insensitive label, then substring against display names.
func (r *Resolver) ResolveByLabel(label string) (Record, error) {
	if rec, kind := r.matchLabel(label); kind != MatchNone {
		return rec, nil
	}
	if rec, ok := r.matchSubstring(label); ok {
		return rec, nil
	}
	return Record{}, notFound(label, "label")
}

// ResolveByDisplayName resolves a human breed name: exact display name,
// case-insensitive display name, alias table, then substring.
func (r *Resolver) ResolveByDisplayName(name string) (Record, error) {
	rec, _, err := r.resolveDisplayName(name)
	return rec, err
}

// Resolve is the single entry point for callers that do not know whether
// they hold a label or a display name. Label matches are tried first,
// exact and case-insensitive only, then the display name cascade.
func (r *Resolver) Resolve(nameOrLabel string) (Record, error) {
	rec, _, err := r.ResolveWithKind(nameOrLabel)
	return rec, err
}

// ResolveWithKind is Resolve that also reports which step matched
func (r *Resolver) ResolveWithKind(nameOrLabel string) (Record, MatchKind, error) {
	if strings.TrimSpace(nameOrLabel) == "" {
		return Record{}, MatchNone, notFound(nameOrLabel, "any")
	}
	if rec, kind := r.matchLabel(nameOrLabel); kind != MatchNone {
		return rec, kind, nil
	}
	return r.resolveDisplayName(nameOrLabel)
}

func (r *Resolver) resolveDisplayName(name string) (Record, MatchKind, error) {
	if idx, ok := r.byDisplay[name]; ok {
		return r.records[idx], MatchExact, nil
	}
	lower := collapse(strings.ToLower(name))
	if idx, ok := r.byLowerDN[lower]; ok {
		return r.records[idx], MatchExact, nil
	}
	if idx, ok := r.aliases[lower]; ok {
		return r.records[idx], MatchAlias, nil
	}
	if rec, ok := r.matchSubstring(name); ok {
		return rec, MatchSubstring, nil
	}
	return Record{}, MatchNone, notFound(name, "display_name")
}

func (r *Resolver) matchLabel(label string) (Record, MatchKind) {
	if idx, ok := r.byLabel[label]; ok {
		return r.records[idx], MatchExact
	}
	if idx, ok := r.byFolded[foldLabel(label)]; ok {
		return r.records[idx], MatchExact
	}
	return Record{}, MatchNone
}

// matchSubstring returns the first record in catalog order whose lowercase
// display name contains the query or is contained in it.
func (r *Resolver) matchSubstring(query string) (Record, bool) {
	q := searchFold(query)
	if len(q) < minSubstringLength {
		return Record{}, false
	}
	for _, rec := range r.records {
		dn := strings.ToLower(rec.DisplayName)
		if strings.Contains(dn, q) || strings.Contains(q, dn) {
			return rec, true
		}
	}
	return Record{}, false
}

// Search returns the records, in catalog order, whose display name, label,
// search terms or aliases contain q. Matching ignores case and treats "_",
// "-" and runs of spaces alike. An empty q returns the whole catalog.
func (r *Resolver) Search(q string) []Record {
	q = searchFold(q)
	if q == "" {
		return r.All()
	}

	hits := make(map[int]struct{})
	for alias, idx := range r.aliases {
		if strings.Contains(searchFold(alias), q) {
			hits[idx] = struct{}{}
		}
	}

	var out []Record
	for idx, rec := range r.records {
		_, aliased := hits[idx]
		if aliased ||
			strings.Contains(searchFold(rec.DisplayName), q) ||
			strings.Contains(searchFold(rec.ClassifierLabel), q) ||
			slices.ContainsFunc(rec.SearchTerms, func(term string) bool {
				return strings.Contains(searchFold(term), q)
			}) {
			out = append(out, rec)
		}
	}
	return out
}

// ToExternalSourceKey returns the dog.ceo path for rec
func (r *Resolver) ToExternalSourceKey(rec Record) string {
	return r.sourceKeyFor(rec.ClassifierLabel)
}

func (r *Resolver) sourceKeyFor(label string) string {
	key := DefaultSourceKey(label)
	if override, ok := r.sourceKeys[key]; ok {
		return override
	}
	return key
}

// All returns a copy of every record in catalog order
func (r *Resolver) All() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the catalog size
func (r *Resolver) Len() int {
	return len(r.records)
}

// ReviewableMappings returns table entries flagged with review: true
func (r *Resolver) ReviewableMappings() []ReviewableMapping {
	out := make([]ReviewableMapping, len(r.reviewable))
	copy(out, r.reviewable)
	return out
}

// foldLabel lowercases and maps separators to "_" so that
// "german shepherd", "German-Shepherd" and "german_shepherd" compare equal.
func foldLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), "_")
}

// searchFold lowercases s, maps separators to spaces and collapses runs
func searchFold(s string) string {
	return collapse(strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(s)))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func notFound(query, lookup string) error {
	return errors.New(fmt.Errorf("%w: %q", ErrBreedNotFound, query)).
		Component("breeds").
		Category(errors.CategoryNotFound).
		Context("lookup", lookup).
		Build()
}

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("breeds").
		Category(errors.CategoryConfiguration).
		Build()
}

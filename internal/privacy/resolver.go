package privacy

import (
	"sort"
	"unicode/utf8"
)

// Default resolver thresholds.
const (
	DefaultMinSpanLength = 3
	DefaultMinConfidence = 0.4
)

// Resolver filters trivial and low-confidence spans and removes overlaps.
type Resolver struct {
	MinSpanLength int     // spans shorter than this many characters are dropped
	MinConfidence float64 // scored spans below this are dropped
}

// DefaultResolver returns a resolver with the standard thresholds.
func DefaultResolver() Resolver {
	return Resolver{MinSpanLength: DefaultMinSpanLength, MinConfidence: DefaultMinConfidence}
}

// Resolve applies the default resolver.
func Resolve(spans []Span) []Span {
	return DefaultResolver().Resolve(spans)
}

// Resolve returns a pairwise non-overlapping subset of spans. Spans are
// visited by start ascending, longer first on equal starts, and kept only if
// they overlap nothing kept so far. The result is in that visiting order.
func (r Resolver) Resolve(spans []Span) []Span {
	candidates := make([]Span, 0, len(spans))
	for _, s := range spans {
		if utf8.RuneCountInString(s.Text) < r.MinSpanLength {
			continue
		}
		if s.Confidence != nil && *s.Confidence < r.MinConfidence {
			continue
		}
		candidates = append(candidates, s)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].Len() > candidates[j].Len()
	})

	kept := make([]Span, 0, len(candidates))
	for _, s := range candidates {
		overlaps := false
		for _, k := range kept {
			if s.Overlaps(k) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	return kept
}

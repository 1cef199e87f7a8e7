package anonymizer

import (
	"sort"
	"strings"
)

// DeAnonymize replaces every placeholder in text with its original.
// Replacements are applied longest first: an occurrence is restored unless
// it overlaps one already claimed by a longer replacement. Restored
// originals are never rescanned. When several entries share a replacement
// the earliest entry is used.
func DeAnonymize(text string, mapping []Entry) string {
	if text == "" || len(mapping) == 0 {
		return text
	}
	return newRestorer(mapping).restore(text)
}

// restorer holds mapping entries ordered longest replacement first.
type restorer struct {
	pairs  []Entry
	maxLen int
}

// occurrence is one match of pairs[pair] at text[start:end].
type occurrence struct {
	start, end int
	pair       int
}

func newRestorer(mapping []Entry) *restorer {
	pairs := make([]Entry, 0, len(mapping))
	seen := make(map[string]bool, len(mapping))
	maxLen := 0
	for _, e := range mapping {
		if e.Replacement == "" || seen[e.Replacement] {
			continue
		}
		seen[e.Replacement] = true
		pairs = append(pairs, e)
		if len(e.Replacement) > maxLen {
			maxLen = len(e.Replacement)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].Replacement) > len(pairs[j].Replacement)
	})
	return &restorer{pairs: pairs, maxLen: maxLen}
}

// occurrences lists every match of every pair, overlapping ones included,
// in pair order.
func (r *restorer) occurrences(text string) []occurrence {
	var out []occurrence
	for i, e := range r.pairs {
		for offset := 0; offset < len(text); {
			idx := strings.Index(text[offset:], e.Replacement)
			if idx < 0 {
				break
			}
			start := offset + idx
			out = append(out, occurrence{start: start, end: start + len(e.Replacement), pair: i})
			offset = start + 1
		}
	}
	return out
}

// claims picks the occurrences to restore: walking pairs longest first,
// an occurrence wins unless it overlaps an earlier winner. The result is
// ordered by position.
func (r *restorer) claims(text string) []occurrence {
	var won []occurrence
	for _, o := range r.occurrences(text) {
		if !overlapsAny(won, o) {
			won = append(won, o)
		}
	}
	sort.Slice(won, func(i, j int) bool { return won[i].start < won[j].start })
	return won
}

func (r *restorer) restore(text string) string {
	won := r.claims(text)
	if len(won) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, o := range won {
		b.WriteString(text[last:o.start])
		b.WriteString(r.pairs[o.pair].Original)
		last = o.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func overlapsAny(set []occurrence, o occurrence) bool {
	for _, w := range set {
		if o.start < w.end && w.start < o.end {
			return true
		}
	}
	return false
}

package entitysource

import (
	"strings"
	"unicode/utf8"

	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

// ToSpans converts provider entities into spans over text with byte offsets
// and canonical classes. Entities whose offsets disagree with their text are
// relocated by searching for the text, preferring an occurrence not already
// taken by an earlier entity; entities that cannot be placed, or that lack
// text or a label, are dropped.
func ToSpans(text string, raw []RawEntity) []privacy.Span {
	if len(raw) == 0 || text == "" {
		return nil
	}

	loc := &locator{
		text:    text,
		offsets: runeOffsets(text),
		taken:   make(map[[2]int]bool),
		next:    make(map[string]int),
	}
	spans := make([]privacy.Span, 0, len(raw))
	for _, ent := range raw {
		if ent.Text == "" || strings.TrimSpace(ent.Label) == "" {
			continue
		}

		start, end, ok := loc.locate(ent)
		if !ok {
			continue
		}

		span := privacy.Span{
			Text:        text[start:end],
			Start:       start,
			End:         end,
			EntityClass: privacy.NormalizeLabel(ent.Label),
			Source:      privacy.SourceNER,
		}
		if ent.Score != nil {
			score := *ent.Score
			span.Confidence = &score
		}
		spans = append(spans, span)
	}
	return spans
}

// runeOffsets maps code point index i to its byte offset; the final element
// is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// locator places entities in text and remembers which occurrences are taken.
type locator struct {
	text    string
	offsets []int
	taken   map[[2]int]bool
	next    map[string]int // byte offset after the last placement of a text
}

func (l *locator) locate(ent RawEntity) (int, int, bool) {
	if ent.Start >= 0 && ent.End > ent.Start && ent.End < len(l.offsets) {
		start, end := l.offsets[ent.Start], l.offsets[ent.End]
		if l.text[start:end] == ent.Text {
			return l.take(ent.Text, start), end, true
		}
	}

	// Misplaced: search from the reported offset, then after the previous
	// placement of the same text, then from the top.
	var from []int
	if ent.Start >= 0 && ent.Start < len(l.offsets) {
		from = append(from, l.offsets[ent.Start])
	}
	from = append(from, l.next[ent.Text], 0)
	for _, f := range from {
		if idx := l.free(ent.Text, f); idx >= 0 {
			return l.take(ent.Text, idx), idx + len(ent.Text), true
		}
	}

	// Every occurrence is taken; overlapping spans are merged downstream.
	if idx := strings.Index(l.text, ent.Text); idx >= 0 {
		return idx, idx + len(ent.Text), true
	}
	return 0, 0, false
}

// free returns the first occurrence of needle at or after from that no
// earlier entity took, or -1.
func (l *locator) free(needle string, from int) int {
	for from <= len(l.text) {
		idx := strings.Index(l.text[from:], needle)
		if idx < 0 {
			return -1
		}
		start := from + idx
		if !l.taken[[2]int{start, start + len(needle)}] {
			return start
		}
		from = start + 1
	}
	return -1
}

func (l *locator) take(needle string, start int) int {
	end := start + len(needle)
	l.taken[[2]int{start, end}] = true
	l.next[needle] = end
	return start
}

package anonymizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

// minFragmentLength is the shortest name word the fragment sweep replaces.
const minFragmentLength = 3

// FragmentSweep replaces standalone, case-insensitive repeats of the words of
// mapped PERSON originals, such as a surname on its own, with the word at the
// same position of the replacement. Occurrences inside a placeholder already
// present in text are left alone. It returns the new text and the number of
// replacements made.
func FragmentSweep(text string, store *Store) (string, int) {
	if text == "" || store == nil {
		return text, 0
	}

	entries := store.Entries()
	total := 0
	for _, entry := range entries {
		if entry.EntityClass != privacy.ClassPerson {
			continue
		}

		replWords := strings.Fields(entry.Replacement)
		for i, word := range strings.Fields(entry.Original) {
			if utf8.RuneCountInString(word) < minFragmentLength {
				continue
			}

			replacement := fragmentReplacement(replWords, i, entry.Replacement)
			if strings.EqualFold(word, replacement) {
				continue
			}

			re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word))
			protected := placeholderRanges(text, entries)
			var n int
			text, n = replaceMatches(text, re, replacement, func(s string, start, end int) bool {
				return isStandalone(s, start, end) && !within(protected, start, end)
			})
			total += n
		}
	}
	return text, total
}

// GlobalSweep replaces every case-insensitive literal occurrence of each
// original with its replacement, longest originals first. It returns the new
// text and the number of replacements per class. With wordBoundary set, only
// standalone occurrences that do not overlap another entry's placeholder
// are replaced.
func GlobalSweep(text string, entries []Entry, wordBoundary bool) (string, map[string]int) {
	counts := make(map[string]int)
	if text == "" || len(entries) == 0 {
		return text, counts
	}

	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Original != "" {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Original) > utf8.RuneCountInString(sorted[j].Original)
	})

	for _, e := range sorted {
		accept := func(string, int, int) bool { return true }
		if wordBoundary {
			protected := placeholderRanges(text, entries)
			accept = func(s string, start, end int) bool {
				return isStandalone(s, start, end) && !within(protected, start, end)
			}
		}

		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(e.Original))
		var n int
		text, n = replaceMatches(text, re, e.Replacement, accept)
		if n > 0 {
			counts[e.EntityClass] += n
		}
	}
	return text, counts
}

// replaceMatches replaces the matches of re accepted by accept with repl.
func replaceMatches(text string, re *regexp.Regexp, repl string, accept func(s string, start, end int) bool) (string, int) {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	last, n := 0, 0
	for _, m := range matches {
		if !accept(text, m[0], m[1]) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(repl)
		last = m[1]
		n++
	}
	if n == 0 {
		return text, 0
	}
	b.WriteString(text[last:])
	return b.String(), n
}

func fragmentReplacement(words []string, i int, whole string) string {
	switch {
	case i < len(words):
		return words[i]
	case len(words) > 0:
		return words[len(words)-1]
	default:
		return whole
	}
}

// isStandalone reports whether s[start:end] is not adjacent to a word
// character. Unlike \b it treats all Unicode letters and digits as word
// characters.
func isStandalone(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// placeholderRanges returns the byte ranges of text covered by replacements
// of entries.
func placeholderRanges(text string, entries []Entry) [][2]int {
	var ranges [][2]int
	for _, e := range entries {
		if e.Replacement == "" {
			continue
		}
		for offset := 0; offset < len(text); {
			idx := strings.Index(text[offset:], e.Replacement)
			if idx < 0 {
				break
			}
			start := offset + idx
			ranges = append(ranges, [2]int{start, start + len(e.Replacement)})
			offset = start + len(e.Replacement)
		}
	}
	return ranges
}

func within(ranges [][2]int, start, end int) bool {
	for _, r := range ranges {
		if start < r[1] && end > r[0] {
			return true
		}
	}
	return false
}

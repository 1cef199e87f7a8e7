package anonymizer

import (
	"strings"
	"sync"
)

// Entry maps one original value to its fictional replacement.
type Entry struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	EntityClass string `json:"entityClass"`
}

// Store is an append-only original to replacement table. The same original
// (compared case-insensitively) always resolves to the same replacement for
// the lifetime of the store.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	index    map[string]int
	counters map[string]int
}

// NewStore creates a store seeded with existing entries. Counters resume
// after the seeded entries of each pool.
func NewStore(entries []Entry) *Store {
	s := &Store{
		entries:  make([]Entry, 0, len(entries)),
		index:    make(map[string]int, len(entries)),
		counters: make(map[string]int),
	}
	for _, e := range entries {
		key := strings.ToLower(e.Original)
		if _, exists := s.index[key]; exists {
			continue
		}
		s.index[key] = len(s.entries)
		s.entries = append(s.entries, e)
		s.counters[poolKey(e.EntityClass)]++
	}
	return s
}

// Resolve returns the replacement for original, assigning the next value of
// the class pool when original has not been seen. Pools wrap once exhausted.
func (s *Store) Resolve(original, class string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(original)
	if i, ok := s.index[key]; ok {
		return s.entries[i].Replacement
	}

	pk := poolKey(class)
	pool := fakePools[pk]
	s.counters[pk]++
	replacement := pool[(s.counters[pk]-1)%len(pool)]

	s.index[key] = len(s.entries)
	s.entries = append(s.entries, Entry{Original: original, Replacement: replacement, EntityClass: class})
	return replacement
}

// Lookup returns the entry for original, if any.
func (s *Store) Lookup(original string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[strings.ToLower(original)]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Entries returns a copy of the entries in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

package anonymizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/llm-anonymizer/internal/entitysource"
	"github.com/raaihank/llm-anonymizer/internal/metrics"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

// fakeSource reports every occurrence of the configured names.
type fakeSource struct {
	ready bool
	names map[string]string
	err   error
	block bool
	calls int
}

func (f *fakeSource) Initialize(context.Context, entitysource.ProgressFunc) error {
	f.ready = true
	return nil
}

func (f *fakeSource) Ready() bool { return f.ready }

func (f *fakeSource) DetectEntities(ctx context.Context, text string) ([]entitysource.RawEntity, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}

	score := 0.9
	var out []entitysource.RawEntity
	for name, label := range f.names {
		for offset := 0; ; {
			idx := strings.Index(text[offset:], name)
			if idx < 0 {
				break
			}
			start := offset + idx
			runeStart := utf8.RuneCountInString(text[:start])
			out = append(out, entitysource.RawEntity{
				Text:  name,
				Start: runeStart,
				End:   runeStart + utf8.RuneCountInString(name),
				Label: label,
				Score: &score,
			})
			offset = start + len(name)
		}
	}
	return out, nil
}

func (f *fakeSource) Close() error { return nil }

// stuckSource never honors its context; DetectEntities returns only once
// release is closed.
type stuckSource struct {
	release chan struct{}
}

func (s *stuckSource) Initialize(context.Context, entitysource.ProgressFunc) error { return nil }
func (s *stuckSource) Ready() bool                                                { return true }
func (s *stuckSource) Close() error                                               { return nil }

func (s *stuckSource) DetectEntities(context.Context, string) ([]entitysource.RawEntity, error) {
	<-s.release
	return []entitysource.RawEntity{{Text: "Robert Allen", Start: 25, End: 37, Label: "PER"}}, nil
}

func newTestEngine(t *testing.T, source entitysource.Source) *Engine {
	t.Helper()
	e, err := New(Config{
		Source:        source,
		Metrics:       metrics.New(prometheus.NewRegistry()),
		DetectTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return e
}

func TestAnonymizeText_PatternOnly(t *testing.T) {
	e := newTestEngine(t, nil)
	store := NewStore(nil)
	text := "Contact Dr. Jane Smith at jane@acme.com or 555-123-4567."

	res, err := e.AnonymizeText(context.Background(), text, store, "")
	require.NoError(t, err)

	assert.Equal(t, 3, res.EntitiesFound)
	assert.Equal(t, privacy.ContextGeneral, res.DetectedContext)
	require.Len(t, res.Mapping, 3)

	assert.NotContains(t, res.AnonymizedText, "jane@acme.com")
	assert.NotContains(t, res.AnonymizedText, "555-123-4567")
	assert.NotContains(t, res.AnonymizedText, "Jane")
	assert.NotContains(t, res.AnonymizedText, "Smith")
	assert.True(t, strings.HasPrefix(res.AnonymizedText, "Contact Dr. "))

	byOriginal := make(map[string]Entry)
	for _, m := range res.Mapping {
		byOriginal[m.Original] = m
	}
	assert.Equal(t, privacy.ClassPerson, byOriginal["Jane Smith"].EntityClass)
	assert.Equal(t, privacy.ClassEmail, byOriginal["jane@acme.com"].EntityClass)
	assert.Equal(t, privacy.ClassPhone, byOriginal["555-123-4567"].EntityClass)

	assert.Equal(t, text, DeAnonymize(res.AnonymizedText, res.Mapping))
}

func TestAnonymizeText_MappingStability(t *testing.T) {
	src := &fakeSource{ready: true, names: map[string]string{"Robert Allen": "B-PER"}}
	e := newTestEngine(t, src)
	store := NewStore(nil)
	ctx := context.Background()

	first, err := e.AnonymizeText(ctx, "Please forward this to Robert Allen today.", store, "")
	require.NoError(t, err)
	second, err := e.AnonymizeText(ctx, "Robert Allen replied this morning.", store, "")
	require.NoError(t, err)

	require.Len(t, second.Mapping, 1)
	replacement := second.Mapping[0].Replacement
	assert.Contains(t, first.AnonymizedText, replacement)
	assert.Contains(t, second.AnonymizedText, replacement)
	assert.NotContains(t, second.AnonymizedText, "Robert")
}

func TestAnonymizeText_ContextGating(t *testing.T) {
	src := &fakeSource{ready: true, names: map[string]string{
		"Robert Allen": "PER",
		"Acme Corp":    "ORG",
	}}
	e := newTestEngine(t, src)
	text := "Robert Allen paid the invoice to Acme Corp on time."

	t.Run("financial keeps organizations", func(t *testing.T) {
		res, err := e.AnonymizeText(context.Background(), text, NewStore(nil), "")
		require.NoError(t, err)
		assert.Equal(t, privacy.ContextFinancial, res.DetectedContext)
		assert.Contains(t, res.AnonymizedText, "Acme Corp")
		assert.NotContains(t, res.AnonymizedText, "Robert Allen")
		require.Len(t, res.Mapping, 1)
		assert.Equal(t, privacy.ClassPerson, res.Mapping[0].EntityClass)
	})

	t.Run("override strips organizations", func(t *testing.T) {
		res, err := e.AnonymizeText(context.Background(), text, NewStore(nil), privacy.ContextGeneral)
		require.NoError(t, err)
		assert.Equal(t, privacy.ContextGeneral, res.DetectedContext)
		assert.NotContains(t, res.AnonymizedText, "Acme Corp")
		assert.Len(t, res.Mapping, 2)
	})
}

func TestAnonymizeText_NothingFound(t *testing.T) {
	e := newTestEngine(t, nil)
	existing := []Entry{{Original: "Jane Smith", Replacement: "James Carter", EntityClass: privacy.ClassPerson}}

	res, err := e.AnonymizeWithMapping(context.Background(), "Let's grab lunch.", existing, "")
	require.NoError(t, err)
	assert.Equal(t, "Let's grab lunch.", res.AnonymizedText)
	assert.Zero(t, res.EntitiesFound)
	assert.Equal(t, existing, res.Mapping)
}

func TestAnonymizeText_FragmentSweep(t *testing.T) {
	src := &fakeSource{ready: true, names: map[string]string{"Robert Allen": "PER"}}
	e := newTestEngine(t, src)

	res, err := e.AnonymizeText(context.Background(), "Robert Allen joined. Later ALLEN left, unlike Allenby.", NewStore(nil), "")
	require.NoError(t, err)

	replacement := res.Mapping[0].Replacement
	surname := strings.Fields(replacement)[1]
	assert.Equal(t, replacement+" joined. Later "+surname+" left, unlike Allenby.", res.AnonymizedText)
	assert.Equal(t, 2, res.EntitiesFound)
	assert.Equal(t, 2, res.ByClass[privacy.ClassPerson])
}

func TestAnonymizeText_EntitySourceFailures(t *testing.T) {
	text := "Mail jane@acme.com about Robert Allen."

	t.Run("error falls back to patterns", func(t *testing.T) {
		src := &fakeSource{ready: true, err: errors.New("worker crashed")}
		res, err := newTestEngine(t, src).AnonymizeText(context.Background(), text, NewStore(nil), "")
		require.NoError(t, err)
		assert.Equal(t, 1, res.EntitiesFound)
		assert.Contains(t, res.AnonymizedText, "Robert Allen")
	})

	t.Run("timeout falls back to patterns", func(t *testing.T) {
		src := &fakeSource{ready: true, block: true}
		start := time.Now()
		res, err := newTestEngine(t, src).AnonymizeText(context.Background(), text, NewStore(nil), "")
		require.NoError(t, err)
		assert.Equal(t, 1, res.EntitiesFound)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("source ignoring its deadline does not stall", func(t *testing.T) {
		src := &stuckSource{release: make(chan struct{})}
		t.Cleanup(func() { close(src.release) })

		start := time.Now()
		res, err := newTestEngine(t, src).AnonymizeText(context.Background(), text, NewStore(nil), "")
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 1, res.EntitiesFound)
		assert.NotContains(t, res.AnonymizedText, "jane@acme.com")
		assert.Contains(t, res.AnonymizedText, "Robert Allen")
	})

	t.Run("not ready is never called", func(t *testing.T) {
		src := &fakeSource{names: map[string]string{"Robert Allen": "PER"}}
		res, err := newTestEngine(t, src).AnonymizeText(context.Background(), text, NewStore(nil), "")
		require.NoError(t, err)
		assert.Equal(t, 1, res.EntitiesFound)
		assert.Zero(t, src.calls)
	})

	t.Run("cancelled caller", func(t *testing.T) {
		src := &fakeSource{ready: true, block: true}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestEngine(t, src).AnonymizeText(ctx, text, NewStore(nil), "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAnonymizeText_NilStore(t *testing.T) {
	_, err := newTestEngine(t, nil).AnonymizeText(context.Background(), "x", nil, "")
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestFragmentSweep(t *testing.T) {
	t.Run("positional replacement", func(t *testing.T) {
		store := NewStore([]Entry{{Original: "Robert Allen", Replacement: "James Carter", EntityClass: privacy.ClassPerson}})
		out, n := FragmentSweep("ALLEN and allen and Allenby, robert and Al", store)
		assert.Equal(t, "Carter and Carter and Allenby, James and Al", out)
		assert.Equal(t, 3, n)
	})

	t.Run("falls back to last word", func(t *testing.T) {
		store := NewStore([]Entry{{Original: "Mary Jane Watson", Replacement: "Emma Hayes", EntityClass: privacy.ClassPerson}})
		out, n := FragmentSweep("Watson called Jane", store)
		assert.Equal(t, "Hayes called Hayes", out)
		assert.Equal(t, 2, n)
	})

	t.Run("leaves placeholders alone", func(t *testing.T) {
		store := NewStore([]Entry{{Original: "Grant Smith", Replacement: "Olivia Grant", EntityClass: privacy.ClassPerson}})
		out, n := FragmentSweep("Olivia Grant said Grant is here", store)
		assert.Equal(t, "Olivia Grant said Olivia is here", out)
		assert.Equal(t, 1, n)
	})

	t.Run("ignores non person entries", func(t *testing.T) {
		store := NewStore([]Entry{{Original: "Acme Corp", Replacement: "Initech", EntityClass: privacy.ClassOrganization}})
		out, n := FragmentSweep("Acme is big", store)
		assert.Equal(t, "Acme is big", out)
		assert.Zero(t, n)
	})

	t.Run("unicode word boundaries", func(t *testing.T) {
		store := NewStore([]Entry{{Original: "José Núñez", Replacement: "Lucas Reed", EntityClass: privacy.ClassPerson}})
		out, n := FragmentSweep("Núñez and Núñezé", store)
		assert.Equal(t, "Reed and Núñezé", out)
		assert.Equal(t, 1, n)
	})
}

func TestGlobalSweep(t *testing.T) {
	entries := []Entry{
		{Original: "Jane", Replacement: "Maria Lopez", EntityClass: privacy.ClassPerson},
		{Original: "Jane Smith", Replacement: "James Carter", EntityClass: privacy.ClassPerson},
		{Original: "jane@acme.com", Replacement: "alex.morgan@example.com", EntityClass: privacy.ClassEmail},
	}
	text := "JANE SMITH met jane and Janet at JANE@ACME.COM"

	t.Run("literal", func(t *testing.T) {
		out, counts := GlobalSweep(text, entries, false)
		assert.Equal(t, "James Carter met Maria Lopez and Maria Lopezt at alex.morgan@example.com", out)
		assert.Equal(t, 3, counts[privacy.ClassPerson])
		assert.Equal(t, 1, counts[privacy.ClassEmail])
	})

	t.Run("word boundary", func(t *testing.T) {
		out, counts := GlobalSweep(text, entries, true)
		assert.Equal(t, "James Carter met Maria Lopez and Janet at alex.morgan@example.com", out)
		assert.Equal(t, 2, counts[privacy.ClassPerson])
	})

	t.Run("word boundary keeps placeholders intact", func(t *testing.T) {
		overlapping := []Entry{
			{Original: "Bob Stone", Replacement: "James Carter", EntityClass: privacy.ClassPerson},
			{Original: "Carter", Replacement: "Maria Lopez", EntityClass: privacy.ClassPerson},
		}
		out, counts := GlobalSweep("James Carter met Carter.", overlapping, true)
		assert.Equal(t, "James Carter met Maria Lopez.", out)
		assert.Equal(t, 1, counts[privacy.ClassPerson])
		assert.Equal(t, "Bob Stone met Carter.", DeAnonymize(out, overlapping))
	})

	t.Run("empty", func(t *testing.T) {
		out, counts := GlobalSweep("", entries, false)
		assert.Empty(t, out)
		assert.Empty(t, counts)
	})
}

package anonymizer

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeAnonymize(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		mapping []Entry
		want    string
	}{
		{
			name: "longest replacement first",
			text: "Dan Kimball and Dan Kim",
			mapping: []Entry{
				{Original: "Ann", Replacement: "Dan Kim"},
				{Original: "Bob", Replacement: "Dan Kimball"},
			},
			want: "Bob and Ann",
		},
		{
			name: "longer replacement wins over an earlier overlapping one",
			text: "Lee Park Avenue Plaza",
			mapping: []Entry{
				{Original: "Grace Young", Replacement: "Lee Park"},
				{Original: "12 Elm Street", Replacement: "Park Avenue Plaza"},
			},
			want: "Lee 12 Elm Street",
		},
		{
			name: "restored originals are not rescanned",
			text: "Noah Bennett met Emma Hayes",
			mapping: []Entry{
				{Original: "Emma Hayes", Replacement: "Noah Bennett"},
				{Original: "Noah", Replacement: "Emma Hayes"},
			},
			want: "Emma Hayes met Noah",
		},
		{
			name:    "case sensitive",
			text:    "james carter and James Carter",
			mapping: []Entry{{Original: "Jane Smith", Replacement: "James Carter"}},
			want:    "james carter and Jane Smith",
		},
		{
			name: "shared replacement uses earliest entry",
			text: "555-0101",
			mapping: []Entry{
				{Original: "555-123-4567", Replacement: "555-0101"},
				{Original: "555-987-6543", Replacement: "555-0101"},
			},
			want: "555-123-4567",
		},
		{
			name:    "empty mapping",
			text:    "unchanged",
			mapping: nil,
			want:    "unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeAnonymize(tt.text, tt.mapping))
		})
	}
}

func TestDeAnonymize_Idempotent(t *testing.T) {
	mapping := []Entry{
		{Original: "Jane Smith", Replacement: "James Carter"},
		{Original: "jane@acme.com", Replacement: "alex.morgan@example.com"},
	}
	once := DeAnonymize("Ask James Carter via alex.morgan@example.com", mapping)
	assert.Equal(t, "Ask Jane Smith via jane@acme.com", once)
	assert.Equal(t, once, DeAnonymize(once, mapping))
}

func TestRestoringReader(t *testing.T) {
	mapping := []Entry{
		{Original: "Jane Smith", Replacement: "James Carter"},
		{Original: "Ann", Replacement: "Dan Kim"},
		{Original: "Bob", Replacement: "Dan Kimball"},
		{Original: "jane@acme.com", Replacement: "alex.morgan@example.com"},
	}
	text := strings.Repeat("James Carter wrote to alex.morgan@example.com about Dan Kimball and Dan Kim. ", 50) + "Dan Kim"
	want := DeAnonymize(text, mapping)

	t.Run("one byte at a time", func(t *testing.T) {
		got, err := io.ReadAll(NewRestoringReader(iotest.OneByteReader(strings.NewReader(text)), mapping))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	})

	t.Run("half reads", func(t *testing.T) {
		got, err := io.ReadAll(iotest.HalfReader(NewRestoringReader(strings.NewReader(text), mapping)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	})

	t.Run("data with EOF", func(t *testing.T) {
		got, err := io.ReadAll(NewRestoringReader(iotest.DataErrReader(strings.NewReader(text)), mapping))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	})

	t.Run("overlapping placeholders split across reads", func(t *testing.T) {
		overlapping := []Entry{
			{Original: "Grace Young", Replacement: "Lee Park"},
			{Original: "12 Elm Street", Replacement: "Park Avenue Plaza"},
		}
		input := strings.Repeat("Lee Park Avenue Plaza, then Lee Park. ", 20)
		got, err := io.ReadAll(NewRestoringReader(iotest.OneByteReader(strings.NewReader(input)), overlapping))
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("Lee 12 Elm Street, then Grace Young. ", 20), string(got))
		assert.Equal(t, DeAnonymize(input, overlapping), string(got))
	})

	t.Run("empty mapping passes through", func(t *testing.T) {
		src := strings.NewReader("hello")
		assert.Same(t, src, NewRestoringReader(src, nil))
	})

	t.Run("upstream error", func(t *testing.T) {
		_, err := io.ReadAll(NewRestoringReader(iotest.TimeoutReader(strings.NewReader(text)), mapping))
		assert.ErrorIs(t, err, iotest.ErrTimeout)
	})
}

package ner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/llm-anonymizer/internal/entitysource"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"Jane", "Smith", "works", "at", "Ac", "##me", "in", "Paris", ".",
}

var testLabels = []string{"O", "B-PER", "I-PER", "B-ORG", "I-ORG", "B-LOC", "I-LOC"}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fakeBackend emits a confident logit for the label configured per token id.
type fakeBackend struct {
	labelFor map[int64]int
	delay    time.Duration
	closed   bool
}

func (b *fakeBackend) Infer(ctx context.Context, enc Encoding) ([][]float32, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	logits := make([][]float32, len(enc.InputIDs))
	for i, id := range enc.InputIDs {
		row := make([]float32, len(testLabels))
		row[b.labelFor[id]] = 5
		logits[i] = row
	}
	return logits, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func newTestTokenizer(t *testing.T, maxLength int) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(testVocab, maxLength, false)
	require.NoError(t, err)
	return tok
}

func TestTokenizer(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	t.Run("word pieces keep offsets", func(t *testing.T) {
		tokens := tok.Tokenize("Jane works at Acme.")
		require.Len(t, tokens, 6)

		assert.Equal(t, Token{ID: 4, Start: 0, End: 4}, tokens[0])
		assert.Equal(t, Token{ID: 8, Start: 14, End: 16}, tokens[3])
		assert.Equal(t, Token{ID: 9, Start: 16, End: 18, Continuation: true}, tokens[4])
		assert.Equal(t, Token{ID: 12, Start: 18, End: 19}, tokens[5])
	})

	t.Run("unknown words map to UNK", func(t *testing.T) {
		tokens := tok.Tokenize("Zoë  Jane")
		require.Len(t, tokens, 2)
		assert.Equal(t, Token{ID: 1, Start: 0, End: 3}, tokens[0])
		assert.Equal(t, Token{ID: 4, Start: 5, End: 9}, tokens[1])
	})

	t.Run("lowercasing", func(t *testing.T) {
		lower, err := NewTokenizer([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "jane"}, 8, true)
		require.NoError(t, err)
		tokens := lower.Tokenize("JANE")
		require.Len(t, tokens, 1)
		assert.Equal(t, int64(4), tokens[0].ID)
	})

	t.Run("missing special tokens", func(t *testing.T) {
		_, err := NewTokenizer([]string{"[PAD]", "jane"}, 8, false)
		assert.Error(t, err)
	})
}

func TestTokenizer_Encode(t *testing.T) {
	tok := newTestTokenizer(t, 4)
	windows := tok.Encode("Jane Smith works at Paris")
	require.Len(t, windows, 3)

	first := windows[0]
	assert.Equal(t, []int64{2, 4, 5, 3}, first.InputIDs)
	assert.Equal(t, []int64{1, 1, 1, 1}, first.AttentionMask)
	assert.Equal(t, []int64{0, 0, 0, 0}, first.TokenTypeIDs)
	assert.Equal(t, -1, first.Tokens[0].Start)
	assert.Equal(t, -1, first.Tokens[3].Start)

	assert.Equal(t, []int64{2, 11, 3}, windows[2].InputIDs)
	assert.Nil(t, tok.Encode("   "))
}

func TestLoadTokenizer(t *testing.T) {
	path := writeFile(t, "vocab.txt", strings.Join(testVocab, "\r\n")+"\n")
	tok, err := LoadTokenizer(path, 16, false)
	require.NoError(t, err)
	assert.Len(t, tok.Tokenize("Jane Smith"), 2)

	_, err = LoadTokenizer(filepath.Join(t.TempDir(), "missing.txt"), 16, false)
	assert.Error(t, err)
}

func TestLoadLabels(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		labels, err := LoadLabels(writeFile(t, "labels.txt", strings.Join(testLabels, "\n")+"\n\n"))
		require.NoError(t, err)
		assert.Equal(t, testLabels, labels)
	})

	t.Run("config json", func(t *testing.T) {
		labels, err := LoadLabels(writeFile(t, "config.json", `{"id2label":{"1":"B-PER","0":"O"}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"O", "B-PER"}, labels)
	})

	t.Run("bad id", func(t *testing.T) {
		_, err := LoadLabels(writeFile(t, "config.json", `{"id2label":{"7":"O"}}`))
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := LoadLabels(writeFile(t, "labels.txt", "\n"))
		assert.Error(t, err)
	})
}

func TestSplitTag(t *testing.T) {
	for tag, want := range map[string][2]string{
		"O":        {"O", ""},
		"B-PER":    {"B", "PER"},
		"I-ORG":    {"I", "ORG"},
		"I_LOC":    {"I", "LOC"},
		"EMAIL":    {"B", "EMAIL"},
		"BANK-ACC": {"B", "BANK-ACC"},
	} {
		prefix, entity := splitTag(tag)
		assert.Equal(t, want, [2]string{prefix, entity}, tag)
	}
}

func newTestSource(t *testing.T, backend Backend, timeout time.Duration) *Source {
	t.Helper()
	return NewSource(Config{
		VocabPath:     writeFile(t, "vocab.txt", strings.Join(testVocab, "\n")),
		LabelsPath:    writeFile(t, "labels.txt", strings.Join(testLabels, "\n")),
		MaxLength:     16,
		DetectTimeout: timeout,
		Backend:       backend,
	}, nil)
}

func TestSource(t *testing.T) {
	backend := &fakeBackend{labelFor: map[int64]int{4: 1, 5: 2, 8: 3, 9: 4, 11: 5}}
	src := newTestSource(t, backend, time.Second)
	ctx := context.Background()

	ents, err := src.DetectEntities(ctx, "Jane Smith")
	require.NoError(t, err)
	assert.Empty(t, ents)

	var progress []float64
	require.NoError(t, src.Initialize(ctx, func(p entitysource.Progress) {
		progress = append(progress, p.Percent)
	}))
	assert.True(t, src.Ready())
	assert.Equal(t, []float64{10, 30, 60, 100}, progress)

	text := "Jane Smith works at Acme in Paris."
	ents, err = src.DetectEntities(ctx, text)
	require.NoError(t, err)
	require.Len(t, ents, 3)

	assert.Equal(t, "Jane Smith", ents[0].Text)
	assert.Equal(t, 0, ents[0].Start)
	assert.Equal(t, 10, ents[0].End)
	assert.Equal(t, "PER", ents[0].Label)
	require.NotNil(t, ents[0].Score)
	assert.InDelta(t, 0.961, *ents[0].Score, 0.001)

	assert.Equal(t, "Acme", ents[1].Text)
	assert.Equal(t, "ORG", ents[1].Label)
	assert.Equal(t, "Paris", ents[2].Text)
	assert.Equal(t, "LOC", ents[2].Label)

	spans := entitysource.ToSpans(text, ents)
	require.Len(t, spans, 3)
	assert.Equal(t, "PERSON", spans[0].EntityClass)
	assert.Equal(t, "ORGANIZATION", spans[1].EntityClass)
	assert.Equal(t, "LOCATION", spans[2].EntityClass)

	require.NoError(t, src.Close())
	assert.True(t, backend.closed)
	assert.False(t, src.Ready())
}

func TestSource_Timeout(t *testing.T) {
	src := newTestSource(t, &fakeBackend{delay: 300 * time.Millisecond}, 20*time.Millisecond)
	require.NoError(t, src.Initialize(context.Background(), nil))

	ents, err := src.DetectEntities(context.Background(), "Jane")
	assert.ErrorIs(t, err, entitysource.ErrDetectTimeout)
	assert.Empty(t, ents)
}

func TestSource_InitFailure(t *testing.T) {
	src := NewSource(Config{
		VocabPath:  writeFile(t, "vocab.txt", strings.Join(testVocab, "\n")),
		LabelsPath: writeFile(t, "labels.txt", strings.Join(testLabels, "\n")),
		ModelPath:  filepath.Join(t.TempDir(), "missing.onnx"),
	}, nil)

	err := src.Initialize(context.Background(), nil)
	assert.ErrorIs(t, err, entitysource.ErrInitFailed)
	assert.False(t, src.Ready())

	src = NewSource(Config{VocabPath: "/nonexistent/vocab.txt"}, nil)
	assert.ErrorIs(t, src.Initialize(context.Background(), nil), entitysource.ErrInitFailed)
}

package anonymizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/metrics"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

const paragraphSeparator = "\n\n"

// Chunk is a slice of a document. Concatenating Text+Sep over all chunks
// reproduces the document exactly.
type Chunk struct {
	Text string
	Sep  string
}

// ProgressFunc receives document progress as a percentage and a status line.
type ProgressFunc func(percent int, message string)

// EntityCount is the number of substitutions of one class.
type EntityCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// DocumentResult is the outcome of anonymizing a whole document.
type DocumentResult struct {
	AnonymizedText  string              `json:"anonymized_text"`
	Mapping         []Entry             `json:"mapping"`
	EntitiesFound   []EntityCount       `json:"entities_found"`
	DetectedContext privacy.ContextType `json:"-"`
	Chunks          int                 `json:"-"`
}

// Total returns the sum of all entity counts.
func (r *DocumentResult) Total() int {
	total := 0
	for _, c := range r.EntitiesFound {
		total += c.Count
	}
	return total
}

// SplitChunks splits text into chunks of at most limit characters, breaking
// on paragraph boundaries. Paragraphs longer than limit are hard-sliced.
func SplitChunks(text string, limit int) []Chunk {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultChunkSize
	}

	var (
		chunks  []Chunk
		current strings.Builder
		curLen  int
		has     bool
	)
	flush := func() {
		if has {
			chunks = append(chunks, Chunk{Text: current.String(), Sep: paragraphSeparator})
			current.Reset()
			curLen, has = 0, false
		}
	}

	for _, para := range strings.Split(text, paragraphSeparator) {
		n := utf8.RuneCountInString(para)

		if n > limit {
			flush()
			pieces := sliceRunes(para, limit)
			for i, piece := range pieces {
				sep := ""
				if i == len(pieces)-1 {
					sep = paragraphSeparator
				}
				chunks = append(chunks, Chunk{Text: piece, Sep: sep})
			}
			continue
		}

		if has && curLen+utf8.RuneCountInString(paragraphSeparator)+n > limit {
			flush()
		}
		if has {
			current.WriteString(paragraphSeparator)
			curLen += utf8.RuneCountInString(paragraphSeparator)
		}
		current.WriteString(para)
		curLen += n
		has = true
	}
	flush()

	chunks[len(chunks)-1].Sep = ""
	return chunks
}

func sliceRunes(s string, limit int) []string {
	var pieces []string
	count, start := 0, 0
	for i := range s {
		if count == limit {
			pieces = append(pieces, s[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(pieces, s[start:])
}

// AnonymizeDocument anonymizes a long document chunk by chunk against one
// store. The context is decided once from the first chunk. Chunks run in
// order because each depends on the mappings made by the ones before it.
// A final sweep replaces any remaining occurrence of a mapped original.
func (e *Engine) AnonymizeDocument(ctx context.Context, text string, store *Store, onProgress ProgressFunc) (*DocumentResult, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	started := time.Now()
	report := func(percent int, message string) {
		if onProgress != nil {
			onProgress(percent, message)
		}
	}

	chunks := SplitChunks(text, e.chunkSize)
	if len(chunks) == 0 {
		report(100, "Nothing to anonymize")
		return &DocumentResult{
			AnonymizedText:  text,
			Mapping:         store.Entries(),
			EntitiesFound:   []EntityCount{},
			DetectedContext: privacy.ContextGeneral,
		}, nil
	}

	docContext := privacy.DetectContext(chunks[0].Text)
	log := e.logger.With(zap.String("context", string(docContext)), zap.Int("chunks", len(chunks)))
	log.Info("Anonymizing document")

	counts := make(map[string]int)
	var b strings.Builder
	b.Grow(len(text))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("document anonymization cancelled at chunk %d: %w", i+1, err)
		}

		res, err := e.AnonymizeText(ctx, chunk.Text, store, docContext)
		if err != nil {
			return nil, fmt.Errorf("failed to anonymize chunk %d: %w", i+1, err)
		}
		for class, n := range res.ByClass {
			counts[class] += n
		}
		b.WriteString(res.AnonymizedText)
		b.WriteString(chunk.Sep)

		report((i+1)*90/len(chunks), fmt.Sprintf("Anonymized chunk %d of %d", i+1, len(chunks)))
	}

	report(95, "Applying mapping across the whole document")
	out, swept := GlobalSweep(b.String(), store.Entries(), e.wordBoundary)
	for class, n := range swept {
		counts[class] += n
		e.metrics.ObserveEntities(class, metrics.SourceSweep, n)
	}

	out, hits := FragmentSweep(out, store)
	if hits > 0 {
		counts[privacy.ClassPerson] += hits
		e.metrics.ObserveEntities(privacy.ClassPerson, metrics.SourceSweep, hits)
	}

	result := &DocumentResult{
		AnonymizedText:  out,
		Mapping:         store.Entries(),
		EntitiesFound:   sortedCounts(counts),
		DetectedContext: docContext,
		Chunks:          len(chunks),
	}

	log.Info("Document anonymized",
		zap.Int("entities", result.Total()),
		zap.Int("mapping_size", len(result.Mapping)),
		zap.Duration("duration", time.Since(started)),
	)
	e.metrics.ObserveAnonymization("document", string(docContext), time.Since(started).Seconds())
	report(100, "Done")

	return result, nil
}

// sortedCounts orders counts by count descending, then class name.
func sortedCounts(counts map[string]int) []EntityCount {
	out := make([]EntityCount, 0, len(counts))
	for class, n := range counts {
		if n > 0 {
			out = append(out, EntityCount{Type: class, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

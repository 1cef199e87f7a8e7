// Package anonymizer replaces detected PII with stable fictional values and
// restores the originals in model output.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/entitysource"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/metrics"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 4000
	// DefaultDetectTimeout bounds a single entity source call.
	DefaultDetectTimeout = 10 * time.Second
)

// ErrNilStore is returned when an operation is given no mapping store.
var ErrNilStore = errors.New("mapping store is nil")

// Config configures an Engine. Zero values select the defaults.
type Config struct {
	Detector *privacy.Detector
	Source   entitysource.Source
	Metrics  *metrics.Metrics
	Logger   *logger.Logger

	ChunkSize               int
	MinSpanLength           int
	MinConfidence           float64
	DetectTimeout           time.Duration
	GlobalSweepWordBoundary bool
}

// Engine runs detection, resolution, context filtering and substitution.
// It holds no per-session state; callers pass the Store to mutate.
type Engine struct {
	detector      *privacy.Detector
	source        entitysource.Source
	resolver      privacy.Resolver
	metrics       *metrics.Metrics
	logger        *logger.Logger
	chunkSize     int
	detectTimeout time.Duration
	wordBoundary  bool
}

type detectResult struct {
	raw []entitysource.RawEntity
	err error
}

// Result is the outcome of anonymizing one text block.
type Result struct {
	AnonymizedText  string              `json:"anonymizedText"`
	Mapping         []Entry             `json:"mapping"`
	EntitiesFound   int                 `json:"entitiesFound"`
	DetectedContext privacy.ContextType `json:"detectedContext"`
	ByClass         map[string]int      `json:"-"`
}

// New creates an engine.
func New(config Config) (*Engine, error) {
	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}

	detector := config.Detector
	if detector == nil {
		var err error
		detector, err = privacy.New([]string{"all"}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create pattern detector: %w", err)
		}
	}

	source := config.Source
	if source == nil {
		source = entitysource.Disabled{}
	}

	resolver := privacy.DefaultResolver()
	if config.MinSpanLength > 0 {
		resolver.MinSpanLength = config.MinSpanLength
	}
	if config.MinConfidence > 0 {
		resolver.MinConfidence = config.MinConfidence
	}

	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	detectTimeout := config.DetectTimeout
	if detectTimeout <= 0 {
		detectTimeout = DefaultDetectTimeout
	}

	return &Engine{
		detector:      detector,
		source:        source,
		resolver:      resolver,
		metrics:       config.Metrics,
		logger:        log.WithComponent("anonymizer"),
		chunkSize:     chunkSize,
		detectTimeout: detectTimeout,
		wordBoundary:  config.GlobalSweepWordBoundary,
	}, nil
}

// Detector returns the pattern detector the engine runs.
func (e *Engine) Detector() *privacy.Detector {
	return e.detector
}

// Source returns the entity source the engine consults.
func (e *Engine) Source() entitysource.Source {
	return e.source
}

// AnonymizeWithMapping anonymizes text against a store seeded with existing.
func (e *Engine) AnonymizeWithMapping(ctx context.Context, text string, existing []Entry, override privacy.ContextType) (*Result, error) {
	return e.AnonymizeText(ctx, text, NewStore(existing), override)
}

// AnonymizeText replaces every stripped entity in text with its placeholder
// from store. An empty override lets the engine classify the text itself.
// Entity source failures never fail the call; they reduce detection to the
// pattern rules.
func (e *Engine) AnonymizeText(ctx context.Context, text string, store *Store, override privacy.ContextType) (*Result, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	started := time.Now()

	spans := e.detector.Detect(text)
	spans = append(spans, e.detectEntities(ctx, text)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detected := override
	if detected == "" {
		detected = privacy.DetectContext(text)
	}

	resolved := e.resolver.Resolve(spans)
	survivors := resolved[:0]
	for _, s := range resolved {
		if !privacy.ShouldKeepEntity(s.EntityClass, detected) {
			survivors = append(survivors, s)
		}
	}

	result := &Result{
		AnonymizedText:  text,
		DetectedContext: detected,
		ByClass:         make(map[string]int),
	}

	if len(survivors) == 0 {
		result.Mapping = store.Entries()
		e.metrics.ObserveAnonymization("text", string(detected), time.Since(started).Seconds())
		return result, nil
	}

	// Right to left, so offsets of spans not yet replaced stay valid.
	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Start > survivors[j].Start
	})

	out := text
	for _, s := range survivors {
		replacement := store.Resolve(s.Text, s.EntityClass)
		out = out[:s.Start] + replacement + out[s.End:]
		result.ByClass[s.EntityClass]++
		e.metrics.ObserveEntities(s.EntityClass, s.Source, 1)
	}

	out, hits := FragmentSweep(out, store)
	if hits > 0 {
		result.ByClass[privacy.ClassPerson] += hits
		e.metrics.ObserveEntities(privacy.ClassPerson, metrics.SourceSweep, hits)
	}

	result.AnonymizedText = out
	result.Mapping = store.Entries()
	result.EntitiesFound = len(survivors) + hits

	e.logger.Debug("Text anonymized",
		zap.Int("spans", len(survivors)),
		zap.Int("fragment_hits", hits),
		zap.String("context", string(detected)),
		zap.Int("mapping_size", len(result.Mapping)),
	)
	e.metrics.ObserveAnonymization("text", string(detected), time.Since(started).Seconds())

	return result, nil
}

// detectEntities asks the entity source for spans, bounded by the detect
// timeout. Any failure yields no spans.
func (e *Engine) detectEntities(ctx context.Context, text string) []privacy.Span {
	if !e.source.Ready() {
		return nil
	}

	detectCtx, cancel := context.WithTimeout(ctx, e.detectTimeout)
	defer cancel()

	// Buffered so a source that ignores its deadline does not leak the
	// goroutine once it finally returns.
	done := make(chan detectResult, 1)
	go func() {
		raw, err := e.source.DetectEntities(detectCtx, text)
		done <- detectResult{raw: raw, err: err}
	}()

	var raw []entitysource.RawEntity
	var err error
	select {
	case res := <-done:
		raw, err = res.raw, res.err
	case <-detectCtx.Done():
		err = detectCtx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		reason := "error"
		if errors.Is(err, entitysource.ErrDetectTimeout) || errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		e.logger.Warn("Entity source unavailable, using pattern detection only",
			zap.String("reason", reason),
			zap.Error(err),
		)
		e.metrics.ObserveEntitySourceFailure(reason)
		return nil
	}

	spans := entitysource.ToSpans(text, raw)
	if dropped := len(raw) - len(spans); dropped > 0 {
		e.logger.Warn("Dropped malformed entities", zap.Int("dropped", dropped))
		e.metrics.ObserveEntitySourceFailure("malformed")
	}
	return spans
}

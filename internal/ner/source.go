// Package ner is an in-process entity source backed by a token
// classification model.
package ner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/entitysource"
	"github.com/raaihank/llm-anonymizer/internal/logger"
)

// Config configures a Source.
type Config struct {
	ModelPath     string
	VocabPath     string
	LabelsPath    string
	MaxLength     int
	Lowercase     bool
	DetectTimeout time.Duration

	// Backend replaces the runtime selected by the build; used by tests and
	// embedders that bring their own inference.
	Backend Backend
}

// Source implements entitysource.Source on top of a local model.
type Source struct {
	config Config
	logger *logger.Logger

	initMu    sync.Mutex
	ready     atomic.Bool
	tokenizer *Tokenizer
	labels    []string
	backend   Backend
}

var _ entitysource.Source = (*Source)(nil)

// NewSource creates an uninitialized source.
func NewSource(config Config, log *logger.Logger) *Source {
	if config.MaxLength <= 0 {
		config.MaxLength = 512
	}
	if config.DetectTimeout <= 0 {
		config.DetectTimeout = entitysource.DefaultDetectTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Source{config: config, logger: log.WithComponent("ner")}
}

// Initialize loads the vocabulary, the label table and the model once.
func (s *Source) Initialize(ctx context.Context, onProgress entitysource.ProgressFunc) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.ready.Load() {
		return nil
	}
	progress := func(percent float64, message string) {
		if onProgress != nil {
			onProgress(entitysource.Progress{Message: message, Percent: percent})
		}
	}

	progress(10, "Loading vocabulary")
	tokenizer, err := LoadTokenizer(s.config.VocabPath, s.config.MaxLength, s.config.Lowercase)
	if err != nil {
		return fmt.Errorf("%w: %v", entitysource.ErrInitFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	progress(30, "Loading labels")
	labels, err := LoadLabels(s.config.LabelsPath)
	if err != nil {
		return fmt.Errorf("%w: %v", entitysource.ErrInitFailed, err)
	}

	progress(60, "Loading model")
	backend := s.config.Backend
	if backend == nil {
		backend, err = NewBackend(s.logger, s.config.ModelPath)
		if err != nil {
			return fmt.Errorf("%w: %v", entitysource.ErrInitFailed, err)
		}
	}

	s.tokenizer, s.labels, s.backend = tokenizer, labels, backend
	s.ready.Store(true)
	progress(100, "Model ready")

	s.logger.Info("NER model ready",
		zap.Int("labels", len(labels)),
		zap.Int("max_length", s.config.MaxLength),
	)
	return nil
}

// Ready reports whether Initialize succeeded.
func (s *Source) Ready() bool {
	return s.ready.Load()
}

// DetectEntities runs the model over text window by window. It returns an
// empty result when the source is not ready and ErrDetectTimeout when the
// model does not finish within the detect timeout.
func (s *Source) DetectEntities(ctx context.Context, text string) ([]entitysource.RawEntity, error) {
	if !s.ready.Load() {
		return nil, nil
	}

	s.initMu.Lock()
	tokenizer, labels, backend := s.tokenizer, s.labels, s.backend
	s.initMu.Unlock()
	if backend == nil {
		return nil, nil
	}

	type outcome struct {
		entities []entitysource.RawEntity
		err      error
	}
	done := make(chan outcome, 1)

	// Runtimes cannot be interrupted mid-run, so inference continues in the
	// background after a timeout and its result is discarded.
	go func() {
		entities, err := detect(ctx, text, tokenizer, labels, backend)
		done <- outcome{entities, err}
	}()

	timer := time.NewTimer(s.config.DetectTimeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.entities, o.err
	case <-timer.C:
		s.logger.Warn("NER detect timed out", zap.Duration("timeout", s.config.DetectTimeout))
		return nil, entitysource.ErrDetectTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func detect(ctx context.Context, text string, tokenizer *Tokenizer, labels []string, backend Backend) ([]entitysource.RawEntity, error) {
	runes := []rune(text)
	var entities []entitysource.RawEntity
	for _, enc := range tokenizer.Encode(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := backend.Infer(ctx, enc)
		if err != nil {
			return nil, fmt.Errorf("ner inference failed: %w", err)
		}
		entities = append(entities, decode(runes, enc, logits, labels)...)
	}
	return entities, nil
}

// Close releases the model.
func (s *Source) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.ready.Store(false)
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// Package entitysource defines the contract between the anonymization engine
// and asynchronous named-entity-recognition providers.
package entitysource

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when a source is used after Close.
	ErrClosed = errors.New("entity source closed")
	// ErrDetectTimeout is returned together with an empty result when a detect
	// request outlives its deadline.
	ErrDetectTimeout = errors.New("entity source detect timed out")
	// ErrInitFailed wraps an init-error reported by the provider.
	ErrInitFailed = errors.New("entity source initialization failed")
)

// RawEntity is an entity as reported by a provider. Start and End are
// Unicode code point offsets into the submitted text.
type RawEntity struct {
	Text  string   `json:"text"`
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
}

// Progress is one initialization progress event.
type Progress struct {
	Message string  `json:"message"`
	Percent float64 `json:"progress,omitempty"`
}

// ProgressFunc receives initialization progress events.
type ProgressFunc func(Progress)

// Source is an initialize-once, asynchronous entity provider.
//
// DetectEntities must return promptly with an empty result when the source
// is not ready, and must never block past its own detect timeout.
type Source interface {
	Initialize(ctx context.Context, onProgress ProgressFunc) error
	Ready() bool
	DetectEntities(ctx context.Context, text string) ([]RawEntity, error)
	Close() error
}

// Disabled is a Source that is never ready.
type Disabled struct{}

func (Disabled) Initialize(context.Context, ProgressFunc) error { return nil }

func (Disabled) Ready() bool { return false }

func (Disabled) DetectEntities(context.Context, string) ([]RawEntity, error) { return nil, nil }

func (Disabled) Close() error { return nil }

//go:build !onnx

package ner

import (
	"github.com/raaihank/llm-anonymizer/internal/logger"
)

// NewBackend is the stub used when the 'onnx' build tag is not set.
func NewBackend(log *logger.Logger, modelPath string) (Backend, error) {
	return nil, ErrBackendUnavailable
}

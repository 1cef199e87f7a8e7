package ner

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is returned when the binary was built without an
// inference runtime.
var ErrBackendUnavailable = errors.New("ner inference backend not available in this build")

// Backend runs a token classification model.
type Backend interface {
	// Infer returns one row of label logits per input token.
	Infer(ctx context.Context, enc Encoding) ([][]float32, error)
	// Close releases any native resources.
	Close() error
}

// Note: NewBackend is provided in build-tagged files, backend_onnx.go and backend_stub.go

//go:build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/logger"
)

// OnnxBackend runs a token classification model with ONNX Runtime (via yalue/onnxruntime_go).
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewBackend(log *logger.Logger, modelPath string) (Backend, error) {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx runtime environment init failed: %w", err)
		}
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect onnx model %s: %w", modelPath, err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("onnx model %s reports no outputs", modelPath)
	}

	inputNames := make([]string, 0, len(inputsInfo))
	for _, ii := range inputsInfo {
		inputNames = append(inputNames, ii.Name)
	}

	// Token classification exports name their output "logits"; otherwise
	// take the first one.
	outputName := outputsInfo[0].Name
	for _, oi := range outputsInfo {
		if strings.EqualFold(oi.Name, "logits") {
			outputName = oi.Name
			break
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session creation failed: %w", err)
	}

	log.Info("ONNX Runtime backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName),
	)
	return &OnnxBackend{session: sess, inputNames: inputNames, outputName: outputName, logger: log}, nil
}

// Infer runs the model on one window and returns [seq][labels] logits.
func (b *OnnxBackend) Infer(ctx context.Context, enc Encoding) ([][]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.session == nil {
		return nil, fmt.Errorf("onnx backend closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqLen := len(enc.InputIDs)
	shape := ort.NewShape(1, int64(seqLen))

	byName := map[string][]int64{
		"input_ids":      enc.InputIDs,
		"attention_mask": enc.AttentionMask,
		"token_type_ids": enc.TokenTypeIDs,
	}

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		data, ok := byName[name]
		if !ok {
			switch {
			case strings.Contains(name, "mask"):
				data = enc.AttentionMask
			case strings.Contains(name, "type") || strings.Contains(name, "segment"):
				data = enc.TokenTypeIDs
			default:
				data = enc.InputIDs
			}
		}
		tensor, err := ort.NewTensor[int64](shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", rawName, err)
		}
		defer tensor.Destroy()
		inputs = append(inputs, tensor)
	}

	// One output; let ORT allocate it
	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()
	if len(outShape) != 3 || int(outShape[1]) != seqLen {
		return nil, fmt.Errorf("unsupported output shape %v", outShape)
	}

	numLabels := int(outShape[2])
	if len(data) != seqLen*numLabels {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
	}
	logits := make([][]float32, seqLen)
	for i := range logits {
		row := make([]float32, numLabels)
		copy(row, data[i*numLabels:(i+1)*numLabels])
		logits[i] = row
	}
	return logits, nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			b.logger.Warn("Failed to destroy onnx session", zap.Error(err))
		}
		b.session = nil
	}
	return ort.DestroyEnvironment()
}

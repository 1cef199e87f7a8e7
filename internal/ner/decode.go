package ner

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raaihank/llm-anonymizer/internal/entitysource"
)

// LoadLabels reads the id to label table of a token classification model,
// either from a config.json with an "id2label" object or from a text file
// with one label per line.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var cfg struct {
			ID2Label map[string]string `json:"id2label"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse labels: %w", err)
		}
		labels := make([]string, len(cfg.ID2Label))
		for k, v := range cfg.ID2Label {
			id, err := strconv.Atoi(k)
			if err != nil || id < 0 || id >= len(labels) {
				return nil, fmt.Errorf("invalid label id %q", k)
			}
			labels[id] = v
		}
		return labels, nil
	}

	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			labels = append(labels, line)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// splitTag splits an IOB tag into its prefix and entity type. "O" yields an
// empty type.
func splitTag(tag string) (prefix, entity string) {
	if tag == "" || tag == "O" {
		return "O", ""
	}
	if len(tag) > 2 && (tag[1] == '-' || tag[1] == '_') && (tag[0] == 'B' || tag[0] == 'I') {
		return tag[:1], tag[2:]
	}
	return "B", tag
}

// decode turns per-token logits into entities. Sub-word continuations
// always join the current entity; I- tags of the same type extend it.
func decode(text []rune, enc Encoding, logits [][]float32, labels []string) []entitysource.RawEntity {
	type open struct {
		entity     string
		start, end int
		scores     []float64
	}

	var (
		out     []entitysource.RawEntity
		current *open
	)
	closeCurrent := func() {
		if current == nil {
			return
		}
		sum := 0.0
		for _, s := range current.scores {
			sum += s
		}
		score := sum / float64(len(current.scores))
		out = append(out, entitysource.RawEntity{
			Text:  string(text[current.start:current.end]),
			Start: current.start,
			End:   current.end,
			Label: current.entity,
			Score: &score,
		})
		current = nil
	}

	for i, tok := range enc.Tokens {
		if tok.Start < 0 || i >= len(logits) {
			continue
		}
		labelID, prob := argmaxSoftmax(logits[i])
		tag := ""
		if labelID < len(labels) {
			tag = labels[labelID]
		}
		prefix, entity := splitTag(tag)

		if tok.Continuation && current != nil {
			current.end = tok.End
			current.scores = append(current.scores, prob)
			continue
		}

		switch {
		case entity == "":
			closeCurrent()
		case prefix == "I" && current != nil && current.entity == entity:
			current.end = tok.End
			current.scores = append(current.scores, prob)
		default:
			closeCurrent()
			current = &open{entity: entity, start: tok.Start, end: tok.End, scores: []float64{prob}}
		}
	}
	closeCurrent()
	return out
}

func argmaxSoftmax(logits []float32) (int, float64) {
	if len(logits) == 0 {
		return 0, 0
	}
	best := 0
	maxLogit := float64(logits[0])
	for i, l := range logits {
		if float64(l) > maxLogit {
			best, maxLogit = i, float64(l)
		}
	}
	sum := 0.0
	for _, l := range logits {
		sum += math.Exp(float64(l) - maxLogit)
	}
	return best, 1 / sum
}

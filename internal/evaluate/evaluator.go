// Package evaluate measures detection recall of the engine over a labelled
// corpus.
package evaluate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

// Evaluator runs the engine over labelled records, each against a fresh
// store, and scores whether the labelled value was replaced.
type Evaluator struct {
	engine *anonymizer.Engine
	config *Config
	logger *logger.Logger

	mu     sync.Mutex
	tally  map[string]*ClassReport
	report *Report
}

// NewEvaluator creates a new evaluator
func NewEvaluator(engine *anonymizer.Engine, config *Config, log *logger.Logger) *Evaluator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Evaluator{engine: engine, config: config, logger: log.WithComponent("evaluate")}
}

// EvaluateFile evaluates a dataset file (CSV, Parquet, or JSON)
func (e *Evaluator) EvaluateFile(ctx context.Context, filePath string) (*Report, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	e.logger.Info("Starting evaluation",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("workers", e.config.WorkerCount))

	var read batchReader
	switch format {
	case FormatParquet:
		var closeReader func() error
		read, closeReader = parquetBatches(file)
		defer closeReader()
	case FormatJSON:
		read, err = jsonBatches(file)
	default:
		read, err = csvBatches(file)
	}
	if err != nil {
		return nil, err
	}
	return e.run(ctx, read)
}

// Evaluate scores in-memory records.
func (e *Evaluator) Evaluate(ctx context.Context, records []Record) (*Report, error) {
	next := 0
	return e.run(ctx, func(n int) ([]Record, error) {
		end := next + n
		if end > len(records) {
			end = len(records)
		}
		batch := records[next:end]
		next = end
		return batch, nil
	})
}

// EvaluateReader scores records read from r in the given format. Parquet
// needs random access and is only supported through EvaluateFile.
func (e *Evaluator) EvaluateReader(ctx context.Context, r io.Reader, format FileFormat) (*Report, error) {
	var read batchReader
	var err error
	switch format {
	case FormatJSON:
		read, err = jsonBatches(r)
	case FormatCSV:
		read, err = csvBatches(r)
	default:
		return nil, fmt.Errorf("unsupported stream format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return e.run(ctx, read)
}

func (e *Evaluator) run(ctx context.Context, read batchReader) (*Report, error) {
	start := time.Now()
	e.mu.Lock()
	e.tally = make(map[string]*ClassReport)
	e.report = &Report{}
	e.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := read(e.config.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := e.evaluateBatch(ctx, batch); err != nil {
			return nil, err
		}
	}

	report := e.finish(time.Since(start))
	e.logger.Info("Evaluation completed",
		zap.Int64("total_records", report.TotalRecords),
		zap.Int64("evaluated", report.Evaluated),
		zap.Int64("invalid", report.Invalid),
		zap.Float64("recall", report.Recall),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (e *Evaluator) evaluateBatch(ctx context.Context, batch []Record) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.WorkerCount)

	for _, record := range batch {
		record := record
		if !e.validateRecord(record) {
			e.count(func(r *Report) { r.TotalRecords++; r.Invalid++ })
			continue
		}
		g.Go(func() error {
			return e.evaluateRecord(gctx, record)
		})
	}
	return g.Wait()
}

func (e *Evaluator) evaluateRecord(ctx context.Context, record Record) error {
	store := anonymizer.NewStore(nil)
	res, err := e.engine.AnonymizeText(ctx, record.Text, store, "")
	if err != nil {
		return fmt.Errorf("failed to anonymize record: %w", err)
	}

	class := privacy.NormalizeLabel(record.EntityClass)
	value := strings.ToLower(record.Value)
	replaced := !strings.Contains(strings.ToLower(res.AnonymizedText), value)
	agreed := false
	for _, entry := range res.Mapping {
		if entry.EntityClass == class && strings.Contains(strings.ToLower(entry.Original), value) {
			agreed = true
			break
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.report.TotalRecords++
	e.report.Evaluated++
	c, ok := e.tally[class]
	if !ok {
		c = &ClassReport{Class: class}
		e.tally[class] = c
	}
	c.Expected++
	if replaced {
		c.Replaced++
	}
	if agreed {
		c.Agreed++
	}
	if e.config.ProgressReport > 0 && e.report.Evaluated%int64(e.config.ProgressReport) == 0 {
		e.logger.Info("Evaluation progress", zap.Int64("records_evaluated", e.report.Evaluated))
	}
	return nil
}

func (e *Evaluator) count(update func(*Report)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(e.report)
}

// validateRecord validates a data record
func (e *Evaluator) validateRecord(record Record) bool {
	if !e.config.ValidateData {
		return true
	}
	if strings.TrimSpace(record.Text) == "" || strings.TrimSpace(record.Value) == "" || record.EntityClass == "" {
		return false
	}
	// The labelled value must occur in the text.
	return strings.Contains(strings.ToLower(record.Text), strings.ToLower(record.Value))
}

func (e *Evaluator) finish(elapsed time.Duration) *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := e.report
	report.Duration = elapsed
	report.Classes = make([]ClassReport, 0, len(e.tally))

	var expected, replaced, agreed int
	for _, c := range e.tally {
		c.Recall = ratio(c.Replaced, c.Expected)
		c.Agreement = ratio(c.Agreed, c.Expected)
		report.Classes = append(report.Classes, *c)
		expected += c.Expected
		replaced += c.Replaced
		agreed += c.Agreed
	}
	sort.Slice(report.Classes, func(i, j int) bool {
		return report.Classes[i].Class < report.Classes[j].Class
	})
	report.Recall = ratio(replaced, expected)
	report.Agreement = ratio(agreed, expected)
	return report
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

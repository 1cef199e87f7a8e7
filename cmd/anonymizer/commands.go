package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/evaluate"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
)

type anonymizeOptions struct {
	mappingIn  string
	mappingOut string
	single     bool
	context    string
}

func newAnonymizeCmd(root *rootOptions) *cobra.Command {
	opts := &anonymizeOptions{}
	cmd := &cobra.Command{
		Use:   "anonymize [file]",
		Short: "Anonymize a document from a file or stdin",
		Long: `Anonymizes a document and writes the result to stdout.

Documents are split into chunks that share one mapping and are swept for
leftover originals at the end. With --single the input is processed as one
block and --context can force the privacy context.

Examples:
  anonymizer anonymize contract.txt --mapping-out contract.mapping.json
  cat note.txt | anonymizer anonymize --single --context medical`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnonymize(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.mappingIn, "mapping", "", "Existing mapping JSON to keep replacements consistent with")
	cmd.Flags().StringVar(&opts.mappingOut, "mapping-out", "", "Write the resulting mapping JSON to this file")
	cmd.Flags().BoolVar(&opts.single, "single", false, "Process the input as one text block instead of a chunked document")
	cmd.Flags().StringVar(&opts.context, "context", "", "Force the privacy context (legal, medical, financial, general); only with --single")
	return cmd
}

func runAnonymize(cmd *cobra.Command, root *rootOptions, opts *anonymizeOptions, args []string) error {
	var override privacy.ContextType
	if opts.context != "" {
		if !opts.single {
			return fmt.Errorf("--context requires --single")
		}
		ctxType, ok := privacy.ParseContext(opts.context)
		if !ok {
			return fmt.Errorf("unknown context %q", opts.context)
		}
		override = ctxType
	}

	cfg, log, err := loadRuntime(root)
	if err != nil {
		return err
	}
	defer log.Sync()

	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	var existing []anonymizer.Entry
	if opts.mappingIn != "" {
		if existing, err = readMapping(opts.mappingIn); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	source := newEntitySource(cfg, log)
	defer source.Close()
	initializeSource(ctx, cfg, source, log)

	engine, err := newEngine(cfg, source, nil, log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	store := anonymizer.NewStore(existing)
	var output string
	var found int
	if opts.single {
		res, err := engine.AnonymizeText(ctx, text, store, override)
		if err != nil {
			return err
		}
		output, found = res.AnonymizedText, res.EntitiesFound
	} else {
		res, err := engine.AnonymizeDocument(ctx, text, store, func(percent int, message string) {
			log.Debug("Document progress", zap.Int("percent", percent), zap.String("message", message))
		})
		if err != nil {
			return err
		}
		output, found = res.AnonymizedText, res.Total()
	}

	if opts.mappingOut != "" {
		if err := writeMapping(opts.mappingOut, store.Entries()); err != nil {
			return err
		}
	}

	log.Info("Anonymization complete",
		zap.Int("entities_found", found),
		zap.Int("mapping_size", store.Len()))
	_, err = io.WriteString(cmd.OutOrStdout(), output)
	return err
}

func newDeanonymizeCmd() *cobra.Command {
	var mappingPath string
	cmd := &cobra.Command{
		Use:   "deanonymize --mapping file [file]",
		Short: "Restore original values in text using a mapping file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := readMapping(mappingPath)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			out := bufio.NewWriter(cmd.OutOrStdout())
			if _, err := io.Copy(out, anonymizer.NewRestoringReader(in, mapping)); err != nil {
				return fmt.Errorf("failed to restore text: %w", err)
			}
			return out.Flush()
		},
	}
	cmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "Mapping JSON produced by anonymize")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

func newEvalCmd(root *rootOptions) *cobra.Command {
	var (
		input     string
		batchSize int
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "eval --input file",
		Short: "Score detection recall against a labelled dataset",
		Long: `Runs every record of a labelled dataset through the engine and reports
per-class recall as JSON. Records need text, entity_class and value fields.

Examples:
  anonymizer eval --input dataset.csv --workers 8
  anonymizer eval --input dataset.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime(root)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			source := newEntitySource(cfg, log)
			defer source.Close()
			initializeSource(ctx, cfg, source, log)

			engine, err := newEngine(cfg, source, nil, log)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}

			evalConfig := &evaluate.Config{
				BatchSize:      cfg.Evaluate.BatchSize,
				WorkerCount:    cfg.Evaluate.WorkerCount,
				ValidateData:   cfg.Evaluate.ValidateData,
				ProgressReport: cfg.Evaluate.ProgressReport,
			}
			if cmd.Flags().Changed("batch-size") {
				evalConfig.BatchSize = batchSize
			}
			if cmd.Flags().Changed("workers") {
				evalConfig.WorkerCount = workers
			}

			report, err := evaluate.NewEvaluator(engine, evalConfig, log).EvaluateFile(ctx, input)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input dataset file (CSV, Parquet, or JSON)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 200, "Records per batch")
	cmd.Flags().IntVar(&workers, "workers", 4, "Number of worker goroutines")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var data []byte
	var err error
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func readMapping(path string) ([]anonymizer.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	var mapping []anonymizer.Entry
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	return mapping, nil
}

func writeMapping(path string, mapping []anonymizer.Entry) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return err
	}
	// The mapping holds the original PII.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mapping: %w", err)
	}
	return nil
}

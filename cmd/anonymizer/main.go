package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
	"github.com/raaihank/llm-anonymizer/internal/config"
	"github.com/raaihank/llm-anonymizer/internal/entitysource"
	"github.com/raaihank/llm-anonymizer/internal/logger"
	"github.com/raaihank/llm-anonymizer/internal/metrics"
	"github.com/raaihank/llm-anonymizer/internal/ner"
	"github.com/raaihank/llm-anonymizer/internal/privacy"
	"github.com/raaihank/llm-anonymizer/internal/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every subcommand
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	server.Version = version

	root := &cobra.Command{
		Use:   "anonymizer",
		Short: "Replace PII with stable fictional values before text reaches an LLM",
		Long: `anonymizer detects personal data in text, swaps it for consistent
fictional replacements and restores the originals in model output.

Run "anonymizer serve" to start the HTTP API, or use the anonymize,
deanonymize and eval subcommands on local files.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")

	root.AddCommand(
		newServeCmd(opts),
		newAnonymizeCmd(opts),
		newDeanonymizeCmd(),
		newEvalCmd(opts),
		newHealthCheckCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "llm-anonymizer %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// loadRuntime loads the configuration and builds the logger from it
func loadRuntime(opts *rootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// newEntitySource builds the configured entity source without initializing it
func newEntitySource(cfg *config.Config, log *logger.Logger) entitysource.Source {
	switch cfg.EntitySource.Kind {
	case "worker":
		return entitysource.NewWorkerClient(entitysource.WorkerConfig{
			URL:           cfg.EntitySource.WorkerURL,
			DetectTimeout: cfg.EntitySource.DetectTimeout,
		}, log)
	case "onnx":
		onnx := cfg.EntitySource.ONNX
		return ner.NewSource(ner.Config{
			ModelPath:     onnx.ModelPath,
			VocabPath:     onnx.VocabPath,
			LabelsPath:    onnx.LabelsPath,
			MaxLength:     onnx.MaxLength,
			Lowercase:     onnx.Lowercase,
			DetectTimeout: cfg.EntitySource.DetectTimeout,
		}, log)
	default:
		return entitysource.Disabled{}
	}
}

// newEngine wires the detector, entity source and metrics into an engine
func newEngine(cfg *config.Config, source entitysource.Source, m *metrics.Metrics, log *logger.Logger) (*anonymizer.Engine, error) {
	detector, err := privacy.New(cfg.Engine.Detectors, log)
	if err != nil {
		return nil, err
	}
	return anonymizer.New(anonymizer.Config{
		Detector:                detector,
		Source:                  source,
		Metrics:                 m,
		Logger:                  log,
		ChunkSize:               cfg.Engine.ChunkSize,
		MinSpanLength:           cfg.Engine.MinSpanLength,
		MinConfidence:           cfg.Engine.MinConfidence,
		DetectTimeout:           cfg.EntitySource.DetectTimeout,
		GlobalSweepWordBoundary: cfg.Engine.GlobalSweepWordBoundary,
	})
}

// initializeSource loads the entity source within the configured timeout.
// Failure leaves the engine on pattern rules only.
func initializeSource(ctx context.Context, cfg *config.Config, source entitysource.Source, log *logger.Logger) {
	if cfg.EntitySource.Kind == "none" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.EntitySource.InitTimeout)
	defer cancel()

	start := time.Now()
	err := source.Initialize(ctx, func(p entitysource.Progress) {
		log.Info("Entity source loading",
			zap.String("message", p.Message),
			zap.Float64("progress", p.Percent))
	})
	if err != nil {
		log.Warn("Entity source unavailable, using pattern rules only",
			zap.String("kind", cfg.EntitySource.Kind),
			zap.Error(err))
		return
	}
	log.Info("Entity source ready",
		zap.String("kind", cfg.EntitySource.Kind),
		zap.Duration("duration", time.Since(start)))
}

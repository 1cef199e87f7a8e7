package evaluate

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is one labelled example: Value is PII of class EntityClass that
// appears in Text.
type Record struct {
	Text        string `csv:"text" parquet:"text" json:"text"`
	EntityClass string `csv:"entity_class" parquet:"entity_class" json:"entity_class"`
	Value       string `csv:"value" parquet:"value" json:"value"`
}

// ClassReport holds the scores of one entity class
type ClassReport struct {
	Class     string  `json:"class"`
	Expected  int     `json:"expected"`
	Replaced  int     `json:"replaced"`
	Agreed    int     `json:"agreed"`
	Recall    float64 `json:"recall"`
	Agreement float64 `json:"agreement"`
}

// Report represents the result of evaluating a dataset
type Report struct {
	TotalRecords int64         `json:"total_records"`
	Evaluated    int64         `json:"evaluated"`
	Invalid      int64         `json:"invalid"`
	Recall       float64       `json:"recall"`
	Agreement    float64       `json:"agreement"`
	Classes      []ClassReport `json:"classes"`
	Duration     time.Duration `json:"duration"`
}

// Config contains evaluation configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`
	ValidateData   bool `yaml:"validate_data" mapstructure:"validate_data"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
}

// DefaultConfig returns the evaluation defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      200,
		WorkerCount:    4,
		ValidateData:   true,
		ProgressReport: 1000,
	}
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

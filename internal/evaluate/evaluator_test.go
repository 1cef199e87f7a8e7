package evaluate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/llm-anonymizer/internal/anonymizer"
)

var corpus = []Record{
	{Text: "Contact jane.doe@example.com about the invoice.", EntityClass: "email", Value: "jane.doe@example.com"},
	{Text: "Call me back on 555-123-4567 after lunch.", EntityClass: "phone number", Value: "555-123-4567"},
	{Text: "Please forward this to Zyxwv Qrstu tomorrow.", EntityClass: "B-PER", Value: "Zyxwv Qrstu"},
}

func newEvaluator(t *testing.T, cfg *Config) *Evaluator {
	t.Helper()
	engine, err := anonymizer.New(anonymizer.Config{})
	require.NoError(t, err)
	return NewEvaluator(engine, cfg, nil)
}

func classByName(report *Report) map[string]ClassReport {
	out := make(map[string]ClassReport, len(report.Classes))
	for _, c := range report.Classes {
		out[c.Class] = c
	}
	return out
}

func assertCorpusReport(t *testing.T, report *Report) {
	t.Helper()
	assert.Equal(t, int64(3), report.TotalRecords)
	assert.Equal(t, int64(3), report.Evaluated)
	assert.Zero(t, report.Invalid)

	classes := classByName(report)
	require.Len(t, classes, 3)
	assert.Equal(t, 1.0, classes["EMAIL_ADDRESS"].Recall)
	assert.Equal(t, 1.0, classes["EMAIL_ADDRESS"].Agreement)
	assert.Equal(t, 1.0, classes["PHONE_NUMBER"].Recall)
	assert.Equal(t, 0.0, classes["PERSON"].Recall)
	assert.InDelta(t, 2.0/3.0, report.Recall, 1e-9)

	assert.Equal(t, "EMAIL_ADDRESS", report.Classes[0].Class)
	assert.Equal(t, "PERSON", report.Classes[2].Class)
}

func TestEvaluate_Records(t *testing.T) {
	report, err := newEvaluator(t, &Config{BatchSize: 2, WorkerCount: 2, ValidateData: true}).
		Evaluate(context.Background(), corpus)
	require.NoError(t, err)
	assertCorpusReport(t, report)
}

func TestEvaluate_InvalidRecords(t *testing.T) {
	records := append([]Record{
		{Text: "", EntityClass: "EMAIL", Value: "a@b.co"},
		{Text: "no match here", EntityClass: "EMAIL", Value: "a@b.co"},
		{Text: "a@b.co", EntityClass: "", Value: "a@b.co"},
	}, corpus...)

	report, err := newEvaluator(t, nil).Evaluate(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, int64(6), report.TotalRecords)
	assert.Equal(t, int64(3), report.Invalid)
	assert.Equal(t, int64(3), report.Evaluated)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEvaluator(t, nil).Evaluate(ctx, corpus)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "value,text,entity_class\n" +
		"jane.doe@example.com,Contact jane.doe@example.com about the invoice.,email\n" +
		"555-123-4567,Call me back on 555-123-4567 after lunch.,phone number\n" +
		"Zyxwv Qrstu,Please forward this to Zyxwv Qrstu tomorrow.,B-PER\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	report, err := newEvaluator(t, nil).EvaluateFile(context.Background(), path)
	require.NoError(t, err)
	assertCorpusReport(t, report)
}

func TestEvaluateFile_CSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte("text,value\nx,y\n"), 0o600))

	_, err := newEvaluator(t, nil).EvaluateFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_class")
}

func TestEvaluateFile_CSVMalformedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "text,entity_class,value\n" +
		"Contact jane.doe@example.com about the invoice.,email,jane.doe@example.com\n" +
		"too,many,fields,here\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	report, err := newEvaluator(t, nil).EvaluateFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.TotalRecords)
	assert.Equal(t, int64(1), report.Invalid)
}

func TestEvaluateFile_JSON(t *testing.T) {
	lines := `{"text":"Contact jane.doe@example.com about the invoice.","entity_class":"email","value":"jane.doe@example.com"}
{"text":"Call me back on 555-123-4567 after lunch.","entity_class":"phone number","value":"555-123-4567"}
{"text":"Please forward this to Zyxwv Qrstu tomorrow.","entity_class":"B-PER","value":"Zyxwv Qrstu"}
`
	array := "  [" + strings.Join(strings.Split(strings.TrimSpace(lines), "\n"), ",") + "]"

	for name, content := range map[string]string{"corpus.jsonl": lines, "corpus.json": array} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			report, err := newEvaluator(t, nil).EvaluateFile(context.Background(), path)
			require.NoError(t, err)
			assertCorpusReport(t, report)
		})
	}
}

func TestEvaluateReader_JSONTypeMismatch(t *testing.T) {
	input := `{"text":42,"entity_class":"email","value":"x"}
{"text":"Contact jane.doe@example.com about the invoice.","entity_class":"email","value":"jane.doe@example.com"}
`
	report, err := newEvaluator(t, nil).EvaluateReader(context.Background(), strings.NewReader(input), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Invalid)
	assert.Equal(t, int64(1), report.Evaluated)

	_, err = newEvaluator(t, nil).EvaluateReader(context.Background(), strings.NewReader(input), FormatParquet)
	assert.Error(t, err)
}

func TestEvaluateFile_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	writer := parquet.NewWriter(f, parquet.SchemaOf(Record{}))
	for _, record := range corpus {
		require.NoError(t, writer.Write(record))
	}
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	report, err := newEvaluator(t, &Config{BatchSize: 1, WorkerCount: 1, ValidateData: true}).
		EvaluateFile(context.Background(), path)
	require.NoError(t, err)
	assertCorpusReport(t, report)
}

func TestEvaluateFile_Missing(t *testing.T) {
	_, err := newEvaluator(t, nil).EvaluateFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestDetectFileFormat(t *testing.T) {
	tests := map[string]FileFormat{
		"data.csv":       FormatCSV,
		"data.CSV":       FormatCSV,
		"data.parquet":   FormatParquet,
		"data.json":      FormatJSON,
		"data.jsonl":     FormatJSON,
		"data.ndjson":    FormatJSON,
		"no-extension":   FormatCSV,
		"dir.v2/data.tx": FormatCSV,
	}
	for name, want := range tests {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}

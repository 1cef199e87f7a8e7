package evaluate

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"
)

// batchReader returns up to n records per call and an empty batch at the end.
type batchReader func(n int) ([]Record, error)

func csvBatches(r io.Reader) (batchReader, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"text", "entity_class", "value"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", required)
		}
	}

	return func(n int) ([]Record, error) {
		var batch []Record
		for len(batch) < n {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					batch = append(batch, Record{})
					continue
				}
				return nil, err
			}
			batch = append(batch, Record{
				Text:        row[cols["text"]],
				EntityClass: strings.TrimSpace(row[cols["entity_class"]]),
				Value:       strings.TrimSpace(row[cols["value"]]),
			})
		}
		return batch, nil
	}, nil
}

// jsonBatches accepts a JSON array or a stream of objects, one per line.
func jsonBatches(r io.Reader) (batchReader, error) {
	br := bufio.NewReader(r)
	decoder := json.NewDecoder(br)

	first, err := peekNonSpace(br)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read JSON input: %w", err)
	}
	array := first == '['
	if array {
		if _, err := decoder.Token(); err != nil {
			return nil, fmt.Errorf("failed to read JSON array: %w", err)
		}
	}

	return func(n int) ([]Record, error) {
		var batch []Record
		for len(batch) < n {
			if array && !decoder.More() {
				break
			}
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &typeErr) {
					batch = append(batch, Record{})
					continue
				}
				return nil, fmt.Errorf("failed to decode JSON record: %w", err)
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for i := 1; ; i++ {
		b, err := br.Peek(i)
		if err != nil {
			return 0, err
		}
		c := b[i-1]
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return c, nil
		}
	}
}

func parquetBatches(r io.ReaderAt) (batchReader, func() error) {
	reader := parquet.NewReader(r)

	return func(n int) ([]Record, error) {
		var batch []Record
		for len(batch) < n {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			batch = append(batch, record)
		}
		return batch, nil
	}, reader.Close
}

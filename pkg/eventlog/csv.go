package eventlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"maps"
	"math"
	"slices"
	"strconv"
)

// CSVWriter appends items of type T as CSV rows, one column per JSON field.
// The header row is written on first append.
type CSVWriter[T any] struct {
	writer *csv.Writer
	first  bool
}

func (cw *CSVWriter[T]) Append(item T) error {
	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshalling JSON: %w", err)
	}
	data := map[string]any{}
	err = json.Unmarshal(jsonData, &data)
	if err != nil {
		return fmt.Errorf("unmarshalling JSON: %w", err)
	}
	keys := slices.Collect(maps.Keys(data))
	slices.Sort(keys)

	if cw.first {
		err := cw.writer.Write(keys)
		if err != nil {
			return err
		}
		cw.first = false
	}

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, formatValue(data[k]))
	}

	return cw.writer.Write(values)
}

// formatValue renders a decoded JSON value for a CSV cell. Fractional
// numbers keep full precision: simulated timestamps are sub-second.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (cw *CSVWriter[T]) Flush() error {
	cw.writer.Flush()
	return cw.writer.Error()
}

func NewCSVWriter[T any](dest io.Writer) *CSVWriter[T] {
	return &CSVWriter[T]{writer: csv.NewWriter(dest), first: true}
}

type CSVReader[T any] struct {
	reader *csv.Reader
}

// parseValue is the inverse of formatValue, recovering the most specific
// JSON value a cell can represent.
func parseValue(s string) any {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func (cr *CSVReader[T]) Iterator() iter.Seq2[T, error] {
	var emptyItem T
	return func(yield func(T, error) bool) {
		var fields []string
		first := true
		for {
			record, err := cr.reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				yield(emptyItem, err)
				return
			}

			if first {
				fields = record
				first = false
				continue
			}

			// Concatenated logs repeat the header row; skip it.
			data := map[string]any{}
			isRepeatedFields := true
			for i, k := range fields {
				if k != record[i] {
					isRepeatedFields = false
				}
				data[k] = parseValue(record[i])
			}
			if isRepeatedFields {
				continue
			}

			jsonData, err := json.Marshal(data)
			if err != nil {
				yield(emptyItem, fmt.Errorf("marshalling JSON: %w", err))
				return
			}
			var item T
			err = json.Unmarshal(jsonData, &item)
			if err != nil {
				yield(emptyItem, fmt.Errorf("unmarshalling JSON: %w", err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func NewCSVReader[T any](src io.Reader) *CSVReader[T] {
	return &CSVReader[T]{csv.NewReader(src)}
}

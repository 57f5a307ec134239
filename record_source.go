package datavet

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// OpenRecords opens a record source for a file, picking the format from
// the extension: .csv for CSV, .jsonl or .ndjson for newline-delimited
// JSON.
func OpenRecords(path string) (RecordSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return OpenCSV(path)
	case ".jsonl", ".ndjson":
		return OpenJSONL(path)
	default:
		return nil, newInvalidArgumentError("OpenRecords", fmt.Sprintf("unsupported file extension %q", filepath.Ext(path)))
	}
}

// CSVSource reads records from CSV input. The first row names the
// features; empty cells and the usual null spellings become missing
// values, and every other cell is sniffed into the narrowest value type
// that parses: integer, then float, then string.
type CSVSource struct {
	reader *csv.Reader
	closer io.Closer
	header []string
	row    int
}

var _ RecordSource = (*CSVSource)(nil)

// OpenCSV opens a CSV file as a record source.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	src, err := NewCSVSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSVSource wraps a reader of CSV data. The header row is consumed
// immediately.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, newInvalidRecordError(0, "", Value{}, "missing header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	names := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		if _, dup := seen[name]; dup {
			return nil, newInvalidRecordError(0, name, Value{}, "duplicate column name")
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return &CSVSource{reader: cr, header: names}, nil
}

// Header returns the column names in file order.
func (s *CSVSource) Header() []string {
	out := make([]string, len(s.header))
	copy(out, s.header)
	return out
}

// Next returns the next record, or io.EOF after the last one.
func (s *CSVSource) Next() (Row, error) {
	rec, err := s.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv record: %w", err)
	}
	s.row++
	row := make(Row, len(s.header))
	for i, cell := range rec {
		if i >= len(s.header) {
			break
		}
		if isMissingToken(cell) {
			continue
		}
		row[s.header[i]] = sniffToken(cell)
	}
	return row, nil
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// isMissingToken reports whether a CSV cell denotes an absent value.
func isMissingToken(cell string) bool {
	switch cell {
	case "", "null", "NULL", "NA", "N/A":
		return true
	}
	return false
}

// sniffToken parses a cell into the narrowest value type that accepts it.
func sniffToken(cell string) Value {
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return Float(f)
	}
	return Str(cell)
}

// JSONLSource reads records from newline-delimited JSON objects. JSON
// nulls become missing values, numbers keep their integer or float shape,
// and booleans become the string tokens "true" and "false". Nested arrays
// and objects are rejected.
type JSONLSource struct {
	dec    *json.Decoder
	closer io.Closer
	row    int
}

var _ RecordSource = (*JSONLSource)(nil)

// OpenJSONL opens a newline-delimited JSON file as a record source.
func OpenJSONL(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	src := NewJSONLSource(f)
	src.closer = f
	return src, nil
}

// NewJSONLSource wraps a reader of newline-delimited JSON objects.
func NewJSONLSource(r io.Reader) *JSONLSource {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &JSONLSource{dec: dec}
}

// Next returns the next record, or io.EOF after the last one.
func (s *JSONLSource) Next() (Row, error) {
	var obj map[string]any
	if err := s.dec.Decode(&obj); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode jsonl record: %w", err)
	}
	row := make(Row, len(obj))
	for name, raw := range obj {
		switch val := raw.(type) {
		case nil:
			// JSON null is a missing value.
		case string:
			row[name] = Str(val)
		case bool:
			if val {
				row[name] = Str("true")
			} else {
				row[name] = Str("false")
			}
		case json.Number:
			if i, err := strconv.ParseInt(val.String(), 10, 64); err == nil {
				row[name] = Int(i)
			} else if f, err := val.Float64(); err == nil {
				row[name] = Float(f)
			} else {
				return nil, newInvalidRecordError(s.row, name, Str(val.String()), "unparseable number")
			}
		default:
			return nil, newInvalidRecordError(s.row, name, Value{}, "nested values are not supported")
		}
	}
	s.row++
	return row, nil
}

// Close releases the underlying file, if any.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

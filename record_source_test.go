package datavet

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func readAllRows(t *testing.T, src RecordSource) []Row {
	t.Helper()
	var rows []Row
	for {
		row, err := src.Next()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestCSVSource_Sniffing(t *testing.T) {
	input := "age,score,name\n30,0.5,alice\n-7,1e3,bob\n"
	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	if header := src.Header(); !reflect.DeepEqual(header, []string{"age", "score", "name"}) {
		t.Errorf("expected header [age score name], got %v", header)
	}

	rows := readAllRows(t, src)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if v := rows[0]["age"]; v.Type() != TypeInt {
		t.Errorf("expected 30 to sniff as int, got %s", v.Type())
	}
	if v := rows[0]["score"]; v.Type() != TypeFloat || v.Float() != 0.5 {
		t.Errorf("expected 0.5 to sniff as float, got %s %v", v.Type(), v)
	}
	if v := rows[0]["name"]; v.Type() != TypeString || v.String() != "alice" {
		t.Errorf("expected alice to stay a string, got %s %v", v.Type(), v)
	}
	if i, ok := rows[1]["age"].Int(); !ok || i != -7 {
		t.Errorf("expected -7, got %v", rows[1]["age"])
	}
	// Scientific notation is not an integer.
	if v := rows[1]["score"]; v.Type() != TypeFloat || v.Float() != 1000 {
		t.Errorf("expected 1e3 to sniff as float 1000, got %s %v", v.Type(), v)
	}
}

func TestCSVSource_MissingTokens(t *testing.T) {
	input := "a,b,c,d,e\n1,,null,NA,N/A\nNULL,2,3,4,5\n"
	src, err := NewCSVSource(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	rows := readAllRows(t, src)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != 1 {
		t.Errorf("expected only a to survive in the first row, got %v", rows[0])
	}
	if _, present := rows[1]["a"]; present {
		t.Errorf("expected NULL to be missing, got %v", rows[1])
	}
	if len(rows[1]) != 4 {
		t.Errorf("expected 4 values in the second row, got %v", rows[1])
	}
}

func TestCSVSource_NoHeader(t *testing.T) {
	_, err := NewCSVSource(strings.NewReader(""))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for empty input, got %v", err)
	}
}

func TestCSVSource_DuplicateColumn(t *testing.T) {
	_, err := NewCSVSource(strings.NewReader("a,b,a\n1,2,3\n"))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for duplicate columns, got %v", err)
	}
	var ire *InvalidRecordError
	if !errors.As(err, &ire) || ire.Feature != "a" {
		t.Errorf("expected the duplicate column to be named, got %v", err)
	}
}

func TestCSVSource_HeaderOnly(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	if _, err := src.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestCSVSource_HeaderIsolated(t *testing.T) {
	src, err := NewCSVSource(strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	header := src.Header()
	header[0] = "mutated"
	if src.Header()[0] != "a" {
		t.Error("mutating the returned header leaked into the source")
	}
}

func TestJSONLSource_Values(t *testing.T) {
	input := `{"age": 30, "score": 0.5, "name": "alice", "active": true, "note": null}
{"age": 31, "active": false}
`
	src := NewJSONLSource(strings.NewReader(input))
	rows := readAllRows(t, src)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if v := rows[0]["age"]; v.Type() != TypeInt {
		t.Errorf("expected an integer age, got %s", v.Type())
	}
	if v := rows[0]["score"]; v.Type() != TypeFloat || v.Float() != 0.5 {
		t.Errorf("expected float 0.5, got %s %v", v.Type(), v)
	}
	if v := rows[0]["name"]; v.String() != "alice" {
		t.Errorf("expected alice, got %v", v)
	}
	if v := rows[0]["active"]; v.Type() != TypeString || v.String() != "true" {
		t.Errorf("expected boolean true as the token true, got %s %v", v.Type(), v)
	}
	if _, present := rows[0]["note"]; present {
		t.Errorf("expected null to be missing, got %v", rows[0])
	}
	if v := rows[1]["active"]; v.String() != "false" {
		t.Errorf("expected the token false, got %v", v)
	}
}

func TestJSONLSource_LargeNumbers(t *testing.T) {
	// Numbers beyond int64 fall back to float instead of failing.
	input := `{"big": 9223372036854775807, "huge": 18446744073709551615}
`
	src := NewJSONLSource(strings.NewReader(input))
	rows := readAllRows(t, src)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if v := rows[0]["big"]; v.Type() != TypeInt {
		t.Errorf("expected max int64 to stay an int, got %s", v.Type())
	}
	if v := rows[0]["huge"]; v.Type() != TypeFloat {
		t.Errorf("expected an overflowing integer to become a float, got %s", v.Type())
	}
}

func TestJSONLSource_NestedRejected(t *testing.T) {
	src := NewJSONLSource(strings.NewReader(`{"tags": ["a", "b"]}` + "\n"))
	_, err := src.Next()
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for a nested array, got %v", err)
	}
	var ire *InvalidRecordError
	if !errors.As(err, &ire) || ire.Feature != "tags" || ire.Row != 0 {
		t.Errorf("expected the offending feature and row, got %v", err)
	}

	src = NewJSONLSource(strings.NewReader(`{"meta": {"k": "v"}}` + "\n"))
	if _, err := src.Next(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord for a nested object, got %v", err)
	}
}

func TestJSONLSource_MalformedLine(t *testing.T) {
	src := NewJSONLSource(strings.NewReader("{\"a\": 1}\n{broken\n"))
	if _, err := src.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := src.Next(); err == nil || err == io.EOF {
		t.Errorf("expected a decode error, got %v", err)
	}
}

func TestOpenRecords(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(csvPath, []byte("x\n1\n2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	jsonlPath := filepath.Join(dir, "data.jsonl")
	if err := os.WriteFile(jsonlPath, []byte("{\"x\": 1}\n{\"x\": 2}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	for _, path := range []string{csvPath, jsonlPath} {
		src, err := OpenRecords(path)
		if err != nil {
			t.Fatalf("OpenRecords(%s) failed: %v", path, err)
		}
		rows := readAllRows(t, src)
		if err := src.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("%s: expected 2 rows, got %d", path, len(rows))
		}
	}

	if _, err := OpenRecords(filepath.Join(dir, "data.parquet")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for an unsupported extension, got %v", err)
	}
	if _, err := OpenRecords(filepath.Join(dir, "absent.csv")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestOpenRecords_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	content := "age,country\n30,DE\n40,FR\n,DE\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	src, err := OpenRecords(path)
	if err != nil {
		t.Fatalf("OpenRecords failed: %v", err)
	}
	defer src.Close()

	stats, err := ComputeStatistics(src, DefaultComputeOptions())
	if err != nil {
		t.Fatalf("ComputeStatistics failed: %v", err)
	}
	if stats.TotalRecords() != 3 {
		t.Errorf("expected 3 records, got %d", stats.TotalRecords())
	}
	age, ok := stats.Feature("age")
	if !ok {
		t.Fatal("expected age statistics")
	}
	if age.Missing != 1 || age.Min != 30 || age.Max != 40 {
		t.Errorf("expected one missing age in [30, 40], got %+v", age)
	}
	country, ok := stats.Feature("country")
	if !ok {
		t.Fatal("expected country statistics")
	}
	if country.Kind != KindCategoricalString || country.ValueCounts["DE"] != 2 {
		t.Errorf("expected categorical country with DE twice, got %+v", country)
	}
}

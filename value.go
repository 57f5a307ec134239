package datavet

import (
	"io"
	"strconv"
)

// ValueType identifies the underlying representation of a Value.
type ValueType int

const (
	// TypeFloat is a 64-bit floating point value.
	TypeFloat ValueType = iota
	// TypeInt is a 64-bit integer value.
	TypeInt
	// TypeString is a UTF-8 string value.
	TypeString
)

// String returns the type name.
func (t ValueType) String() string {
	switch t {
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a typed scalar cell. Null cells are represented by absence from
// the Row map, never by a Value.
type Value struct {
	t ValueType
	f float64
	i int64
	s string
}

// Float wraps a float64 as a Value.
func Float(f float64) Value {
	return Value{t: TypeFloat, f: f}
}

// Int wraps an int64 as a Value.
func Int(i int64) Value {
	return Value{t: TypeInt, i: i}
}

// Str wraps a string as a Value.
func Str(s string) Value {
	return Value{t: TypeString, s: s}
}

// Type returns the value's representation.
func (v Value) Type() ValueType {
	return v.t
}

// IsNumeric reports whether the value is a float or an int.
func (v Value) IsNumeric() bool {
	return v.t == TypeFloat || v.t == TypeInt
}

// Float returns the value as a float64. Ints convert; strings return 0.
func (v Value) Float() float64 {
	switch v.t {
	case TypeFloat:
		return v.f
	case TypeInt:
		return float64(v.i)
	default:
		return 0
	}
}

// Int returns the integer payload and whether the value is an int.
func (v Value) Int() (int64, bool) {
	if v.t == TypeInt {
		return v.i, true
	}
	return 0, false
}

// String returns the canonical token for the value: the string itself,
// the decimal form of an int, or the shortest round-trip form of a float.
// Frequency maps and domains are keyed by this token.
func (v Value) String() string {
	switch v.t {
	case TypeString:
		return v.s
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	default:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
}

// FeatureKind classifies how a feature's values are summarized and checked.
type FeatureKind int

const (
	// KindNumeric features carry moment statistics and a histogram.
	KindNumeric FeatureKind = iota
	// KindCategoricalString features carry value frequencies over string tokens.
	KindCategoricalString
	// KindCategoricalInt features are integer-encoded categories; they carry
	// value frequencies keyed by the decimal token.
	KindCategoricalInt
)

// String returns the kind token used in schema documents.
func (k FeatureKind) String() string {
	switch k {
	case KindNumeric:
		return "NUMERIC"
	case KindCategoricalString:
		return "CATEGORICAL_STRING"
	case KindCategoricalInt:
		return "CATEGORICAL_INT"
	default:
		return "unknown"
	}
}

// IsCategorical reports whether the kind carries value frequencies.
func (k FeatureKind) IsCategorical() bool {
	return k == KindCategoricalString || k == KindCategoricalInt
}

// ParseFeatureKind parses a schema document kind token.
func ParseFeatureKind(s string) (FeatureKind, error) {
	switch s {
	case "NUMERIC":
		return KindNumeric, nil
	case "CATEGORICAL_STRING":
		return KindCategoricalString, nil
	case "CATEGORICAL_INT":
		return KindCategoricalInt, nil
	default:
		return KindNumeric, newInvalidArgumentError("parse feature kind", "unrecognized kind "+strconv.Quote(s))
	}
}

// Row is a single record: feature name to value. A feature that is null for
// the record is simply absent from the map.
type Row map[string]Value

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RecordSource yields records one at a time. Next returns io.EOF when the
// source is exhausted.
type RecordSource interface {
	Next() (Row, error)
	Close() error
}

// RowsSource is an in-memory RecordSource over a fixed slice of rows.
type RowsSource struct {
	rows []Row
	pos  int
}

// NewRowsSource creates a RecordSource over rows. The slice is not copied.
func NewRowsSource(rows []Row) *RowsSource {
	return &RowsSource{rows: rows}
}

// Next returns the next row or io.EOF.
func (s *RowsSource) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	return r, nil
}

// Close resets the source position.
func (s *RowsSource) Close() error {
	s.pos = len(s.rows)
	return nil
}

var _ RecordSource = (*RowsSource)(nil)

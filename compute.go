package datavet

import (
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// DefaultHistogramBuckets is the equal-width bucket count for numeric
	// feature histograms.
	DefaultHistogramBuckets = 10

	// DefaultMaxTrackedValues bounds the distinct-value tracker kept for
	// integer-valued numeric features.
	DefaultMaxTrackedValues = 1000
)

// ComputeOptions configures a statistics pass.
type ComputeOptions struct {
	// NumHistogramBuckets is the bucket count for numeric histograms
	// (default 10).
	NumHistogramBuckets int `yaml:"num_histogram_buckets"`

	// MaxTrackedValues bounds the distinct-value tracker for integer-valued
	// numeric features (default 1000). Categorical frequency maps are never
	// bounded.
	MaxTrackedValues int `yaml:"max_tracked_values"`

	// Hint fixes feature kinds ahead of the pass. Hinted features are seeded
	// into the result even when no record carries them, and a value that
	// conflicts with a hinted kind fails the pass. Only the kind of each
	// hinted feature is consulted.
	Hint *Schema `yaml:"-"`
}

// DefaultComputeOptions returns the default statistics pass configuration.
func DefaultComputeOptions() ComputeOptions {
	return ComputeOptions{
		NumHistogramBuckets: DefaultHistogramBuckets,
		MaxTrackedValues:    DefaultMaxTrackedValues,
	}
}

func (o *ComputeOptions) normalize() {
	if o.NumHistogramBuckets <= 0 {
		o.NumHistogramBuckets = DefaultHistogramBuckets
	}
	if o.MaxTrackedValues <= 0 {
		o.MaxTrackedValues = DefaultMaxTrackedValues
	}
}

// featureAccumulator collects one feature's running summary during a pass.
type featureAccumulator struct {
	name      string
	kind      FeatureKind
	kindFixed bool

	seen       int64
	min, max   float64
	sum, sumsq float64
	intValued  bool
	values     []float64

	counts   map[string]int64
	overflow bool
	trackCap int
}

func newFeatureAccumulator(name string, kind FeatureKind, fixed bool, trackCap int) *featureAccumulator {
	return &featureAccumulator{
		name:      name,
		kind:      kind,
		kindFixed: fixed,
		intValued: kind == KindNumeric,
		counts:    make(map[string]int64),
		trackCap:  trackCap,
	}
}

func (a *featureAccumulator) observe(row int, v Value) error {
	switch a.kind {
	case KindNumeric:
		if !v.IsNumeric() {
			if a.kindFixed {
				return newInvalidRecordError(row, a.name, v, "non-numeric value for NUMERIC feature")
			}
			return newInvalidRecordError(row, a.name, v, "mixed string and numeric values")
		}
		f := v.Float()
		if math.IsNaN(f) {
			// NaN carries no usable magnitude; it counts as missing.
			return nil
		}
		if a.seen == 0 {
			a.min, a.max = f, f
		} else {
			if f < a.min {
				a.min = f
			}
			if f > a.max {
				a.max = f
			}
		}
		a.seen++
		a.sum += f
		a.sumsq += f * f
		a.values = append(a.values, f)
		if v.Type() != TypeInt {
			a.intValued = false
			a.counts = nil
		}
		if a.intValued && !a.overflow {
			a.counts[v.String()]++
			if len(a.counts) > a.trackCap {
				a.overflow = true
				a.counts = nil
			}
		}
		return nil

	case KindCategoricalString:
		if v.Type() != TypeString {
			if a.kindFixed {
				return newInvalidRecordError(row, a.name, v, "non-string value for CATEGORICAL_STRING feature")
			}
			return newInvalidRecordError(row, a.name, v, "mixed string and numeric values")
		}
		a.seen++
		a.counts[v.String()]++
		return nil

	case KindCategoricalInt:
		if v.Type() != TypeInt {
			return newInvalidRecordError(row, a.name, v, "non-integer value for CATEGORICAL_INT feature")
		}
		a.seen++
		a.counts[v.String()]++
		return nil
	}
	return newInvalidRecordError(row, a.name, v, "unsupported feature kind")
}

func (a *featureAccumulator) finalize(total int64, buckets int) *FeatureStatistics {
	f := &FeatureStatistics{
		Name:             a.name,
		Kind:             a.kind,
		Count:            total,
		Missing:          total - a.seen,
		TrackingOverflow: a.overflow,
	}
	switch a.kind {
	case KindNumeric:
		f.Min = a.min
		f.Max = a.max
		f.Sum = a.sum
		f.SumSquares = a.sumsq
		f.IntValued = a.intValued
		f.ValueCounts = a.counts
		if a.seen > 0 {
			h := NewHistogram(a.min, a.max, buckets)
			for _, v := range a.values {
				h.Observe(v)
			}
			f.Histogram = h
		}
	default:
		f.ValueCounts = a.counts
	}
	return f
}

// ComputeStatistics runs a single pass over the source and returns an
// immutable snapshot. The feature set is the union of keys across all
// records; a feature's kind comes from the hint when one names it, otherwise
// from the raw types of its observed values. The pass fails with
// ErrInvalidRecord when a value conflicts irreconcilably with a feature's
// fixed or previously observed kind. NaN values count as missing.
func ComputeStatistics(src RecordSource, opts ComputeOptions) (*DatasetStatistics, error) {
	opts.normalize()

	accs := make(map[string]*featureAccumulator)
	if opts.Hint != nil {
		for _, spec := range opts.Hint.Features {
			accs[spec.Name] = newFeatureAccumulator(spec.Name, spec.Kind, true, opts.MaxTrackedValues)
		}
	}

	var total int64
	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", total, err)
		}
		rowIdx := int(total)
		total++
		for name, v := range row {
			acc, ok := accs[name]
			if !ok {
				acc = newFeatureAccumulator(name, kindForValue(v), false, opts.MaxTrackedValues)
				accs[name] = acc
			}
			if err := acc.observe(rowIdx, v); err != nil {
				return nil, err
			}
		}
	}

	features := make(map[string]*FeatureStatistics, len(accs))
	for name, acc := range accs {
		features[name] = acc.finalize(total, opts.NumHistogramBuckets)
	}
	return newDatasetStatistics(total, time.Now().UTC(), features), nil
}

// ComputeFromRows runs ComputeStatistics over an in-memory slice.
func ComputeFromRows(rows []Row, opts ComputeOptions) (*DatasetStatistics, error) {
	return ComputeStatistics(NewRowsSource(rows), opts)
}

// kindForValue picks the kind for a feature first observed with v. Numbers
// start numeric; reinterpreting an integer column as categorical is the
// schema's job, via inference or a compute hint.
func kindForValue(v Value) FeatureKind {
	if v.IsNumeric() {
		return KindNumeric
	}
	return KindCategoricalString
}

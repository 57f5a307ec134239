package datavet

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// FeatureStatistics summarizes one feature over a dataset. Count is the
// total number of records in the dataset, so Missing accounts for records
// where the feature was null or absent. Instances are treated as read-only
// once built; DatasetStatistics accessors hand out clones.
type FeatureStatistics struct {
	Name    string
	Kind    FeatureKind
	Count   int64
	Missing int64

	// Numeric summary. Min/Max/Sum/SumSquares are meaningful only when at
	// least one value was present. IntValued reports that every present
	// value was an integer.
	Min        float64
	Max        float64
	Sum        float64
	SumSquares float64
	IntValued  bool
	Histogram  *Histogram

	// Value frequencies keyed by canonical token. For categorical kinds this
	// is the statistic itself and is always complete. For numeric
	// integer-valued features it is a bounded distinct-value tracker that
	// lets a schema later reinterpret the feature as categorical;
	// TrackingOverflow is set and the map dropped when the bound is hit.
	ValueCounts      map[string]int64
	TrackingOverflow bool
}

// ValueFrequency is one entry of a feature's frequency rank list.
type ValueFrequency struct {
	Value string
	Count int64
}

// Present returns the number of records where the feature had a value.
func (f *FeatureStatistics) Present() int64 {
	return f.Count - f.Missing
}

// Presence returns the fraction of records where the feature had a value.
func (f *FeatureStatistics) Presence() float64 {
	if f.Count == 0 {
		return 0
	}
	return float64(f.Present()) / float64(f.Count)
}

// Mean returns the arithmetic mean of present values, or 0 when none.
func (f *FeatureStatistics) Mean() float64 {
	n := f.Present()
	if n == 0 {
		return 0
	}
	return f.Sum / float64(n)
}

// StdDev returns the population standard deviation of present values.
func (f *FeatureStatistics) StdDev() float64 {
	n := f.Present()
	if n == 0 {
		return 0
	}
	mean := f.Mean()
	variance := f.SumSquares/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Distinct returns the number of distinct tracked values.
func (f *FeatureStatistics) Distinct() int {
	return len(f.ValueCounts)
}

// TopValues returns the frequency rank list: descending count, ties broken
// by ascending token. At most limit entries are returned; limit <= 0 means
// all.
func (f *FeatureStatistics) TopValues(limit int) []ValueFrequency {
	ranked := make([]ValueFrequency, 0, len(f.ValueCounts))
	for v, c := range f.ValueCounts {
		ranked = append(ranked, ValueFrequency{Value: v, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Clone creates a deep copy.
func (f *FeatureStatistics) Clone() *FeatureStatistics {
	if f == nil {
		return nil
	}
	clone := *f
	clone.Histogram = f.Histogram.Clone()
	if f.ValueCounts != nil {
		clone.ValueCounts = make(map[string]int64, len(f.ValueCounts))
		for k, v := range f.ValueCounts {
			clone.ValueCounts[k] = v
		}
	}
	return &clone
}

// DatasetStatistics is an immutable snapshot of per-feature statistics over
// one dataset. Merging snapshots produces a new snapshot and never mutates
// the inputs.
type DatasetStatistics struct {
	total       int64
	generatedAt time.Time
	features    map[string]*FeatureStatistics
}

func newDatasetStatistics(total int64, generatedAt time.Time, features map[string]*FeatureStatistics) *DatasetStatistics {
	if features == nil {
		features = make(map[string]*FeatureStatistics)
	}
	return &DatasetStatistics{total: total, generatedAt: generatedAt, features: features}
}

// TotalRecords returns the number of records the snapshot covers.
func (d *DatasetStatistics) TotalRecords() int64 {
	return d.total
}

// GeneratedAt returns when the snapshot was produced.
func (d *DatasetStatistics) GeneratedAt() time.Time {
	return d.generatedAt
}

// NumFeatures returns the number of features in the snapshot.
func (d *DatasetStatistics) NumFeatures() int {
	return len(d.features)
}

// FeatureNames returns the feature names in ascending order.
func (d *DatasetStatistics) FeatureNames() []string {
	names := make([]string, 0, len(d.features))
	for name := range d.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Feature returns a copy of the named feature's statistics.
func (d *DatasetStatistics) Feature(name string) (*FeatureStatistics, bool) {
	f, ok := d.features[name]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Features returns copies of all feature statistics in name order.
func (d *DatasetStatistics) Features() []*FeatureStatistics {
	out := make([]*FeatureStatistics, 0, len(d.features))
	for _, name := range d.FeatureNames() {
		out = append(out, d.features[name].Clone())
	}
	return out
}

// MergeStatistics combines two snapshots as if their datasets were
// concatenated. The operation is commutative and associative, and the empty
// snapshot is its identity. A feature present in only one input is padded
// on the other side as all-missing rather than omitted. Merging fails when
// the same feature name carries different kinds.
func MergeStatistics(a, b *DatasetStatistics) (*DatasetStatistics, error) {
	generatedAt := a.generatedAt
	if b.generatedAt.After(generatedAt) {
		generatedAt = b.generatedAt
	}
	merged := make(map[string]*FeatureStatistics, len(a.features)+len(b.features))

	for name, fa := range a.features {
		fb, ok := b.features[name]
		if !ok {
			padded := fa.Clone()
			padded.Count += b.total
			padded.Missing += b.total
			merged[name] = padded
			continue
		}
		mf, err := mergeFeature(fa, fb)
		if err != nil {
			return nil, err
		}
		merged[name] = mf
	}
	for name, fb := range b.features {
		if _, ok := a.features[name]; ok {
			continue
		}
		padded := fb.Clone()
		padded.Count += a.total
		padded.Missing += a.total
		merged[name] = padded
	}

	return newDatasetStatistics(a.total+b.total, generatedAt, merged), nil
}

func mergeFeature(a, b *FeatureStatistics) (*FeatureStatistics, error) {
	if a.Kind != b.Kind {
		return nil, &KindMismatchError{Feature: a.Name, Want: a.Kind, Got: b.Kind}
	}
	out := &FeatureStatistics{
		Name:       a.Name,
		Kind:       a.Kind,
		Count:      a.Count + b.Count,
		Missing:    a.Missing + b.Missing,
		Sum:        a.Sum + b.Sum,
		SumSquares: a.SumSquares + b.SumSquares,
		IntValued:  a.IntValued && b.IntValued,
	}

	// An all-missing side contributes no extent. IntValued is vacuously true
	// for such features, so the conjunction above already handles it.
	switch {
	case a.Present() == 0 && b.Present() == 0:
	case a.Present() == 0:
		out.Min, out.Max = b.Min, b.Max
	case b.Present() == 0:
		out.Min, out.Max = a.Min, a.Max
	default:
		out.Min = math.Min(a.Min, b.Min)
		out.Max = math.Max(a.Max, b.Max)
	}

	out.Histogram = mergeHistograms(a, b, out.Min, out.Max)

	// Frequency maps add key-wise. Overflow on either side poisons the
	// tracker for numeric features, as does a float-valued side (nil map);
	// categorical maps are always present and complete.
	if a.TrackingOverflow || b.TrackingOverflow {
		out.TrackingOverflow = true
	} else if a.ValueCounts != nil && b.ValueCounts != nil {
		out.ValueCounts = make(map[string]int64, len(a.ValueCounts)+len(b.ValueCounts))
		for v, c := range a.ValueCounts {
			out.ValueCounts[v] += c
		}
		for v, c := range b.ValueCounts {
			out.ValueCounts[v] += c
		}
	}
	return out, nil
}

func mergeHistograms(a, b *FeatureStatistics, min, max float64) *Histogram {
	switch {
	case a.Histogram == nil && b.Histogram == nil:
		return nil
	case a.Histogram == nil:
		return b.Histogram.Clone()
	case b.Histogram == nil:
		return a.Histogram.Clone()
	}
	if a.Histogram.SameBounds(b.Histogram) {
		out := a.Histogram.Clone()
		// Bounds are identical, MergeSame cannot fail.
		_ = out.MergeSame(b.Histogram)
		return out
	}
	n := len(a.Histogram.Buckets)
	if len(b.Histogram.Buckets) > n {
		n = len(b.Histogram.Buckets)
	}
	out := a.Histogram.Rebucket(min, max, n)
	_ = out.MergeSame(b.Histogram.Rebucket(min, max, n))
	return out
}

type jsonFeatureStatistics struct {
	Name             string           `json:"name"`
	Kind             string           `json:"kind"`
	Count            int64            `json:"count"`
	Missing          int64            `json:"missing"`
	Presence         float64          `json:"presence"`
	Min              *float64         `json:"min,omitempty"`
	Max              *float64         `json:"max,omitempty"`
	Mean             *float64         `json:"mean,omitempty"`
	StdDev           *float64         `json:"std_dev,omitempty"`
	Sum              float64          `json:"sum,omitempty"`
	SumSquares       float64          `json:"sum_squares,omitempty"`
	IntValued        bool             `json:"int_valued,omitempty"`
	Histogram        *Histogram       `json:"histogram,omitempty"`
	ValueCounts      map[string]int64 `json:"value_counts,omitempty"`
	TrackingOverflow bool             `json:"tracking_overflow,omitempty"`
}

type jsonDatasetStatistics struct {
	TotalRecords int64                             `json:"total_records"`
	GeneratedAt  time.Time                         `json:"generated_at"`
	Features     map[string]*jsonFeatureStatistics `json:"features"`
}

// MarshalJSON renders the snapshot with derived presence, mean, and standard
// deviation included for readability.
func (d *DatasetStatistics) MarshalJSON() ([]byte, error) {
	out := jsonDatasetStatistics{
		TotalRecords: d.total,
		GeneratedAt:  d.generatedAt,
		Features:     make(map[string]*jsonFeatureStatistics, len(d.features)),
	}
	for name, f := range d.features {
		jf := &jsonFeatureStatistics{
			Name:             f.Name,
			Kind:             f.Kind.String(),
			Count:            f.Count,
			Missing:          f.Missing,
			Presence:         f.Presence(),
			Sum:              f.Sum,
			SumSquares:       f.SumSquares,
			IntValued:        f.IntValued,
			Histogram:        f.Histogram,
			ValueCounts:      f.ValueCounts,
			TrackingOverflow: f.TrackingOverflow,
		}
		if f.Present() > 0 && f.Kind == KindNumeric {
			min, max, mean, sd := f.Min, f.Max, f.Mean(), f.StdDev()
			jf.Min, jf.Max, jf.Mean, jf.StdDev = &min, &max, &mean, &sd
		}
		out.Features[name] = jf
	}
	return json.Marshal(out)
}

// UnmarshalJSON reconstructs a snapshot produced by MarshalJSON.
func (d *DatasetStatistics) UnmarshalJSON(data []byte) error {
	var in jsonDatasetStatistics
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	features := make(map[string]*FeatureStatistics, len(in.Features))
	for name, jf := range in.Features {
		kind, err := ParseFeatureKind(jf.Kind)
		if err != nil {
			return err
		}
		f := &FeatureStatistics{
			Name:             name,
			Kind:             kind,
			Count:            jf.Count,
			Missing:          jf.Missing,
			Sum:              jf.Sum,
			SumSquares:       jf.SumSquares,
			IntValued:        jf.IntValued,
			Histogram:        jf.Histogram,
			ValueCounts:      jf.ValueCounts,
			TrackingOverflow: jf.TrackingOverflow,
		}
		if jf.Min != nil {
			f.Min = *jf.Min
		}
		if jf.Max != nil {
			f.Max = *jf.Max
		}
		features[name] = f
	}
	d.total = in.TotalRecords
	d.generatedAt = in.GeneratedAt
	d.features = features
	return nil
}

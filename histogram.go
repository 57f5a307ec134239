package datavet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// Histogram summarizes the distribution of a numeric feature with a fixed
// number of equal-width buckets spanning the observed [min, max] extent.
// The final bucket is closed on both ends so the observed maximum lands
// inside it.
type Histogram struct {
	// Buckets in ascending order. Widths are equal except for the degenerate
	// single-bucket case where min == max.
	Buckets []Bucket
}

// Bucket is one histogram cell: values in [Low, High) except the last
// bucket, which includes High.
type Bucket struct {
	Low   float64
	High  float64
	Count int64
}

// NewHistogram creates an empty histogram with n equal-width buckets over
// [min, max]. When min == max the histogram collapses to a single bucket.
// n defaults to 10 when non-positive.
func NewHistogram(min, max float64, n int) *Histogram {
	if n <= 0 {
		n = 10
	}
	if min > max {
		min, max = max, min
	}
	if min == max {
		return &Histogram{Buckets: []Bucket{{Low: min, High: max}}}
	}
	width := (max - min) / float64(n)
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Low = min + width*float64(i)
		buckets[i].High = min + width*float64(i+1)
	}
	// Pin the final edge to the exact max so the last bucket closes on it.
	buckets[n-1].High = max
	return &Histogram{Buckets: buckets}
}

// Observe adds a value to the histogram. Values outside the configured
// extent clamp into the first or last bucket.
func (h *Histogram) Observe(value float64) {
	if len(h.Buckets) == 0 {
		return
	}
	h.Buckets[h.bucketIndex(value)].Count++
}

func (h *Histogram) bucketIndex(value float64) int {
	n := len(h.Buckets)
	low := h.Buckets[0].Low
	high := h.Buckets[n-1].High
	if value <= low || low == high {
		return 0
	}
	if value >= high {
		return n - 1
	}
	width := (high - low) / float64(n)
	idx := int((value - low) / width)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Total returns the number of observations across all buckets.
func (h *Histogram) Total() int64 {
	if h == nil {
		return 0
	}
	var total int64
	for _, b := range h.Buckets {
		total += b.Count
	}
	return total
}

// Bounds returns the histogram's extent.
func (h *Histogram) Bounds() (min, max float64) {
	if h == nil || len(h.Buckets) == 0 {
		return 0, 0
	}
	return h.Buckets[0].Low, h.Buckets[len(h.Buckets)-1].High
}

// Clone creates a deep copy of the histogram.
func (h *Histogram) Clone() *Histogram {
	if h == nil {
		return nil
	}
	clone := &Histogram{Buckets: make([]Bucket, len(h.Buckets))}
	copy(clone.Buckets, h.Buckets)
	return clone
}

// SameBounds reports whether both histograms have identical bucket
// boundary vectors.
func (h *Histogram) SameBounds(other *Histogram) bool {
	if h == nil || other == nil {
		return h == nil && other == nil
	}
	if len(h.Buckets) != len(other.Buckets) {
		return false
	}
	for i := range h.Buckets {
		if h.Buckets[i].Low != other.Buckets[i].Low || h.Buckets[i].High != other.Buckets[i].High {
			return false
		}
	}
	return true
}

// MergeSame adds other's counts bucket-wise. Both histograms must have
// identical boundaries; use Rebucket first when they differ.
func (h *Histogram) MergeSame(other *Histogram) error {
	if other == nil {
		return nil
	}
	if !h.SameBounds(other) {
		return fmt.Errorf("cannot merge histograms with different boundaries")
	}
	for i := range h.Buckets {
		h.Buckets[i].Count += other.Buckets[i].Count
	}
	return nil
}

// Rebucket redistributes the histogram's counts onto n equal-width buckets
// over [min, max]. Each source bucket's count is split across overlapping
// target buckets proportionally to overlap, with largest-remainder rounding
// so the total count is preserved exactly.
func (h *Histogram) Rebucket(min, max float64, n int) *Histogram {
	out := NewHistogram(min, max, n)
	if h == nil || h.Total() == 0 {
		return out
	}

	shares := make([]float64, len(out.Buckets))
	for _, src := range h.Buckets {
		if src.Count == 0 {
			continue
		}
		width := src.High - src.Low
		if width <= 0 {
			// Point mass: the whole count lands in one target bucket.
			shares[out.bucketIndex(src.Low)] += float64(src.Count)
			continue
		}
		for i, dst := range out.Buckets {
			lo := math.Max(src.Low, dst.Low)
			hi := math.Min(src.High, dst.High)
			if hi <= lo {
				continue
			}
			shares[i] += float64(src.Count) * (hi - lo) / width
		}
	}

	// Largest-remainder rounding keeps the redistributed total exact.
	total := h.Total()
	var assigned int64
	type remainder struct {
		idx  int
		frac float64
	}
	rems := make([]remainder, len(shares))
	for i, s := range shares {
		whole := int64(math.Floor(s))
		out.Buckets[i].Count = whole
		assigned += whole
		rems[i] = remainder{idx: i, frac: s - math.Floor(s)}
	}
	sort.SliceStable(rems, func(i, j int) bool {
		if rems[i].frac != rems[j].frac {
			return rems[i].frac > rems[j].frac
		}
		return rems[i].idx < rems[j].idx
	})
	for i := int64(0); i < total-assigned && int(i) < len(rems); i++ {
		out.Buckets[rems[i].idx].Count++
	}
	return out
}

// Normalized returns the fraction of observations per bucket. An empty
// histogram returns all zeros.
func (h *Histogram) Normalized() []float64 {
	if h == nil {
		return nil
	}
	fracs := make([]float64, len(h.Buckets))
	total := h.Total()
	if total == 0 {
		return fracs
	}
	for i, b := range h.Buckets {
		fracs[i] = float64(b.Count) / float64(total)
	}
	return fracs
}

// Encode serializes the histogram to bytes.
func (h *Histogram) Encode() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := h.encodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Histogram) encodeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(h.Buckets))); err != nil {
		return err
	}
	for _, b := range h.Buckets {
		if err := binary.Write(w, binary.LittleEndian, b.Low); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, b.High); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, b.Count); err != nil {
			return err
		}
	}
	return nil
}

// DecodeHistogram deserializes a histogram from bytes.
func DecodeHistogram(data []byte) (*Histogram, error) {
	return decodeHistogramFrom(bytes.NewReader(data))
}

func decodeHistogramFrom(r io.Reader) (*Histogram, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > maxDecodedBuckets {
		return nil, fmt.Errorf("histogram bucket count %d exceeds limit", count)
	}
	h := &Histogram{Buckets: make([]Bucket, count)}
	for i := uint32(0); i < count; i++ {
		if err := binary.Read(r, binary.LittleEndian, &h.Buckets[i].Low); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &h.Buckets[i].High); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &h.Buckets[i].Count); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// maxDecodedBuckets bounds allocation when decoding untrusted bytes.
const maxDecodedBuckets = 1 << 20

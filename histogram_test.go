package datavet

import (
	"testing"
)

func TestHistogram_Observe(t *testing.T) {
	h := NewHistogram(0, 10, 10)

	values := []float64{0.5, 3.2, 9.9, 5.0, 7.7}
	for _, v := range values {
		h.Observe(v)
	}

	if h.Total() != 5 {
		t.Errorf("expected total 5, got %d", h.Total())
	}
	if h.Buckets[0].Count != 1 {
		t.Errorf("expected 1 observation in first bucket, got %d", h.Buckets[0].Count)
	}
	if h.Buckets[9].Count != 1 {
		t.Errorf("expected 1 observation in last bucket, got %d", h.Buckets[9].Count)
	}
}

func TestHistogram_ObserveClamps(t *testing.T) {
	h := NewHistogram(0, 10, 5)

	h.Observe(-100)
	h.Observe(100)
	h.Observe(10) // exact max lands in the closed last bucket

	if h.Buckets[0].Count != 1 {
		t.Errorf("expected low outlier in first bucket, got %d", h.Buckets[0].Count)
	}
	if h.Buckets[4].Count != 2 {
		t.Errorf("expected high outlier and max in last bucket, got %d", h.Buckets[4].Count)
	}
}

func TestHistogram_SingleBucket(t *testing.T) {
	h := NewHistogram(5, 5, 10)

	if len(h.Buckets) != 1 {
		t.Fatalf("expected 1 bucket for zero-width extent, got %d", len(h.Buckets))
	}

	h.Observe(5)
	h.Observe(5)
	if h.Total() != 2 {
		t.Errorf("expected total 2, got %d", h.Total())
	}
}

func TestHistogram_Bounds(t *testing.T) {
	h := NewHistogram(2, 8, 3)

	min, max := h.Bounds()
	if min != 2 || max != 8 {
		t.Errorf("expected bounds [2, 8], got [%v, %v]", min, max)
	}

	// The final edge must be pinned to the exact max.
	if h.Buckets[2].High != 8 {
		t.Errorf("expected last bucket to close at 8, got %v", h.Buckets[2].High)
	}
}

func TestHistogram_Clone(t *testing.T) {
	h := NewHistogram(0, 10, 4)
	h.Observe(1)
	h.Observe(2)

	clone := h.Clone()
	if clone.Total() != h.Total() {
		t.Error("clone total mismatch")
	}

	h.Observe(3)
	if clone.Total() == h.Total() {
		t.Error("clone should be independent of original")
	}
}

func TestHistogram_NilClone(t *testing.T) {
	var h *Histogram
	if h.Clone() != nil {
		t.Error("clone of nil histogram should be nil")
	}
	if h.Total() != 0 {
		t.Error("total of nil histogram should be 0")
	}
}

func TestHistogram_MergeSame(t *testing.T) {
	h1 := NewHistogram(0, 10, 5)
	h1.Observe(1)
	h1.Observe(2)

	h2 := NewHistogram(0, 10, 5)
	h2.Observe(3)
	h2.Observe(9)

	if err := h1.MergeSame(h2); err != nil {
		t.Fatalf("MergeSame failed: %v", err)
	}
	if h1.Total() != 4 {
		t.Errorf("expected merged total 4, got %d", h1.Total())
	}
}

func TestHistogram_MergeSameDifferentBounds(t *testing.T) {
	h1 := NewHistogram(0, 10, 5)
	h2 := NewHistogram(0, 20, 5)

	if err := h1.MergeSame(h2); err == nil {
		t.Error("expected error when merging histograms with different boundaries")
	}
}

func TestHistogram_Rebucket(t *testing.T) {
	h := NewHistogram(0, 10, 10)
	for i := 0; i < 100; i++ {
		h.Observe(float64(i%10) + 0.5)
	}

	wider := h.Rebucket(0, 20, 10)

	// Redistribution preserves the total exactly.
	if wider.Total() != h.Total() {
		t.Errorf("rebucket changed total: %d != %d", wider.Total(), h.Total())
	}

	min, max := wider.Bounds()
	if min != 0 || max != 20 {
		t.Errorf("expected bounds [0, 20], got [%v, %v]", min, max)
	}

	// All mass was below 10, so the upper half must be empty.
	var upper int64
	for _, b := range wider.Buckets[5:] {
		upper += b.Count
	}
	if upper != 0 {
		t.Errorf("expected empty upper half, got %d observations", upper)
	}
}

func TestHistogram_RebucketPointMass(t *testing.T) {
	h := NewHistogram(5, 5, 1)
	h.Observe(5)
	h.Observe(5)
	h.Observe(5)

	spread := h.Rebucket(0, 10, 10)
	if spread.Total() != 3 {
		t.Errorf("expected total 3, got %d", spread.Total())
	}

	// A zero-width source bucket lands in exactly one target bucket.
	var nonEmpty int
	for _, b := range spread.Buckets {
		if b.Count > 0 {
			nonEmpty++
		}
	}
	if nonEmpty != 1 {
		t.Errorf("expected point mass in one bucket, got %d non-empty buckets", nonEmpty)
	}
}

func TestHistogram_Normalized(t *testing.T) {
	h := NewHistogram(0, 4, 4)
	h.Observe(0.5)
	h.Observe(1.5)
	h.Observe(1.7)
	h.Observe(3.5)

	fracs := h.Normalized()
	want := []float64{0.25, 0.5, 0, 0.25}
	for i, w := range want {
		if fracs[i] != w {
			t.Errorf("bucket %d: expected %v, got %v", i, w, fracs[i])
		}
	}
}

func TestHistogram_NormalizedEmpty(t *testing.T) {
	h := NewHistogram(0, 4, 4)

	for i, frac := range h.Normalized() {
		if frac != 0 {
			t.Errorf("bucket %d: expected 0, got %v", i, frac)
		}
	}
}

func TestHistogram_EncodeDecode(t *testing.T) {
	h := NewHistogram(-5, 5, 8)
	h.Observe(-4)
	h.Observe(0)
	h.Observe(4.9)

	encoded, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeHistogram(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !decoded.SameBounds(h) {
		t.Error("decoded histogram has different boundaries")
	}
	if decoded.Total() != h.Total() {
		t.Errorf("decoded total %d != original %d", decoded.Total(), h.Total())
	}
	for i := range h.Buckets {
		if decoded.Buckets[i].Count != h.Buckets[i].Count {
			t.Errorf("bucket %d: count %d != %d", i, decoded.Buckets[i].Count, h.Buckets[i].Count)
		}
	}
}

func TestDecodeHistogram_Truncated(t *testing.T) {
	h := NewHistogram(0, 10, 4)
	h.Observe(1)

	encoded, err := h.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := DecodeHistogram(encoded[:len(encoded)-3]); err == nil {
		t.Error("expected error for truncated input")
	}
}

package datavet

import "math"

// LInfinityDistance computes the Chebyshev distance between the value
// distributions of two feature statistics: the largest absolute difference
// between the normalized frequencies of any single value.
//
// Categorical features (and int-valued numeric features that kept their
// value tracker) compare token frequency maps over the union of tokens.
// Other numeric features compare histograms rebucketed onto shared
// boundaries. When neither side carries a comparable distribution the
// second return is false and no distance is defined.
//
// A side with no present values contributes zero mass everywhere, so the
// distance against it is the other side's largest single-value share.
func LInfinityDistance(a, b *FeatureStatistics) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if a.Present() == 0 && b.Present() == 0 {
		return 0, true
	}
	if countsComparable(a, b) {
		return tokenDistance(a, b), true
	}
	if a.Histogram != nil && b.Histogram != nil {
		return histogramDistance(a.Histogram, b.Histogram), true
	}
	// One side all-missing: fall back to whichever distribution exists.
	if a.Present() == 0 || b.Present() == 0 {
		if d, ok := soleDistance(a); ok {
			return d, true
		}
		if d, ok := soleDistance(b); ok {
			return d, true
		}
	}
	return 0, false
}

// countsComparable reports whether both sides carry usable token counts.
// An overflowed tracker is not usable: its map was dropped and a partial
// comparison would understate mass.
func countsComparable(a, b *FeatureStatistics) bool {
	return a.ValueCounts != nil && !a.TrackingOverflow &&
		b.ValueCounts != nil && !b.TrackingOverflow
}

func tokenDistance(a, b *FeatureStatistics) float64 {
	var totalA, totalB int64
	for _, c := range a.ValueCounts {
		totalA += c
	}
	for _, c := range b.ValueCounts {
		totalB += c
	}
	max := 0.0
	for token, ca := range a.ValueCounts {
		pa := share(ca, totalA)
		pb := share(b.ValueCounts[token], totalB)
		if d := math.Abs(pa - pb); d > max {
			max = d
		}
	}
	for token, cb := range b.ValueCounts {
		if _, seen := a.ValueCounts[token]; seen {
			continue
		}
		if d := share(cb, totalB); d > max {
			max = d
		}
	}
	return max
}

func histogramDistance(a, b *Histogram) float64 {
	if !a.SameBounds(b) {
		lo, hi := mergedExtent(a, b)
		n := len(a.Buckets)
		if len(b.Buckets) > n {
			n = len(b.Buckets)
		}
		a = a.Rebucket(lo, hi, n)
		b = b.Rebucket(lo, hi, n)
	}
	pa := a.Normalized()
	pb := b.Normalized()
	max := 0.0
	for i := range pa {
		if d := math.Abs(pa[i] - pb[i]); d > max {
			max = d
		}
	}
	return max
}

// mergedExtent returns the smallest interval covering both histograms.
func mergedExtent(a, b *Histogram) (lo, hi float64) {
	alo, ahi := a.Bounds()
	blo, bhi := b.Bounds()
	lo, hi = alo, ahi
	if blo < lo {
		lo = blo
	}
	if bhi > hi {
		hi = bhi
	}
	return lo, hi
}

// soleDistance measures one distribution against an all-missing side: the
// largest share of any single value.
func soleDistance(s *FeatureStatistics) (float64, bool) {
	if s.Present() == 0 {
		return 0, false
	}
	if s.ValueCounts != nil && !s.TrackingOverflow {
		var total, top int64
		for _, c := range s.ValueCounts {
			total += c
			if c > top {
				top = c
			}
		}
		return share(top, total), true
	}
	if s.Histogram != nil {
		max := 0.0
		for _, p := range s.Histogram.Normalized() {
			if p > max {
				max = p
			}
		}
		return max, true
	}
	return 0, false
}

func share(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total)
}

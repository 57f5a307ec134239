package datavet

import (
	"math"
	"sort"
)

// InferenceConfig tunes how SchemaInferrer classifies features.
type InferenceConfig struct {
	// CategoricalThreshold is the distinct-to-present ratio below which a
	// feature is treated as categorical (default 0.05).
	CategoricalThreshold float64 `json:"categorical_threshold" yaml:"categorical_threshold"`

	// SmallIntRange is the widest max-min extent an integer-valued feature
	// may have and still be reclassified categorical (default 100).
	SmallIntRange float64 `json:"small_int_range" yaml:"small_int_range"`
}

// DefaultInferenceConfig returns the default inference thresholds.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		CategoricalThreshold: 0.05,
		SmallIntRange:        100,
	}
}

func (c *InferenceConfig) normalize() {
	if c.CategoricalThreshold <= 0 {
		c.CategoricalThreshold = 0.05
	}
	if c.SmallIntRange <= 0 {
		c.SmallIntRange = 100
	}
}

// SchemaInferrer derives a candidate schema from a statistics snapshot. The
// result is deliberately conservative: presence floors never exceed what was
// observed, domains are copied verbatim from observed values, and no drift
// or skew thresholds are ever suggested. The candidate carries no version;
// a store assigns one when the caller adopts it.
type SchemaInferrer struct {
	cfg InferenceConfig
}

// NewSchemaInferrer creates an inferrer. Zero-value config fields fall back
// to defaults.
func NewSchemaInferrer(cfg InferenceConfig) *SchemaInferrer {
	cfg.normalize()
	return &SchemaInferrer{cfg: cfg}
}

// Infer builds a candidate schema from the snapshot. Inference is a pure
// read of the statistics: the same snapshot always yields the same schema,
// with features sorted by name and GeneratedAt taken from the snapshot
// itself.
func (si *SchemaInferrer) Infer(stats *DatasetStatistics) (*Schema, error) {
	if stats == nil {
		return nil, newInvalidArgumentError("infer schema", "nil statistics")
	}
	features := make([]FeatureSpec, 0, stats.NumFeatures())
	for _, f := range stats.Features() {
		features = append(features, si.inferFeature(f))
	}
	sortFeatures(features)
	return &Schema{
		Features:    features,
		GeneratedAt: stats.GeneratedAt(),
	}, nil
}

func (si *SchemaInferrer) inferFeature(f *FeatureStatistics) FeatureSpec {
	spec := FeatureSpec{
		Name:        f.Name,
		Kind:        f.Kind,
		MinPresence: floorFraction(f.Presence(), 4),
	}

	switch f.Kind {
	case KindNumeric:
		if si.reclassifyAsCategorical(f) {
			spec.Kind = KindCategoricalInt
			spec.Domain = &Domain{Values: sortedTokens(f.ValueCounts)}
			return spec
		}
		if f.Present() > 0 {
			min, max := f.Min, f.Max
			spec.Domain = &Domain{Min: &min, Max: &max}
		}
	default:
		// Categorical features receive a verbatim domain only at low
		// cardinality. A high-cardinality string feature keeps its kind but
		// stays unconstrained; enumerating its values would overfit the
		// generating dataset. An overflowed tracker means the cardinality is
		// unknown, which is treated as high.
		if f.Present() > 0 && !f.TrackingOverflow && si.lowCardinality(f) {
			spec.Domain = &Domain{Values: sortedTokens(f.ValueCounts)}
		}
	}
	return spec
}

// reclassifyAsCategorical reports whether an integer-valued numeric feature
// should be treated as integer-encoded categories: low distinct ratio, a
// small value range, and an intact distinct tracker.
func (si *SchemaInferrer) reclassifyAsCategorical(f *FeatureStatistics) bool {
	if !f.IntValued || f.TrackingOverflow || f.Present() == 0 {
		return false
	}
	return si.lowCardinality(f) && f.Max-f.Min <= si.cfg.SmallIntRange
}

func (si *SchemaInferrer) lowCardinality(f *FeatureStatistics) bool {
	return float64(f.Distinct())/float64(f.Present()) < si.cfg.CategoricalThreshold
}

func sortedTokens(counts map[string]int64) []string {
	tokens := make([]string, 0, len(counts))
	for t := range counts {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// floorFraction floors x to the given number of decimal places. Presence
// floors round down so an inferred schema never demands more presence than
// the generating dataset exhibited.
func floorFraction(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Floor(x*scale) / scale
}

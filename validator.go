package datavet

import (
	"fmt"
	"sort"
)

// DefaultMaxSampleValues bounds how many offending tokens a single
// anomaly carries.
const DefaultMaxSampleValues = 5

// ValidatorConfig tunes validation behavior. Thresholds themselves always
// come from the schema, never from the validator.
type ValidatorConfig struct {
	// MaxSampleValues caps the offending tokens listed per anomaly,
	// ordered by descending frequency.
	MaxSampleValues int `json:"max_sample_values" yaml:"max_sample_values"`
}

// DefaultValidatorConfig returns the stock validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{MaxSampleValues: DefaultMaxSampleValues}
}

func (c *ValidatorConfig) normalize() {
	if c.MaxSampleValues <= 0 {
		c.MaxSampleValues = DefaultMaxSampleValues
	}
}

// ValidateOptions selects the context for one validation run.
type ValidateOptions struct {
	// Environment names the serving context. Features excluded from it are
	// skipped entirely. Empty means no environment filtering.
	Environment string

	// Baseline is an earlier snapshot of the same data source. Supplying
	// it arms the per-feature drift thresholds.
	Baseline *DatasetStatistics

	// Serving is the serving-side snapshot to compare against when the
	// validated statistics come from training data. Supplying it arms the
	// per-feature skew thresholds.
	Serving *DatasetStatistics

	// StatsName links the run to a registry statistics artifact in the
	// run history. The validator itself ignores it.
	StatsName string
}

// Validator checks statistics snapshots against a schema and produces
// anomaly reports. A single Validator is safe for concurrent use.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator returns a validator with the given configuration.
func NewValidator(cfg ValidatorConfig) *Validator {
	cfg.normalize()
	return &Validator{cfg: cfg}
}

// Validate compares a statistics snapshot against a schema. Checks run in
// a fixed order per feature: missing feature, presence, domain membership
// or range, drift, skew. Unexpected features come last, sorted by name.
// Neither input is mutated.
//
// An undeclared opts.Environment fails with UnknownEnvironmentError.
func (v *Validator) Validate(stats *DatasetStatistics, schema *Schema, opts ValidateOptions) (*Report, error) {
	if stats == nil {
		return nil, newInvalidArgumentError("Validate", "nil statistics")
	}
	if schema == nil {
		return nil, newInvalidArgumentError("Validate", "nil schema")
	}
	if opts.Environment != "" && !schema.HasEnvironment(opts.Environment) {
		return nil, &UnknownEnvironmentError{Environment: opts.Environment}
	}

	byName := make(map[string]*FeatureStatistics, stats.NumFeatures())
	for _, fs := range stats.Features() {
		byName[fs.Name] = fs
	}

	report := &Report{Environment: opts.Environment}
	for i := range schema.Features {
		f := &schema.Features[i]
		if f.ExcludedFrom(opts.Environment) {
			continue
		}
		fs, ok := byName[f.Name]
		if !ok {
			if f.MinPresence > 0 {
				report.Anomalies = append(report.Anomalies, newAnomaly(
					f.Name, AnomalyMissingFeature, SeverityError,
					"declared in the schema but absent from the statistics"))
			}
			continue
		}
		v.checkPresence(report, f, fs)
		v.checkDomain(report, f, fs)
		v.checkDrift(report, f, fs, opts.Baseline, AnomalyDrift, f.DriftThreshold)
		v.checkDrift(report, f, fs, opts.Serving, AnomalySkew, f.SkewThreshold)
	}

	declared := make(map[string]struct{}, len(schema.Features))
	for i := range schema.Features {
		declared[schema.Features[i].Name] = struct{}{}
	}
	for _, name := range stats.FeatureNames() {
		if _, ok := declared[name]; ok {
			continue
		}
		report.Anomalies = append(report.Anomalies, newAnomaly(
			name, AnomalyUnexpectedFeature, SeverityWarning,
			"observed in the statistics but not declared in the schema"))
	}
	return report, nil
}

func (v *Validator) checkPresence(report *Report, f *FeatureSpec, fs *FeatureStatistics) {
	if f.MinPresence <= 0 {
		return
	}
	presence := fs.Presence()
	if presence >= f.MinPresence {
		return
	}
	report.Anomalies = append(report.Anomalies, newAnomaly(
		f.Name, AnomalyPresence, SeverityError,
		fmt.Sprintf("present in %.4f of records, schema requires at least %.4f", presence, f.MinPresence)))
}

func (v *Validator) checkDomain(report *Report, f *FeatureSpec, fs *FeatureStatistics) {
	if f.Domain == nil {
		return
	}
	if f.Kind.IsCategorical() {
		v.checkCategoricalDomain(report, f, fs)
		return
	}
	v.checkNumericDomain(report, f, fs)
}

// checkCategoricalDomain flags tokens outside the domain. When the schema
// sets a minimum domain mass the membership check relaxes into a mass
// check: tokens may stray as long as the in-domain fraction stays above
// the floor.
func (v *Validator) checkCategoricalDomain(report *Report, f *FeatureSpec, fs *FeatureStatistics) {
	if fs.ValueCounts == nil || fs.TrackingOverflow {
		// Statistics carry no usable token counts for this feature, so
		// membership cannot be judged. Recompute with a schema hint to
		// restore tracking.
		return
	}
	allowed := make(map[string]struct{}, len(f.Domain.Values))
	for _, val := range f.Domain.Values {
		allowed[val] = struct{}{}
	}
	var total, offending int64
	offenders := make(map[string]int64)
	for token, count := range fs.ValueCounts {
		total += count
		if _, ok := allowed[token]; !ok {
			offending += count
			offenders[token] = count
		}
	}
	if total == 0 || offending == 0 {
		return
	}
	samples := topTokens(offenders, v.cfg.MaxSampleValues)
	if f.Domain.MinDomainMass != nil {
		inMass := 1 - float64(offending)/float64(total)
		if inMass >= *f.Domain.MinDomainMass {
			return
		}
		a := newAnomaly(f.Name, AnomalyDomainMass, SeverityError,
			fmt.Sprintf("in-domain mass %.4f below required %.4f", inMass, *f.Domain.MinDomainMass))
		a.SampleValues = samples
		a.Extent = *f.Domain.MinDomainMass - inMass
		report.Anomalies = append(report.Anomalies, a)
		return
	}
	a := newAnomaly(f.Name, AnomalyUnexpectedValues, SeverityError,
		fmt.Sprintf("%d of %d values fall outside the domain", offending, total))
	a.SampleValues = samples
	report.Anomalies = append(report.Anomalies, a)
}

func (v *Validator) checkNumericDomain(report *Report, f *FeatureSpec, fs *FeatureStatistics) {
	if fs.Kind != KindNumeric || fs.Present() == 0 {
		return
	}
	var below, above float64
	if f.Domain.Min != nil && fs.Min < *f.Domain.Min {
		below = *f.Domain.Min - fs.Min
	}
	if f.Domain.Max != nil && fs.Max > *f.Domain.Max {
		above = fs.Max - *f.Domain.Max
	}
	if below == 0 && above == 0 {
		return
	}
	var desc string
	extent := above
	switch {
	case below > 0 && above > 0:
		desc = fmt.Sprintf("observed range [%g, %g] exceeds domain [%g, %g] on both ends", fs.Min, fs.Max, *f.Domain.Min, *f.Domain.Max)
		if below > above {
			extent = below
		}
	case below > 0:
		desc = fmt.Sprintf("observed min %g below domain min %g", fs.Min, *f.Domain.Min)
		extent = below
	default:
		desc = fmt.Sprintf("observed max %g above domain max %g", fs.Max, *f.Domain.Max)
	}
	a := newAnomaly(f.Name, AnomalyOutOfRange, SeverityError, desc)
	a.Extent = extent
	report.Anomalies = append(report.Anomalies, a)
}

// checkDrift covers both drift (against a baseline snapshot) and skew
// (against a serving snapshot); only the kind and threshold differ.
func (v *Validator) checkDrift(report *Report, f *FeatureSpec, fs *FeatureStatistics, other *DatasetStatistics, kind AnomalyKind, threshold *float64) {
	if threshold == nil || other == nil {
		return
	}
	ref, ok := other.Feature(f.Name)
	if !ok {
		return
	}
	dist, ok := LInfinityDistance(fs, ref)
	if !ok || dist <= *threshold {
		return
	}
	against := "baseline"
	if kind == AnomalySkew {
		against = "serving"
	}
	a := newAnomaly(f.Name, kind, SeverityWarning,
		fmt.Sprintf("L-infinity distance %.4f from %s statistics exceeds threshold %.4f", dist, against, *threshold))
	a.Extent = dist
	report.Anomalies = append(report.Anomalies, a)
}

// topTokens returns up to limit tokens ordered by descending count, ties
// by token.
func topTokens(counts map[string]int64, limit int) []string {
	type tc struct {
		token string
		count int64
	}
	ordered := make([]tc, 0, len(counts))
	for token, count := range counts {
		ordered = append(ordered, tc{token, count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].token < ordered[j].token
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	out := make([]string, len(ordered))
	for i, t := range ordered {
		out[i] = t.token
	}
	return out
}

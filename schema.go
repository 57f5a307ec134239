package datavet

import (
	"fmt"
	"sort"
	"time"
)

// Domain constrains the values a feature may take. Interpretation follows
// the feature's kind: categorical kinds use Values, numeric uses Min/Max.
// A nil domain leaves the feature unconstrained.
type Domain struct {
	// Values enumerates the accepted tokens of a categorical feature.
	Values []string

	// Min and Max bound a numeric feature inclusively. Either side may be
	// open.
	Min *float64
	Max *float64

	// MinDomainMass relaxes the categorical domain check: it is the minimum
	// fraction of present values that must fall inside Values. Nil means 1.0,
	// so any out-of-domain token is reportable.
	MinDomainMass *float64
}

// Contains reports whether the token is in the categorical value set.
func (d *Domain) Contains(token string) bool {
	for _, v := range d.Values {
		if v == token {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the domain.
func (d *Domain) Clone() *Domain {
	if d == nil {
		return nil
	}
	clone := &Domain{}
	if d.Values != nil {
		clone.Values = append([]string(nil), d.Values...)
	}
	if d.Min != nil {
		min := *d.Min
		clone.Min = &min
	}
	if d.Max != nil {
		max := *d.Max
		clone.Max = &max
	}
	if d.MinDomainMass != nil {
		m := *d.MinDomainMass
		clone.MinDomainMass = &m
	}
	return clone
}

// FeatureSpec declares the expectations for one feature.
type FeatureSpec struct {
	Name string
	Kind FeatureKind

	// MinPresence is the minimum fraction of records, in [0, 1], that must
	// carry a value for the feature.
	MinPresence float64

	// Domain constrains values; nil is unconstrained.
	Domain *Domain

	// DriftThreshold bounds the L-infinity distance against a baseline
	// snapshot; nil disables the check. Inference never sets one.
	DriftThreshold *float64

	// SkewThreshold bounds the L-infinity distance between training and
	// serving snapshots; nil disables the check.
	SkewThreshold *float64

	// ExcludedEnvs lists environments in which the feature is expected to be
	// absent; validation skips the feature entirely there.
	ExcludedEnvs []string
}

// ExcludedFrom reports whether the feature is excluded from env.
func (f *FeatureSpec) ExcludedFrom(env string) bool {
	if env == "" {
		return false
	}
	for _, e := range f.ExcludedEnvs {
		if e == env {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the feature spec.
func (f *FeatureSpec) Clone() FeatureSpec {
	clone := *f
	clone.Domain = f.Domain.Clone()
	if f.DriftThreshold != nil {
		d := *f.DriftThreshold
		clone.DriftThreshold = &d
	}
	if f.SkewThreshold != nil {
		s := *f.SkewThreshold
		clone.SkewThreshold = &s
	}
	if f.ExcludedEnvs != nil {
		clone.ExcludedEnvs = append([]string(nil), f.ExcludedEnvs...)
	}
	return clone
}

// Schema is the declared contract for a dataset: one FeatureSpec per
// feature in declaration order, plus the set of environments validation may
// be scoped to. Version is assigned when a store adopts the schema.
type Schema struct {
	Features     []FeatureSpec
	Environments []string
	Version      int
	GeneratedAt  time.Time
}

// Feature returns a pointer to the named feature spec, or nil.
func (s *Schema) Feature(name string) *FeatureSpec {
	for i := range s.Features {
		if s.Features[i].Name == name {
			return &s.Features[i]
		}
	}
	return nil
}

// FeatureNames returns the feature names in declaration order.
func (s *Schema) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i := range s.Features {
		names[i] = s.Features[i].Name
	}
	return names
}

// HasEnvironment reports whether env was declared.
func (s *Schema) HasEnvironment(env string) bool {
	for _, e := range s.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	clone := &Schema{
		Version:     s.Version,
		GeneratedAt: s.GeneratedAt,
	}
	if s.Features != nil {
		clone.Features = make([]FeatureSpec, len(s.Features))
		for i := range s.Features {
			clone.Features[i] = s.Features[i].Clone()
		}
	}
	if s.Environments != nil {
		clone.Environments = append([]string(nil), s.Environments...)
	}
	return clone
}

// validate checks the schema's structural invariants: unique non-empty
// feature names, fractions inside [0, 1], domain shape matching the kind,
// ordered numeric bounds, and exclusions referencing declared environments.
func (s *Schema) validate() error {
	seen := make(map[string]struct{}, len(s.Features))
	envs := make(map[string]struct{}, len(s.Environments))
	for _, e := range s.Environments {
		if e == "" {
			return fmt.Errorf("empty environment name")
		}
		if _, dup := envs[e]; dup {
			return fmt.Errorf("duplicate environment %q", e)
		}
		envs[e] = struct{}{}
	}
	for i := range s.Features {
		f := &s.Features[i]
		if f.Name == "" {
			return fmt.Errorf("feature %d: empty name", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.MinPresence < 0 || f.MinPresence > 1 {
			return fmt.Errorf("feature %q: min_presence %v outside [0, 1]", f.Name, f.MinPresence)
		}
		if f.DriftThreshold != nil && (*f.DriftThreshold < 0 || *f.DriftThreshold > 1) {
			return fmt.Errorf("feature %q: drift threshold %v outside [0, 1]", f.Name, *f.DriftThreshold)
		}
		if f.SkewThreshold != nil && (*f.SkewThreshold < 0 || *f.SkewThreshold > 1) {
			return fmt.Errorf("feature %q: skew threshold %v outside [0, 1]", f.Name, *f.SkewThreshold)
		}
		if err := validateDomain(f); err != nil {
			return err
		}
		for _, e := range f.ExcludedEnvs {
			if _, ok := envs[e]; !ok {
				return fmt.Errorf("feature %q: exclusion references undeclared environment %q", f.Name, e)
			}
		}
	}
	return nil
}

func validateDomain(f *FeatureSpec) error {
	d := f.Domain
	if d == nil {
		return nil
	}
	if f.Kind.IsCategorical() {
		if d.Min != nil || d.Max != nil {
			return fmt.Errorf("feature %q: numeric bounds on categorical feature", f.Name)
		}
		tokens := make(map[string]struct{}, len(d.Values))
		for _, v := range d.Values {
			if _, dup := tokens[v]; dup {
				return fmt.Errorf("feature %q: duplicate domain value %q", f.Name, v)
			}
			tokens[v] = struct{}{}
		}
	} else {
		if len(d.Values) > 0 {
			return fmt.Errorf("feature %q: value list on numeric feature", f.Name)
		}
		if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
			return fmt.Errorf("feature %q: domain min %v above max %v", f.Name, *d.Min, *d.Max)
		}
	}
	if d.MinDomainMass != nil && (*d.MinDomainMass < 0 || *d.MinDomainMass > 1) {
		return fmt.Errorf("feature %q: min domain mass %v outside [0, 1]", f.Name, *d.MinDomainMass)
	}
	return nil
}

// sortFeatures orders features by name. Inference emits sorted schemas so
// reports and documents are deterministic.
func sortFeatures(features []FeatureSpec) {
	sort.Slice(features, func(i, j int) bool {
		return features[i].Name < features[j].Name
	})
}

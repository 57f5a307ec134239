package datavet

import (
	"sync"
)

// SchemaStore owns the adopted schema and exposes the refinement operations
// callers use to tighten or relax it. Every operation validates before
// mutating, so a failed call never leaves the schema partially updated.
// Inference output is only a candidate: it takes effect when Adopt is
// called, which assigns the next version.
type SchemaStore struct {
	mu     sync.RWMutex
	schema *Schema
}

// NewSchemaStore creates a store. A nil initial schema starts empty at
// version 0; a non-nil one is validated and adopted as version 1 unless it
// already carries a version.
func NewSchemaStore(initial *Schema) (*SchemaStore, error) {
	if initial == nil {
		return &SchemaStore{schema: &Schema{}}, nil
	}
	if err := initial.validate(); err != nil {
		return nil, newMalformedSchemaError(err.Error(), nil)
	}
	adopted := initial.Clone()
	if adopted.Version <= 0 {
		adopted.Version = 1
	}
	return &SchemaStore{schema: adopted}, nil
}

// Schema returns a deep copy of the adopted schema.
func (s *SchemaStore) Schema() *Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema.Clone()
}

// Version returns the adopted schema's version.
func (s *SchemaStore) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema.Version
}

// Adopt validates the candidate and replaces the adopted schema wholesale,
// assigning the next version. It returns the new version.
func (s *SchemaStore) Adopt(candidate *Schema) (int, error) {
	if candidate == nil {
		return 0, newInvalidArgumentError("adopt schema", "nil candidate")
	}
	if err := candidate.validate(); err != nil {
		return 0, newMalformedSchemaError(err.Error(), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	adopted := candidate.Clone()
	adopted.Version = s.schema.Version + 1
	s.schema = adopted
	return adopted.Version, nil
}

// AddFeature declares a new feature on the schema.
func (s *SchemaStore) AddFeature(spec FeatureSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema.Feature(spec.Name) != nil {
		return newInvalidArgumentError("add feature", "feature "+spec.Name+" already declared")
	}
	trial := s.schema.Clone()
	trial.Features = append(trial.Features, spec.Clone())
	if err := trial.validate(); err != nil {
		return newMalformedSchemaError(err.Error(), nil)
	}
	s.schema = trial
	return nil
}

// RemoveFeature drops a feature from the schema.
func (s *SchemaStore) RemoveFeature(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.schema.Features {
		if s.schema.Features[i].Name == name {
			s.schema.Features = append(s.schema.Features[:i], s.schema.Features[i+1:]...)
			return nil
		}
	}
	return &UnknownFeatureError{Feature: name}
}

// SetKind changes a feature's kind. A domain whose shape no longer matches
// the new kind is cleared rather than left inconsistent.
func (s *SchemaStore) SetKind(feature string, kind FeatureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if f.Kind == kind {
		return nil
	}
	f.Kind = kind
	if d := f.Domain; d != nil {
		if kind.IsCategorical() && (d.Min != nil || d.Max != nil) {
			f.Domain = nil
		}
		if !kind.IsCategorical() && len(d.Values) > 0 {
			f.Domain = nil
		}
	}
	return nil
}

// SetNumericDomain bounds a numeric feature to [min, max] inclusive.
func (s *SchemaStore) SetNumericDomain(feature string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if f.Kind.IsCategorical() {
		return &KindMismatchError{Feature: feature, Want: KindNumeric, Got: f.Kind}
	}
	if min > max {
		return newInvalidArgumentError("set numeric domain", "min above max")
	}
	f.Domain = &Domain{Min: &min, Max: &max}
	return nil
}

// SetCategoricalDomain replaces a categorical feature's accepted value set.
func (s *SchemaStore) SetCategoricalDomain(feature string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if !f.Kind.IsCategorical() {
		return &KindMismatchError{Feature: feature, Want: KindCategoricalString, Got: f.Kind}
	}
	seen := make(map[string]struct{}, len(values))
	deduped := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		deduped = append(deduped, v)
	}
	var mass *float64
	if f.Domain != nil {
		mass = f.Domain.MinDomainMass
	}
	f.Domain = &Domain{Values: deduped, MinDomainMass: mass}
	return nil
}

// AddDomainValue appends one accepted value to a categorical feature's
// domain. Adding a value that is already accepted is a no-op.
func (s *SchemaStore) AddDomainValue(feature, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if !f.Kind.IsCategorical() {
		return &KindMismatchError{Feature: feature, Want: KindCategoricalString, Got: f.Kind}
	}
	if f.Domain == nil {
		f.Domain = &Domain{}
	}
	if f.Domain.Contains(value) {
		return nil
	}
	f.Domain.Values = append(f.Domain.Values, value)
	return nil
}

// SetMinDomainMass relaxes the categorical domain check to require only the
// given fraction of present values inside the domain.
func (s *SchemaStore) SetMinDomainMass(feature string, fraction float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if !f.Kind.IsCategorical() {
		return &KindMismatchError{Feature: feature, Want: KindCategoricalString, Got: f.Kind}
	}
	if fraction < 0 || fraction > 1 {
		return newInvalidArgumentError("set min domain mass", "fraction outside [0, 1]")
	}
	if f.Domain == nil {
		f.Domain = &Domain{}
	}
	f.Domain.MinDomainMass = &fraction
	return nil
}

// SetMinPresence sets the minimum fraction of records that must carry the
// feature.
func (s *SchemaStore) SetMinPresence(feature string, fraction float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if fraction < 0 || fraction > 1 {
		return newInvalidArgumentError("set min presence", "fraction outside [0, 1]")
	}
	f.MinPresence = fraction
	return nil
}

// SetDriftThreshold bounds the feature's allowed L-infinity drift distance.
func (s *SchemaStore) SetDriftThreshold(feature string, threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if threshold < 0 || threshold > 1 {
		return newInvalidArgumentError("set drift threshold", "threshold outside [0, 1]")
	}
	f.DriftThreshold = &threshold
	return nil
}

// SetSkewThreshold bounds the feature's allowed training/serving skew.
func (s *SchemaStore) SetSkewThreshold(feature string, threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if threshold < 0 || threshold > 1 {
		return newInvalidArgumentError("set skew threshold", "threshold outside [0, 1]")
	}
	f.SkewThreshold = &threshold
	return nil
}

// DeclareEnvironment registers an environment name. Declaring an existing
// environment is a no-op.
func (s *SchemaStore) DeclareEnvironment(env string) error {
	if env == "" {
		return newInvalidArgumentError("declare environment", "empty environment name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema.HasEnvironment(env) {
		return nil
	}
	s.schema.Environments = append(s.schema.Environments, env)
	return nil
}

// ExcludeFeatureFromEnvironment marks the feature as expected to be absent
// in env; validation skips it entirely there. The environment must have
// been declared first.
func (s *SchemaStore) ExcludeFeatureFromEnvironment(feature, env string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.schema.Feature(feature)
	if f == nil {
		return &UnknownFeatureError{Feature: feature}
	}
	if !s.schema.HasEnvironment(env) {
		return &UnknownEnvironmentError{Environment: env}
	}
	if f.ExcludedFrom(env) {
		return nil
	}
	f.ExcludedEnvs = append(f.ExcludedEnvs, env)
	return nil
}

// restore replaces the adopted schema wholesale, keeping the version the
// replacement carries. Used when loading a registry-stamped schema.
func (s *SchemaStore) restore(sc *Schema) error {
	if sc == nil {
		return newInvalidArgumentError("restore schema", "nil schema")
	}
	if err := sc.validate(); err != nil {
		return newMalformedSchemaError(err.Error(), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = sc.Clone()
	return nil
}

// Serialize renders the adopted schema as its canonical YAML document.
func (s *SchemaStore) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MarshalSchema(s.schema)
}

// Deserialize replaces the adopted schema with the one decoded from data.
// A malformed document fails with ErrMalformedSchema and leaves the store
// untouched.
func (s *SchemaStore) Deserialize(data []byte) error {
	schema, err := UnmarshalSchema(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if schema.Version <= 0 {
		schema.Version = s.schema.Version
	}
	s.schema = schema
	return nil
}

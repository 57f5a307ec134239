package datavet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnomalyKind identifies which validation check produced a finding. The
// declaration order is the order checks run within a feature.
type AnomalyKind int

const (
	// AnomalyMissingFeature: a required schema feature is absent from the
	// statistics entirely.
	AnomalyMissingFeature AnomalyKind = iota
	// AnomalyUnexpectedFeature: the statistics carry a feature the schema
	// does not declare.
	AnomalyUnexpectedFeature
	// AnomalyPresence: the feature's presence fraction is below the schema
	// floor.
	AnomalyPresence
	// AnomalyUnexpectedValues: a categorical feature carries tokens outside
	// its domain.
	AnomalyUnexpectedValues
	// AnomalyOutOfRange: a numeric feature's observed extent leaves the
	// domain bounds.
	AnomalyOutOfRange
	// AnomalyDomainMass: the in-domain fraction of a categorical feature
	// fell below the schema's minimum domain mass.
	AnomalyDomainMass
	// AnomalyDrift: the distribution moved too far from the baseline
	// snapshot.
	AnomalyDrift
	// AnomalySkew: the training and serving distributions diverged beyond
	// the skew threshold.
	AnomalySkew
)

// String returns the anomaly kind token.
func (k AnomalyKind) String() string {
	switch k {
	case AnomalyMissingFeature:
		return "MISSING_FEATURE"
	case AnomalyUnexpectedFeature:
		return "UNEXPECTED_FEATURE"
	case AnomalyPresence:
		return "PRESENCE_BELOW_THRESHOLD"
	case AnomalyUnexpectedValues:
		return "UNEXPECTED_STRING_VALUES"
	case AnomalyOutOfRange:
		return "OUT_OF_RANGE"
	case AnomalyDomainMass:
		return "DOMAIN_MASS_BELOW_THRESHOLD"
	case AnomalyDrift:
		return "DISTRIBUTION_DRIFT"
	case AnomalySkew:
		return "DISTRIBUTION_SKEW"
	default:
		return "unknown"
	}
}

// Severity grades a finding. Warnings signal schema evolution or soft
// thresholds; errors block.
type Severity int

const (
	// SeverityWarning findings do not make a report unclean.
	SeverityWarning Severity = iota
	// SeverityError findings block the batch under the default policy.
	SeverityError
)

// String returns the severity token.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "unknown"
	}
}

// ParseAnomalyKind parses an anomaly kind token.
func ParseAnomalyKind(s string) (AnomalyKind, error) {
	for k := AnomalyMissingFeature; k <= AnomalySkew; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown anomaly kind %q", s)
}

// ParseSeverity parses a severity token.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "WARNING":
		return SeverityWarning, nil
	case "ERROR":
		return SeverityError, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Anomaly is one validation finding for one feature.
type Anomaly struct {
	Feature     string
	Kind        AnomalyKind
	Severity    Severity
	Description string

	// SampleValues holds up to a handful of offending tokens ordered by
	// descending frequency.
	SampleValues []string

	// Extent quantifies the finding where one number captures it: the
	// distance past a domain bound, or a distribution distance.
	Extent float64
}

func newAnomaly(feature string, kind AnomalyKind, severity Severity, description string) Anomaly {
	return Anomaly{
		Feature:     feature,
		Kind:        kind,
		Severity:    severity,
		Description: description,
	}
}

type jsonAnomaly struct {
	Feature      string   `json:"feature"`
	Kind         string   `json:"kind"`
	Severity     string   `json:"severity"`
	Description  string   `json:"description"`
	SampleValues []string `json:"sample_values,omitempty"`
	Extent       float64  `json:"extent,omitempty"`
}

// MarshalJSON encodes the kind and severity as their string tokens.
func (a Anomaly) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonAnomaly{
		Feature:      a.Feature,
		Kind:         a.Kind.String(),
		Severity:     a.Severity.String(),
		Description:  a.Description,
		SampleValues: a.SampleValues,
		Extent:       a.Extent,
	})
}

// UnmarshalJSON reverses MarshalJSON.
func (a *Anomaly) UnmarshalJSON(data []byte) error {
	var j jsonAnomaly
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	kind, err := ParseAnomalyKind(j.Kind)
	if err != nil {
		return err
	}
	severity, err := ParseSeverity(j.Severity)
	if err != nil {
		return err
	}
	*a = Anomaly{
		Feature:      j.Feature,
		Kind:         kind,
		Severity:     severity,
		Description:  j.Description,
		SampleValues: j.SampleValues,
		Extent:       j.Extent,
	}
	return nil
}

// String renders the finding on one line.
func (a Anomaly) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s: %s", a.Severity, a.Feature, a.Kind, a.Description)
	if len(a.SampleValues) > 0 {
		fmt.Fprintf(&b, " (samples: %s)", strings.Join(a.SampleValues, ", "))
	}
	return b.String()
}

// Report is the ordered outcome of validating one statistics snapshot
// against a schema. Features appear in the schema's declared order, then
// any unexpected features sorted by name; within a feature, findings follow
// the fixed check order.
type Report struct {
	Environment string    `json:"environment,omitempty"`
	Anomalies   []Anomaly `json:"anomalies"`
}

// Empty reports whether validation produced no findings at all.
func (r *Report) Empty() bool {
	return len(r.Anomalies) == 0
}

// Clean reports whether the batch passed: no ERROR-severity findings.
// Warnings alone leave a report clean.
func (r *Report) Clean() bool {
	for _, a := range r.Anomalies {
		if a.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Counts returns the number of error and warning findings.
func (r *Report) Counts() (errors, warnings int) {
	for _, a := range r.Anomalies {
		if a.Severity == SeverityError {
			errors++
		} else {
			warnings++
		}
	}
	return errors, warnings
}

// ByFeature returns the findings for one feature in check order.
func (r *Report) ByFeature(name string) []Anomaly {
	var out []Anomaly
	for _, a := range r.Anomalies {
		if a.Feature == name {
			out = append(out, a)
		}
	}
	return out
}

// Features returns the distinct feature names in report order.
func (r *Report) Features() []string {
	seen := make(map[string]struct{}, len(r.Anomalies))
	var out []string
	for _, a := range r.Anomalies {
		if _, ok := seen[a.Feature]; ok {
			continue
		}
		seen[a.Feature] = struct{}{}
		out = append(out, a.Feature)
	}
	return out
}

// String renders the whole report for humans.
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("validation report")
	if r.Environment != "" {
		fmt.Fprintf(&b, " (environment %s)", r.Environment)
	}
	if r.Empty() {
		b.WriteString(": clean\n")
		return b.String()
	}
	errs, warns := r.Counts()
	fmt.Fprintf(&b, ": %d error(s), %d warning(s)\n", errs, warns)
	for _, a := range r.Anomalies {
		b.WriteString("  ")
		b.WriteString(a.String())
		b.WriteByte('\n')
	}
	return b.String()
}

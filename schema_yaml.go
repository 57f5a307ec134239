package datavet

import (
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// SchemaAPIVersion is the apiVersion of the canonical schema document.
	SchemaAPIVersion = "datavet/v1"

	// SchemaDocumentKind is the kind of the canonical schema document.
	SchemaDocumentKind = "Schema"
)

// SchemaDocument is the canonical serialized form of a Schema.
type SchemaDocument struct {
	APIVersion string         `json:"apiVersion" yaml:"apiVersion"`
	Kind       string         `json:"kind" yaml:"kind"`
	Metadata   SchemaMetadata `json:"metadata" yaml:"metadata"`
	Spec       SchemaSpec     `json:"spec" yaml:"spec"`
}

// SchemaMetadata carries versioning information for a schema document.
type SchemaMetadata struct {
	Version     int       `json:"version,omitempty" yaml:"version,omitempty"`
	GeneratedAt time.Time `json:"generatedAt,omitempty" yaml:"generatedAt,omitempty"`
}

// SchemaSpec is the document body: declared environments and features.
type SchemaSpec struct {
	Environments []string        `json:"environments,omitempty" yaml:"environments,omitempty"`
	Features     []SchemaFeature `json:"features" yaml:"features"`
}

// SchemaFeature is one feature declaration in a schema document.
type SchemaFeature struct {
	Name                 string        `json:"name" yaml:"name"`
	Kind                 string        `json:"kind" yaml:"kind"`
	MinPresence          float64       `json:"minPresence" yaml:"minPresence"`
	Domain               *SchemaDomain `json:"domain,omitempty" yaml:"domain,omitempty"`
	DriftThreshold       *float64      `json:"driftThreshold,omitempty" yaml:"driftThreshold,omitempty"`
	SkewThreshold        *float64      `json:"skewThreshold,omitempty" yaml:"skewThreshold,omitempty"`
	ExcludedEnvironments []string      `json:"excludedEnvironments,omitempty" yaml:"excludedEnvironments,omitempty"`
}

// SchemaDomain is a feature domain in a schema document.
type SchemaDomain struct {
	Values        []string `json:"values,omitempty" yaml:"values,omitempty"`
	Min           *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max           *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinDomainMass *float64 `json:"minDomainMass,omitempty" yaml:"minDomainMass,omitempty"`
}

// MarshalSchema renders the schema as its canonical YAML document. Feature
// order follows the schema's declaration order, so documents round-trip
// byte-stable.
func MarshalSchema(s *Schema) ([]byte, error) {
	if s == nil {
		return nil, newInvalidArgumentError("marshal schema", "nil schema")
	}
	doc := newSchemaDocument(s)
	return yaml.Marshal(&doc)
}

// newSchemaDocument builds the canonical document for a schema. Feature
// order follows the schema's declaration order.
func newSchemaDocument(s *Schema) SchemaDocument {
	doc := SchemaDocument{
		APIVersion: SchemaAPIVersion,
		Kind:       SchemaDocumentKind,
		Metadata: SchemaMetadata{
			Version:     s.Version,
			GeneratedAt: s.GeneratedAt,
		},
		Spec: SchemaSpec{
			Environments: s.Environments,
			Features:     make([]SchemaFeature, 0, len(s.Features)),
		},
	}
	for i := range s.Features {
		f := &s.Features[i]
		sf := SchemaFeature{
			Name:                 f.Name,
			Kind:                 f.Kind.String(),
			MinPresence:          f.MinPresence,
			DriftThreshold:       f.DriftThreshold,
			SkewThreshold:        f.SkewThreshold,
			ExcludedEnvironments: f.ExcludedEnvs,
		}
		if f.Domain != nil {
			sf.Domain = &SchemaDomain{
				Values:        f.Domain.Values,
				Min:           f.Domain.Min,
				Max:           f.Domain.Max,
				MinDomainMass: f.Domain.MinDomainMass,
			}
		}
		doc.Spec.Features = append(doc.Spec.Features, sf)
	}
	return doc
}

// UnmarshalSchema decodes and validates a canonical schema document. Any
// structural defect, an unrecognized kind token, or a fraction outside its
// range fails with ErrMalformedSchema; the returned schema is fully built
// or nil, never partial.
func UnmarshalSchema(data []byte) (*Schema, error) {
	var doc SchemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, newMalformedSchemaError("invalid YAML", err)
	}
	if doc.APIVersion != SchemaAPIVersion {
		return nil, newMalformedSchemaError("unsupported apiVersion "+strconv.Quote(doc.APIVersion), nil)
	}
	if doc.Kind != SchemaDocumentKind {
		return nil, newMalformedSchemaError("unsupported kind "+strconv.Quote(doc.Kind), nil)
	}

	schema := &Schema{
		Version:      doc.Metadata.Version,
		GeneratedAt:  doc.Metadata.GeneratedAt,
		Environments: doc.Spec.Environments,
		Features:     make([]FeatureSpec, 0, len(doc.Spec.Features)),
	}
	for _, sf := range doc.Spec.Features {
		kind, err := ParseFeatureKind(sf.Kind)
		if err != nil {
			return nil, newMalformedSchemaError("feature "+strconv.Quote(sf.Name), err)
		}
		fs := FeatureSpec{
			Name:           sf.Name,
			Kind:           kind,
			MinPresence:    sf.MinPresence,
			DriftThreshold: sf.DriftThreshold,
			SkewThreshold:  sf.SkewThreshold,
			ExcludedEnvs:   sf.ExcludedEnvironments,
		}
		if sf.Domain != nil {
			fs.Domain = &Domain{
				Values:        sf.Domain.Values,
				Min:           sf.Domain.Min,
				Max:           sf.Domain.Max,
				MinDomainMass: sf.Domain.MinDomainMass,
			}
		}
		schema.Features = append(schema.Features, fs)
	}
	if err := schema.validate(); err != nil {
		return nil, newMalformedSchemaError(err.Error(), nil)
	}
	return schema, nil
}

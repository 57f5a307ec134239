package datavet

import (
	"fmt"
	"reflect"
	"testing"
)

func TestSchemaInferrer_NumericDomain(t *testing.T) {
	stats := mustComputeRows(t, []Row{
		{"age": Int(30)},
		{"age": Int(42)},
		{"age": Int(50)},
	})

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := schema.Feature("age")
	if f == nil {
		t.Fatal("expected age to be inferred")
	}
	if f.Kind != KindNumeric {
		t.Errorf("expected NUMERIC, got %s", f.Kind)
	}
	if f.MinPresence != 1 {
		t.Errorf("expected min presence 1, got %v", f.MinPresence)
	}
	if f.Domain == nil || f.Domain.Min == nil || f.Domain.Max == nil {
		t.Fatalf("expected a bounded domain, got %+v", f.Domain)
	}
	if *f.Domain.Min != 30 || *f.Domain.Max != 50 {
		t.Errorf("expected domain [30, 50], got [%g, %g]", *f.Domain.Min, *f.Domain.Max)
	}
	if f.DriftThreshold != nil || f.SkewThreshold != nil {
		t.Error("inference must never suggest drift or skew thresholds")
	}
}

func TestSchemaInferrer_PresenceFloor(t *testing.T) {
	// 2 of 3 records carry x: presence 0.6666..., floored to 4 places so the
	// schema never demands more than the dataset exhibited.
	stats := mustComputeRows(t, []Row{
		{"x": Float(1), "y": Int(1)},
		{"x": Float(2), "y": Int(2)},
		{"y": Int(3)},
	})

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if got := schema.Feature("x").MinPresence; got != 0.6666 {
		t.Errorf("expected floored presence 0.6666, got %v", got)
	}
	if got := schema.Feature("y").MinPresence; got != 1 {
		t.Errorf("expected presence 1, got %v", got)
	}
}

func TestSchemaInferrer_SmallIntReclassified(t *testing.T) {
	// 2 distinct codes over 100 records: ratio 0.02 with a range of 1, so the
	// integer column is really an encoded category.
	rows := make([]Row, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{"code": Int(int64(1 + i%2))})
	}
	stats := mustComputeRows(t, rows)

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := schema.Feature("code")
	if f.Kind != KindCategoricalInt {
		t.Fatalf("expected CATEGORICAL_INT, got %s", f.Kind)
	}
	if f.Domain == nil {
		t.Fatal("expected a value domain")
	}
	if !reflect.DeepEqual(f.Domain.Values, []string{"1", "2"}) {
		t.Errorf("expected sorted tokens [1 2], got %v", f.Domain.Values)
	}
	if f.Domain.Min != nil || f.Domain.Max != nil {
		t.Error("a categorical domain must not carry numeric bounds")
	}
}

func TestSchemaInferrer_WideIntStaysNumeric(t *testing.T) {
	// Same low distinct ratio, but the extent exceeds the small-int range.
	rows := make([]Row, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{"id": Int(int64(500 * (i % 2)))})
	}
	stats := mustComputeRows(t, rows)

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := schema.Feature("id")
	if f.Kind != KindNumeric {
		t.Errorf("expected NUMERIC for a wide integer range, got %s", f.Kind)
	}
	if f.Domain == nil || *f.Domain.Min != 0 || *f.Domain.Max != 500 {
		t.Errorf("expected domain [0, 500], got %+v", f.Domain)
	}
}

func TestSchemaInferrer_FloatNeverReclassified(t *testing.T) {
	// Two distinct floats over many records would pass the ratio test, but
	// reclassification is reserved for integer-valued features.
	rows := make([]Row, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, Row{"rate": Float(0.5 * float64(i%2))})
	}
	stats := mustComputeRows(t, rows)

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if got := schema.Feature("rate").Kind; got != KindNumeric {
		t.Errorf("expected NUMERIC, got %s", got)
	}
}

func TestSchemaInferrer_CategoricalDomainThreshold(t *testing.T) {
	// 2 distinct tokens over 40 records sits exactly on the 0.05 threshold,
	// which is not below it: no domain.
	rows := make([]Row, 0, 41)
	for i := 0; i < 40; i++ {
		rows = append(rows, Row{"color": Str([]string{"red", "blue"}[i%2])})
	}
	stats := mustComputeRows(t, rows)

	inferrer := NewSchemaInferrer(DefaultInferenceConfig())
	schema, err := inferrer.Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if d := schema.Feature("color").Domain; d != nil {
		t.Errorf("expected no domain at the threshold, got %+v", d)
	}

	// One more record pushes the ratio below the threshold.
	rows = append(rows, Row{"color": Str("red")})
	stats = mustComputeRows(t, rows)
	schema, err = inferrer.Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	d := schema.Feature("color").Domain
	if d == nil || !reflect.DeepEqual(d.Values, []string{"blue", "red"}) {
		t.Errorf("expected sorted domain [blue red], got %+v", d)
	}
}

func TestSchemaInferrer_HighCardinalityUnconstrained(t *testing.T) {
	rows := make([]Row, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, Row{"user_id": Str(fmt.Sprintf("u-%d", i))})
	}
	stats := mustComputeRows(t, rows)

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := schema.Feature("user_id")
	if f.Kind != KindCategoricalString {
		t.Errorf("expected CATEGORICAL_STRING, got %s", f.Kind)
	}
	if f.Domain != nil {
		t.Errorf("expected a high-cardinality feature to stay unconstrained, got %+v", f.Domain)
	}
}

func TestSchemaInferrer_Deterministic(t *testing.T) {
	stats := mustComputeRows(t, []Row{
		{"zeta": Int(1), "alpha": Str("x"), "mid": Float(0.5)},
		{"zeta": Int(2), "alpha": Str("y"), "mid": Float(1.5)},
	})

	inferrer := NewSchemaInferrer(DefaultInferenceConfig())
	first, err := inferrer.Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	second, err := inferrer.Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if names := first.FeatureNames(); !reflect.DeepEqual(names, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("expected features sorted by name, got %v", names)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical schemas from the same snapshot")
	}
	if first.Version != 0 {
		t.Errorf("a candidate schema carries no version, got %d", first.Version)
	}
	if !first.GeneratedAt.Equal(stats.GeneratedAt()) {
		t.Error("expected GeneratedAt to come from the snapshot")
	}
}

func TestSchemaInferrer_SelfValidatesClean(t *testing.T) {
	// A schema inferred from a snapshot must accept that same snapshot.
	rows := make([]Row, 0, 60)
	for i := 0; i < 60; i++ {
		row := Row{
			"age":     Int(int64(20 + i)),
			"country": Str([]string{"DE", "FR"}[i%2]),
			"code":    Int(int64(i % 2)),
		}
		if i%5 == 0 {
			delete(row, "age")
		}
		rows = append(rows, row)
	}
	stats := mustComputeRows(t, rows)

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if got := schema.Feature("code").Kind; got != KindCategoricalInt {
		t.Fatalf("expected code to be reclassified CATEGORICAL_INT, got %s", got)
	}

	report, err := NewValidator(DefaultValidatorConfig()).Validate(stats, schema, ValidateOptions{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !report.Empty() {
		t.Errorf("expected a clean report against the generating snapshot, got %s", report)
	}
}

func TestSchemaInferrer_AllMissingFeature(t *testing.T) {
	// A hinted feature no record carries: zero presence floor, no domain.
	hint := &Schema{Features: []FeatureSpec{{Name: "ghost", Kind: KindNumeric}}}
	opts := DefaultComputeOptions()
	opts.Hint = hint
	stats, err := ComputeFromRows([]Row{{"x": Int(1)}, {"x": Int(2)}}, opts)
	if err != nil {
		t.Fatalf("ComputeFromRows failed: %v", err)
	}

	schema, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(stats)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := schema.Feature("ghost")
	if f == nil {
		t.Fatal("expected the hinted feature to be inferred")
	}
	if f.MinPresence != 0 {
		t.Errorf("expected zero presence floor, got %v", f.MinPresence)
	}
	if f.Domain != nil {
		t.Errorf("expected no domain for an absent feature, got %+v", f.Domain)
	}
}

func TestSchemaInferrer_NilStatistics(t *testing.T) {
	if _, err := NewSchemaInferrer(DefaultInferenceConfig()).Infer(nil); err == nil {
		t.Error("expected an error for nil statistics")
	}
}

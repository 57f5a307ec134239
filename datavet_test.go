package datavet

import (
	"context"
	"path/filepath"
	"testing"
)

func TestAdoptValidateReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfigBuilder().
		WithFileStorage(filepath.Join(dir, "artifacts")).
		WithHistory(filepath.Join(dir, "history.db")).
		WithoutStreaming().
		MustBuild()
	ctx := context.Background()

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	stats, err := e.ComputeStatistics(NewRowsSource(engineRows()), nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	schema, err := e.InferSchema(stats)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if _, err := e.AdoptSchema(ctx, schema); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if _, err := e.Registry().PutStatistics(ctx, "baseline", stats); err != nil {
		t.Fatalf("put stats: %v", err)
	}
	res, err := e.Validate(ctx, stats, ValidateOptions{StatsName: "baseline"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Report.Clean() {
		t.Fatalf("expected clean report, got %s", res.Report)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Schema, statistics, and run history all survive a reopen.
	e, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e.Close()

	if v := e.Schemas().Version(); v != 1 {
		t.Fatalf("expected schema version 1, got %d", v)
	}
	restored, err := e.Registry().GetStatistics(ctx, "baseline")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if restored.TotalRecords() != stats.TotalRecords() {
		t.Fatalf("expected %d records, got %d", stats.TotalRecords(), restored.TotalRecords())
	}
	runs, err := e.History().Runs(ctx, 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != res.RunID {
		t.Fatalf("expected recorded run %s, got %+v", res.RunID, runs)
	}
	if runs[0].StatsName != "baseline" || !runs[0].Clean {
		t.Fatalf("unexpected run record: %+v", runs[0])
	}
}

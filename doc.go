// Package datavet provides data validation for tabular ML pipelines.
//
// Datavet computes per-feature statistics over record batches, infers a
// schema from them, and validates later batches against the schema,
// reporting anomalies as a structured report.
//
// # Basic Usage
//
// Open an engine with default configuration:
//
//	engine, err := datavet.Open(datavet.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
// Compute statistics over records:
//
//	src, err := datavet.OpenCSV("train.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stats, err := engine.ComputeStatistics(src, nil)
//
// Infer and adopt a schema:
//
//	schema, err := engine.InferSchema(stats)
//	version, err := engine.AdoptSchema(ctx, schema)
//
// Validate a later batch:
//
//	result, err := engine.Validate(ctx, servingStats, datavet.ValidateOptions{
//	    Environment: "SERVING",
//	})
//	for _, a := range result.Report.Anomalies {
//	    fmt.Println(a)
//	}
//
// # Features
//
// Statistics:
//   - Single-pass per-feature counts, moments, and extremes
//   - Equal-width histograms for numeric features
//   - Value frequencies for categorical features
//   - Snapshot merging across shards and time windows
//   - Compact binary snapshot codec with snappy compression
//
// Schema:
//   - Inference from statistics with categorical detection
//   - Canonical YAML schema documents
//   - Guarded schema mutation (presence, domains, kinds, environments)
//   - Versioned persistence with full history
//
// Validation:
//   - Missing and unexpected feature detection
//   - Presence, domain, and range checks
//   - L-infinity distribution drift and skew comparison
//   - Per-environment feature exclusion
//
// Integrations:
//   - Pluggable artifact storage (file, memory, SQLite, Redis, S3, tiered)
//   - Optional HTTP API with API key authentication
//   - Websocket streaming of validation events
//   - Prometheus remote write metrics export
//   - Encryption at rest for stored artifacts
//   - SQLite-backed validation run history
//
// # Configuration
//
// Use [Config] to customize behavior:
//
//	cfg := datavet.Config{
//	    Storage: datavet.StorageConfig{
//	        Backend: datavet.BackendFile,
//	        Path:    "artifacts",
//	    },
//	    History: &datavet.HistoryConfig{
//	        Path: "runs.db",
//	    },
//	}
//
// Or use [DefaultConfig] for sensible defaults.
package datavet

package datavet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine ties the pipeline together behind one lifecycle: it owns the
// artifact registry, the working schema, the validator, and the optional
// run history, stream hub, metrics exporter, and HTTP API. The pure
// building blocks (ComputeStatistics, SchemaInferrer, Validator) remain
// usable on their own; the engine adds persistence and fan-out around
// them.
type Engine struct {
	config Config

	backend     StorageBackend
	ownsBackend bool

	registry  *Registry
	schemas   *SchemaStore
	inferrer  *SchemaInferrer
	validator *Validator

	history    *HistoryStore
	hub        *StreamHub
	exporter   *Exporter
	httpServer *httpServer

	mu     sync.Mutex
	closed bool
}

// RunResult identifies one validation run and carries its report.
type RunResult struct {
	RunID         string  `json:"run_id"`
	SchemaVersion int     `json:"schema_version"`
	Report        *Report `json:"report"`
}

// Open assembles an engine from cfg. The latest schema in the registry,
// if any, becomes the working schema. The returned engine must be closed.
//
//nolint:gocritic // cfg passed by value for API simplicity; callers typically construct inline
func Open(cfg Config) (*Engine, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, owns, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:      cfg,
		backend:     backend,
		ownsBackend: owns,
		inferrer:    NewSchemaInferrer(cfg.Inference),
		validator:   NewValidator(cfg.Validator),
	}

	var enc *Encryptor
	if cfg.Encryption != nil {
		enc, err = NewEncryptor(*cfg.Encryption)
		if err != nil {
			e.closeOpenResources()
			return nil, fmt.Errorf("init encryption: %w", err)
		}
	}

	e.registry, err = NewRegistry(RegistryConfig{Backend: backend, Encryptor: enc})
	if err != nil {
		e.closeOpenResources()
		return nil, err
	}

	if err := e.loadSchema(context.Background()); err != nil {
		e.closeOpenResources()
		return nil, err
	}

	if cfg.History != nil {
		e.history, err = NewHistoryStore(*cfg.History)
		if err != nil {
			e.closeOpenResources()
			return nil, fmt.Errorf("open run history: %w", err)
		}
	}

	if cfg.Stream.Enabled {
		e.hub = NewStreamHub(cfg.Stream)
	}

	if cfg.Export != nil && cfg.Export.Enabled {
		e.exporter = NewExporter(*cfg.Export)
		e.exporter.Start()
	}

	if cfg.HTTP.Enabled {
		e.httpServer, err = startHTTPServer(e)
		if err != nil {
			e.closeOpenResources()
			return nil, fmt.Errorf("start http server: %w", err)
		}
	}

	return e, nil
}

// openBackend returns the storage backend the config selects, or the
// injected one. The second result reports whether the engine owns the
// backend and should close it.
func openBackend(cfg Config) (StorageBackend, bool, error) {
	if cfg.StorageBackend != nil {
		return cfg.StorageBackend, false, nil
	}

	cold, err := newColdBackend(cfg.Storage)
	if err != nil {
		return nil, false, err
	}
	hot, err := newHotBackend(cfg.Storage)
	if err != nil {
		_ = cold.Close()
		return nil, false, err
	}
	if hot != nil {
		return NewTieredBackend(hot, cold), true, nil
	}
	return cold, true, nil
}

func newColdBackend(cfg StorageConfig) (StorageBackend, error) {
	switch cfg.Backend {
	case BackendFile:
		return NewFileBackend(cfg.Path)
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		return NewSQLiteBackend(cfg.SQLite)
	case BackendRedis:
		return NewRedisBackend(cfg.Redis)
	case BackendS3:
		return NewS3Backend(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newHotBackend(cfg StorageConfig) (StorageBackend, error) {
	switch cfg.HotTier {
	case "":
		return nil, nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendRedis:
		return NewRedisBackend(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown hot tier %q", cfg.HotTier)
	}
}

// loadSchema restores the latest registry schema into the working store.
// A registry with no schemas yields an empty store at version zero.
func (e *Engine) loadSchema(ctx context.Context) error {
	initial, err := e.registry.LatestSchema(ctx)
	if err != nil {
		if !IsNotFound(err) {
			return fmt.Errorf("load schema: %w", err)
		}
		initial = nil
	}
	store, err := NewSchemaStore(initial)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	e.schemas = store
	return nil
}

// Close stops the HTTP server, exporter, and stream hub, then releases
// storage. Safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.closeOpenResources()
}

// closeOpenResources tears down whatever Open managed to start, in
// reverse start order. Shared by Close and Open's failure path.
func (e *Engine) closeOpenResources() error {
	var firstErr error

	if e.httpServer != nil {
		if err := e.httpServer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.httpServer = nil
	}
	if e.exporter != nil {
		e.exporter.Stop()
		e.exporter = nil
	}
	if e.hub != nil {
		e.hub.Close()
		e.hub = nil
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.history = nil
	}
	// An injected backend belongs to the caller.
	if e.ownsBackend && e.backend != nil {
		if err := e.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.backend = nil

	return firstErr
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// ComputeStatistics runs a statistics pass over src. Nil opts uses the
// engine's configured compute settings.
func (e *Engine) ComputeStatistics(src RecordSource, opts *ComputeOptions) (*DatasetStatistics, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	co := e.config.Compute
	if opts != nil {
		co = *opts
	}
	return ComputeStatistics(src, co)
}

// ComputeWithSchema runs a statistics pass with the working schema as
// the kind hint, so declared kinds win over shape sniffing.
func (e *Engine) ComputeWithSchema(src RecordSource) (*DatasetStatistics, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	co := e.config.Compute
	if e.schemas.Version() > 0 {
		co.Hint = e.schemas.Schema()
	}
	return ComputeStatistics(src, co)
}

// InferSchema proposes a schema candidate from observed statistics. The
// candidate is not adopted; pass it to AdoptSchema to make it the
// working schema.
func (e *Engine) InferSchema(stats *DatasetStatistics) (*Schema, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.inferrer.Infer(stats)
}

// AdoptSchema persists candidate to the registry under a fresh version
// and makes the stamped result the working schema. Returns the
// allocated version.
func (e *Engine) AdoptSchema(ctx context.Context, candidate *Schema) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	if candidate == nil {
		return 0, newInvalidArgumentError("adopt schema", "nil candidate")
	}
	if err := candidate.validate(); err != nil {
		return 0, newMalformedSchemaError(err.Error(), nil)
	}

	version, err := e.registry.PutSchema(ctx, candidate)
	if err != nil {
		return 0, fmt.Errorf("persist schema: %w", err)
	}

	stamped := candidate.Clone()
	stamped.Version = version
	if err := e.schemas.restore(stamped); err != nil {
		return 0, err
	}
	return version, nil
}

// CommitSchema persists the working schema, mutations included, under a
// fresh registry version. Use after refining via Schemas().
func (e *Engine) CommitSchema(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.AdoptSchema(ctx, e.schemas.Schema())
}

// Validate checks stats against the working schema, records the run,
// and fans out events and metrics. The report comes back even when
// persistence degrades; those failures only log.
func (e *Engine) Validate(ctx context.Context, stats *DatasetStatistics, opts ValidateOptions) (*RunResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, newInvalidArgumentError("validate", "nil statistics")
	}
	version := e.schemas.Version()
	if version == 0 {
		return nil, newInvalidArgumentError("validate", "no schema adopted")
	}
	schema := e.schemas.Schema()

	runID := uuid.NewString()
	started := time.Now().UTC()

	if e.hub != nil {
		e.hub.Publish(StreamEvent{
			Type:          EventRunStarted,
			RunID:         runID,
			Environment:   opts.Environment,
			SchemaVersion: version,
			Time:          started,
		})
	}

	report, err := e.validator.Validate(stats, schema, opts)
	if err != nil {
		return nil, err
	}

	e.persistRun(ctx, runID, version, started, stats, report, opts)

	if e.hub != nil {
		e.hub.PublishReport(runID, version, report)
	}
	if e.exporter != nil {
		e.exporter.ExportReport(report, stats)
	}

	return &RunResult{RunID: runID, SchemaVersion: version, Report: report}, nil
}

func (e *Engine) persistRun(ctx context.Context, runID string, version int, started time.Time, stats *DatasetStatistics, report *Report, opts ValidateOptions) {
	if _, err := e.registry.PutReport(ctx, runID, report); err != nil {
		slog.Warn("report persist failed", "run", runID, "err", err)
	}
	if e.history == nil {
		return
	}
	errs, warns := report.Counts()
	rec := RunRecord{
		ID:            runID,
		StartedAt:     started,
		Environment:   opts.Environment,
		SchemaVersion: version,
		RecordCount:   stats.TotalRecords(),
		ErrorCount:    errs,
		WarningCount:  warns,
		Clean:         report.Clean(),
		StatsName:     opts.StatsName,
	}
	if err := e.history.RecordRun(ctx, rec, report); err != nil {
		slog.Warn("run history persist failed", "run", runID, "err", err)
	}
}

// Schemas returns the working schema store for guarded refinement.
func (e *Engine) Schemas() *SchemaStore {
	return e.schemas
}

// Registry returns the artifact registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// History returns the run ledger, or nil when history is disabled.
func (e *Engine) History() *HistoryStore {
	return e.history
}

// Hub returns the stream hub, or nil when streaming is disabled.
func (e *Engine) Hub() *StreamHub {
	return e.hub
}

// Config returns the normalized configuration the engine runs with.
func (e *Engine) Config() Config {
	return e.config
}

package datavet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// HistoryConfig configures the validation run history store.
type HistoryConfig struct {
	// Path to the SQLite database file
	Path string `yaml:"path"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxConnections is the max number of database connections
	MaxConnections int `yaml:"max_connections"`
}

// DefaultHistoryConfig returns default configuration.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Path:           "datavet.db",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// RunRecord summarizes one validation run.
type RunRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	Environment   string    `json:"environment,omitempty"`
	SchemaVersion int       `json:"schema_version"`
	RecordCount   int64     `json:"record_count"`
	ErrorCount    int       `json:"error_count"`
	WarningCount  int       `json:"warning_count"`
	Clean         bool      `json:"clean"`
	StatsName     string    `json:"stats_name,omitempty"`
}

// HistoryStats aggregates the run ledger.
type HistoryStats struct {
	RunCount     int64      `json:"run_count"`
	CleanCount   int64      `json:"clean_count"`
	AnomalyCount int64      `json:"anomaly_count"`
	FirstRun     *time.Time `json:"first_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
}

// FeatureIncident is one anomaly joined with the run it occurred in.
type FeatureIncident struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Anomaly   Anomaly   `json:"anomaly"`
}

// HistoryStore keeps validation runs and their anomalies in SQLite so
// past runs stay queryable with standard tools.
type HistoryStore struct {
	db     *sql.DB
	config HistoryConfig
	mu     sync.RWMutex
	closed bool

	insertRun     *sql.Stmt
	insertAnomaly *sql.Stmt
	selectRun     *sql.Stmt
}

// NewHistoryStore opens (or creates) the run history database.
func NewHistoryStore(config HistoryConfig) (*HistoryStore, error) {
	if config.Path == "" {
		config.Path = "datavet.db"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		config.Path, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &HistoryStore{db: db, config: config}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare history statements: %w", err)
	}
	return store, nil
}

func (h *HistoryStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS validation_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			environment TEXT,
			schema_version INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			error_count INTEGER NOT NULL,
			warning_count INTEGER NOT NULL,
			clean INTEGER NOT NULL,
			stats_name TEXT
		);

		CREATE TABLE IF NOT EXISTS run_anomalies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			feature TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			description TEXT NOT NULL,
			sample_values TEXT,
			extent REAL NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON validation_runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_anomalies_run ON run_anomalies(run_id);
		CREATE INDEX IF NOT EXISTS idx_anomalies_feature ON run_anomalies(feature);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (h *HistoryStore) prepareStatements() error {
	var err error

	h.insertRun, err = h.db.Prepare(`
		INSERT INTO validation_runs
			(id, started_at, environment, schema_version, record_count, error_count, warning_count, clean, stats_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	h.insertAnomaly, err = h.db.Prepare(`
		INSERT INTO run_anomalies
			(run_id, feature, kind, severity, description, sample_values, extent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	h.selectRun, err = h.db.Prepare(`
		SELECT id, started_at, environment, schema_version, record_count, error_count, warning_count, clean, stats_name
		FROM validation_runs WHERE id = ?
	`)
	return err
}

func (h *HistoryStore) checkOpen() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

// RecordRun stores a run summary and all its anomalies atomically.
func (h *HistoryStore) RecordRun(ctx context.Context, rec RunRecord, report *Report) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if rec.ID == "" {
		return newInvalidArgumentError("RecordRun", "empty run ID")
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	clean := 0
	if rec.Clean {
		clean = 1
	}
	_, err = tx.StmtContext(ctx, h.insertRun).ExecContext(ctx,
		rec.ID, rec.StartedAt.UnixNano(), rec.Environment, rec.SchemaVersion,
		rec.RecordCount, rec.ErrorCount, rec.WarningCount, clean, rec.StatsName)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}

	if report != nil {
		stmt := tx.StmtContext(ctx, h.insertAnomaly)
		for _, a := range report.Anomalies {
			var samples []byte
			if len(a.SampleValues) > 0 {
				samples, err = json.Marshal(a.SampleValues)
				if err != nil {
					return fmt.Errorf("marshal sample values: %w", err)
				}
			}
			_, err = stmt.ExecContext(ctx,
				rec.ID, a.Feature, a.Kind.String(), a.Severity.String(),
				a.Description, samples, a.Extent)
			if err != nil {
				return fmt.Errorf("insert anomaly for run %s: %w", rec.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Run loads one run summary by ID.
func (h *HistoryStore) Run(ctx context.Context, id string) (*RunRecord, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := scanRun(h.selectRun.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, newStorageError(StorageErrorNotFound, "run not found", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return rec, nil
}

// Runs returns the most recent runs, newest first. A non-positive limit
// returns all of them.
func (h *HistoryStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT id, started_at, environment, schema_version, record_count, error_count, warning_count, clean, stats_name
		FROM validation_runs ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// RunAnomalies returns the anomalies recorded for one run, in insertion
// order (which is report order).
func (h *HistoryStore) RunAnomalies(ctx context.Context, runID string) ([]Anomaly, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT feature, kind, severity, description, sample_values, extent
		FROM run_anomalies WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies for run %s: %w", runID, err)
	}
	defer rows.Close()

	var anomalies []Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// FeatureIncidents returns the recent anomalies for one feature across
// runs, newest first.
func (h *HistoryStore) FeatureIncidents(ctx context.Context, feature string, limit int) ([]FeatureIncident, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT r.id, r.started_at, a.feature, a.kind, a.severity, a.description, a.sample_values, a.extent
		FROM run_anomalies a JOIN validation_runs r ON a.run_id = r.id
		WHERE a.feature = ? ORDER BY r.started_at DESC, a.id
	`
	args := []any{feature}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents for feature %s: %w", feature, err)
	}
	defer rows.Close()

	var incidents []FeatureIncident
	for rows.Next() {
		var (
			inc     FeatureIncident
			started int64
			kind    string
			sev     string
			samples sql.NullString
		)
		if err := rows.Scan(&inc.RunID, &started, &inc.Anomaly.Feature, &kind, &sev,
			&inc.Anomaly.Description, &samples, &inc.Anomaly.Extent); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.StartedAt = time.Unix(0, started).UTC()
		if inc.Anomaly.Kind, err = ParseAnomalyKind(kind); err != nil {
			return nil, err
		}
		if inc.Anomaly.Severity, err = ParseSeverity(sev); err != nil {
			return nil, err
		}
		if samples.Valid && samples.String != "" {
			if err := json.Unmarshal([]byte(samples.String), &inc.Anomaly.SampleValues); err != nil {
				return nil, fmt.Errorf("decode sample values: %w", err)
			}
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Stats aggregates the ledger.
func (h *HistoryStore) Stats(ctx context.Context) (*HistoryStats, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	stats := &HistoryStats{}

	var first, last sql.NullInt64
	row := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(clean), 0), MIN(started_at), MAX(started_at)
		FROM validation_runs
	`)
	if err := row.Scan(&stats.RunCount, &stats.CleanCount, &first, &last); err != nil {
		return nil, fmt.Errorf("aggregate runs: %w", err)
	}
	if first.Valid {
		t := time.Unix(0, first.Int64).UTC()
		stats.FirstRun = &t
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		stats.LastRun = &t
	}

	row = h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_anomalies`)
	if err := row.Scan(&stats.AnomalyCount); err != nil {
		return nil, fmt.Errorf("count anomalies: %w", err)
	}
	return stats, nil
}

// Close releases the database and prepared statements.
func (h *HistoryStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.insertRun != nil {
		h.insertRun.Close()
	}
	if h.insertAnomaly != nil {
		h.insertAnomaly.Close()
	}
	if h.selectRun != nil {
		h.selectRun.Close()
	}
	return h.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec     RunRecord
		started int64
		env     sql.NullString
		stats   sql.NullString
		clean   int
	)
	err := row.Scan(&rec.ID, &started, &env, &rec.SchemaVersion, &rec.RecordCount,
		&rec.ErrorCount, &rec.WarningCount, &clean, &stats)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	rec.Environment = env.String
	rec.StatsName = stats.String
	rec.Clean = clean != 0
	return &rec, nil
}

func scanAnomaly(row rowScanner) (*Anomaly, error) {
	var (
		a       Anomaly
		kind    string
		sev     string
		samples sql.NullString
	)
	if err := row.Scan(&a.Feature, &kind, &sev, &a.Description, &samples, &a.Extent); err != nil {
		return nil, fmt.Errorf("scan anomaly: %w", err)
	}
	var err error
	if a.Kind, err = ParseAnomalyKind(kind); err != nil {
		return nil, err
	}
	if a.Severity, err = ParseSeverity(sev); err != nil {
		return nil, err
	}
	if samples.Valid && samples.String != "" {
		if err := json.Unmarshal([]byte(samples.String), &a.SampleValues); err != nil {
			return nil, fmt.Errorf("decode sample values: %w", err)
		}
	}
	return &a, nil
}

package datavet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	config := DefaultSQLiteBackendConfig()
	config.Path = filepath.Join(t.TempDir(), "artifacts.db")

	backend, err := NewSQLiteBackend(config)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestNewSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.db")
	config := DefaultSQLiteBackendConfig()
	config.Path = path

	backend, err := NewSQLiteBackend(config)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	defer backend.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestSQLiteBackend_ReadWriteDelete(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	key := "schemas/v000001.yaml"
	data := []byte("apiVersion: datavet/v1\nkind: Schema\n")
	if err := backend.Write(ctx, key, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	readData, err := backend.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(readData) != string(data) {
		t.Errorf("data mismatch: got %q, want %q", readData, data)
	}

	exists, err := backend.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("key should exist")
	}

	if err := backend.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = backend.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("key should not exist after delete")
	}
}

func TestSQLiteBackend_WriteReplaces(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	key := "stats/day1.snap"
	if err := backend.Write(ctx, key, []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := backend.Write(ctx, key, []byte("second")); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	data, err := backend.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected latest write, got %q", data)
	}

	keys, err := backend.List(ctx, "stats/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("expected 1 key after overwrite, got %v", keys)
	}
}

func TestSQLiteBackend_List(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	keys := []string{
		"schemas/v000002.yaml",
		"schemas/v000001.yaml",
		"stats/day1.snap",
		"reports/run-1.json",
	}
	for _, key := range keys {
		if err := backend.Write(ctx, key, []byte("data")); err != nil {
			t.Fatalf("Write %s failed: %v", key, err)
		}
	}

	list, err := backend.List(ctx, "schemas/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 results, got %d", len(list))
	}
	// Keys come back ordered.
	if list[0] != "schemas/v000001.yaml" || list[1] != "schemas/v000002.yaml" {
		t.Errorf("unexpected order: %v", list)
	}

	all, err := backend.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 keys, got %d", len(all))
	}
}

func TestSQLiteBackend_ReadNotFound(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	_, err := backend.Read(context.Background(), "schemas/v000009.yaml")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestSQLiteBackend_ClosedOperations(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("second Close should be nil, got %v", err)
	}

	if _, err := backend.Read(ctx, "key"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Read, got %v", err)
	}
	if err := backend.Write(ctx, "key", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Write, got %v", err)
	}
	if _, err := backend.List(ctx, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from List, got %v", err)
	}
	if err := backend.Delete(ctx, "key"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Delete, got %v", err)
	}
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.db")
	config := DefaultSQLiteBackendConfig()
	config.Path = path
	ctx := context.Background()

	backend, err := NewSQLiteBackend(config)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := backend.Write(ctx, "reports/run-1.json", []byte(`{"anomalies":[]}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteBackend(config)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	data, err := reopened.Read(ctx, "reports/run-1.json")
	if err != nil {
		t.Fatalf("Read after reopen failed: %v", err)
	}
	if string(data) != `{"anomalies":[]}` {
		t.Errorf("data did not survive reopen: %q", data)
	}
}

func TestEngine_SQLiteStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfigBuilder().
		WithSQLiteStorage(filepath.Join(dir, "artifacts.db")).
		WithoutHistory().
		WithoutStreaming().
		MustBuild()
	ctx := context.Background()

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	stats, err := e.ComputeStatistics(NewRowsSource(engineRows()), nil)
	if err != nil {
		t.Fatalf("ComputeStatistics failed: %v", err)
	}
	schema, err := e.InferSchema(stats)
	if err != nil {
		t.Fatalf("InferSchema failed: %v", err)
	}
	if _, err := e.AdoptSchema(ctx, schema); err != nil {
		t.Fatalf("AdoptSchema failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The adopted schema survives a restart.
	e2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	if v := e2.Schemas().Version(); v != 1 {
		t.Errorf("expected schema version 1 after reopen, got %d", v)
	}
	if f := e2.Schemas().Schema().Feature("age"); f == nil {
		t.Error("age feature missing after reopen")
	}
}

func TestDefaultSQLiteBackendConfig(t *testing.T) {
	config := DefaultSQLiteBackendConfig()

	if config.Path != "datavet-artifacts.db" {
		t.Errorf("unexpected path %q", config.Path)
	}
	if config.BusyTimeout != 5000 {
		t.Errorf("expected busy timeout 5000, got %d", config.BusyTimeout)
	}
	if config.MaxConnections != 10 {
		t.Errorf("expected 10 connections, got %d", config.MaxConnections)
	}
}

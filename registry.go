package datavet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Artifact key layout inside the storage backend.
const (
	schemaKeyPrefix = "schemas/"
	statsKeyPrefix  = "stats/"
	reportKeyPrefix = "reports/"
)

// RegistryConfig configures an artifact registry.
type RegistryConfig struct {
	// Backend stores the artifacts. Required.
	Backend StorageBackend

	// Encryptor seals artifacts at rest when non-nil.
	Encryptor *Encryptor
}

// Registry persists the three artifact families a validation pipeline
// produces: versioned schemas, named statistics snapshots, and per-run
// anomaly reports. Schema versions are allocated here; the stored
// document always carries the version it was written under.
type Registry struct {
	mu      sync.Mutex
	backend StorageBackend
	enc     *Encryptor
}

// NewRegistry creates a registry over the given backend.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Backend == nil {
		return nil, newInvalidArgumentError("NewRegistry", "nil storage backend")
	}
	return &Registry{backend: cfg.Backend, enc: cfg.Encryptor}, nil
}

func schemaKey(version int) string {
	return fmt.Sprintf("%sv%06d.yaml", schemaKeyPrefix, version)
}

func statsKey(name string) string {
	return statsKeyPrefix + name + ".snap"
}

func reportKey(runID string) string {
	return reportKeyPrefix + runID + ".json"
}

// parseSchemaVersion extracts the version from a schema artifact key.
func parseSchemaVersion(key string) (int, bool) {
	name := strings.TrimPrefix(key, schemaKeyPrefix)
	name = strings.TrimSuffix(name, ".yaml")
	if len(name) < 2 || name[0] != 'v' {
		return 0, false
	}
	v, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, false
	}
	return v, true
}

func (r *Registry) write(ctx context.Context, key string, data []byte) error {
	if r.enc != nil {
		sealed, err := r.enc.SealArtifact(data)
		if err != nil {
			return newStorageError(StorageErrorWrite, "seal artifact", key, err)
		}
		data = sealed
	}
	return r.backend.Write(ctx, key, data)
}

func (r *Registry) read(ctx context.Context, key string) ([]byte, error) {
	data, err := r.backend.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if IsSealedArtifact(data) {
		if r.enc == nil {
			return nil, newStorageError(StorageErrorRead, "artifact is encrypted and no encryptor is configured", key, nil)
		}
		opened, err := r.enc.OpenArtifact(data)
		if err != nil {
			return nil, newStorageError(StorageErrorRead, "open sealed artifact", key, err)
		}
		return opened, nil
	}
	return data, nil
}

// PutSchema stores a schema under the next version number and returns it.
// The stored document carries the allocated version regardless of the
// version on the input.
func (r *Registry) PutSchema(ctx context.Context, s *Schema) (int, error) {
	if s == nil {
		return 0, newInvalidArgumentError("PutSchema", "nil schema")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, err := r.schemaVersionsLocked(ctx)
	if err != nil {
		return 0, err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	stamped := s.Clone()
	stamped.Version = next
	data, err := MarshalSchema(stamped)
	if err != nil {
		return 0, err
	}
	if err := r.write(ctx, schemaKey(next), data); err != nil {
		return 0, err
	}
	return next, nil
}

// GetSchema loads one schema version.
func (r *Registry) GetSchema(ctx context.Context, version int) (*Schema, error) {
	data, err := r.read(ctx, schemaKey(version))
	if err != nil {
		return nil, err
	}
	return UnmarshalSchema(data)
}

// LatestSchema loads the highest stored schema version. Fails with
// ErrArtifactNotFound when the registry holds no schemas.
func (r *Registry) LatestSchema(ctx context.Context) (*Schema, error) {
	r.mu.Lock()
	versions, err := r.schemaVersionsLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, newStorageError(StorageErrorNotFound, "no schema versions stored", schemaKeyPrefix, nil)
	}
	return r.GetSchema(ctx, versions[len(versions)-1])
}

// SchemaVersions returns all stored schema versions in ascending order.
func (r *Registry) SchemaVersions(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schemaVersionsLocked(ctx)
}

func (r *Registry) schemaVersionsLocked(ctx context.Context) ([]int, error) {
	keys, err := r.backend.List(ctx, schemaKeyPrefix)
	if err != nil {
		return nil, err
	}
	var versions []int
	for _, key := range keys {
		if v, ok := parseSchemaVersion(key); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

// PutStatistics stores a statistics snapshot under the given name. An
// empty name gets a fresh random one. Returns the name used.
func (r *Registry) PutStatistics(ctx context.Context, name string, stats *DatasetStatistics) (string, error) {
	if stats == nil {
		return "", newInvalidArgumentError("PutStatistics", "nil statistics")
	}
	if name == "" {
		name = uuid.NewString()
	}
	data, err := EncodeStatistics(stats)
	if err != nil {
		return "", err
	}
	if err := r.write(ctx, statsKey(name), data); err != nil {
		return "", err
	}
	return name, nil
}

// GetStatistics loads a stored statistics snapshot.
func (r *Registry) GetStatistics(ctx context.Context, name string) (*DatasetStatistics, error) {
	data, err := r.read(ctx, statsKey(name))
	if err != nil {
		return nil, err
	}
	return DecodeStatistics(data)
}

// ListStatistics returns the names of stored snapshots, sorted.
func (r *Registry) ListStatistics(ctx context.Context) ([]string, error) {
	keys, err := r.backend.List(ctx, statsKeyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, statsKeyPrefix)
		name = strings.TrimSuffix(name, ".snap")
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// PutReport stores a validation report under a run ID. An empty run ID
// gets a fresh random one. Returns the ID used.
func (r *Registry) PutReport(ctx context.Context, runID string, report *Report) (string, error) {
	if report == nil {
		return "", newInvalidArgumentError("PutReport", "nil report")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := r.write(ctx, reportKey(runID), data); err != nil {
		return "", err
	}
	return runID, nil
}

// GetReport loads a stored validation report.
func (r *Registry) GetReport(ctx context.Context, runID string) (*Report, error) {
	data, err := r.read(ctx, reportKey(runID))
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return &report, nil
}

// DeleteSchema removes one stored schema version.
func (r *Registry) DeleteSchema(ctx context.Context, version int) error {
	return r.backend.Delete(ctx, schemaKey(version))
}

// Close closes the underlying backend.
func (r *Registry) Close() error {
	return r.backend.Close()
}

// IsNotFound reports whether an error means a missing artifact.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrArtifactNotFound)
}

package datavet

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the datavet package.
var (
	// ErrClosed is returned when operations are attempted on a closed engine.
	ErrClosed = errors.New("engine is closed")

	// ErrInvalidRecord is returned when a record's value conflicts with the
	// declared or previously observed kind of a feature.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrUnknownFeature is returned when an operation names a feature the
	// schema does not contain.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrUnknownEnvironment is returned when an operation names an environment
	// the schema never declared.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrKindMismatch is returned when an operation is incompatible with the
	// feature's kind, such as a numeric domain on a categorical feature.
	ErrKindMismatch = errors.New("feature kind mismatch")

	// ErrInvalidArgument is returned for arguments outside their valid range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedSchema is returned when a schema document cannot be decoded
	// or fails structural validation.
	ErrMalformedSchema = errors.New("malformed schema document")

	// ErrCorruptSnapshot is returned when a statistics snapshot cannot be
	// decoded.
	ErrCorruptSnapshot = errors.New("corrupt statistics snapshot")

	// ErrArtifactNotFound is returned when a storage backend has no artifact
	// under the requested key.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// InvalidRecordError reports the record and feature that broke a statistics
// pass. Row is the zero-based index of the offending record in iteration
// order.
type InvalidRecordError struct {
	Row     int
	Feature string
	Value   Value
	Reason  string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("record %d, feature %q: %s (value %s)", e.Row, e.Feature, e.Reason, e.Value)
}

// Is implements error matching for InvalidRecordError.
func (e *InvalidRecordError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// newInvalidRecordError creates a new InvalidRecordError.
func newInvalidRecordError(row int, feature string, value Value, reason string) *InvalidRecordError {
	return &InvalidRecordError{
		Row:     row,
		Feature: feature,
		Value:   value,
		Reason:  reason,
	}
}

// UnknownFeatureError identifies the feature name that was not found.
type UnknownFeatureError struct {
	Feature string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Feature)
}

// Is implements error matching for UnknownFeatureError.
func (e *UnknownFeatureError) Is(target error) bool {
	return target == ErrUnknownFeature
}

// UnknownEnvironmentError identifies the environment name that was never
// declared on the schema.
type UnknownEnvironmentError struct {
	Environment string
}

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("unknown environment %q", e.Environment)
}

// Is implements error matching for UnknownEnvironmentError.
func (e *UnknownEnvironmentError) Is(target error) bool {
	return target == ErrUnknownEnvironment
}

// KindMismatchError reports an operation applied to a feature of an
// incompatible kind.
type KindMismatchError struct {
	Feature string
	Want    FeatureKind
	Got     FeatureKind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("feature %q: want kind %s, got %s", e.Feature, e.Want, e.Got)
}

// Is implements error matching for KindMismatchError.
func (e *KindMismatchError) Is(target error) bool {
	return target == ErrKindMismatch
}

// InvalidArgumentError reports an argument outside its valid range.
type InvalidArgumentError struct {
	Op     string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Is implements error matching for InvalidArgumentError.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// newInvalidArgumentError creates a new InvalidArgumentError.
func newInvalidArgumentError(op, reason string) *InvalidArgumentError {
	return &InvalidArgumentError{Op: op, Reason: reason}
}

// MalformedSchemaError describes why a schema document was rejected. Decoding
// a malformed document never partially populates a store.
type MalformedSchemaError struct {
	Reason string
	Cause  error
}

func (e *MalformedSchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed schema: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed schema: %s", e.Reason)
}

func (e *MalformedSchemaError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for MalformedSchemaError.
func (e *MalformedSchemaError) Is(target error) bool {
	return target == ErrMalformedSchema
}

// newMalformedSchemaError creates a new MalformedSchemaError.
func newMalformedSchemaError(reason string, cause error) *MalformedSchemaError {
	return &MalformedSchemaError{Reason: reason, Cause: cause}
}

// StorageErrorType categorizes artifact storage errors.
type StorageErrorType int

const (
	// StorageErrorUnknown is an unclassified storage error.
	StorageErrorUnknown StorageErrorType = iota
	// StorageErrorRead indicates a read failure.
	StorageErrorRead
	// StorageErrorWrite indicates a write failure.
	StorageErrorWrite
	// StorageErrorDelete indicates a delete failure.
	StorageErrorDelete
	// StorageErrorList indicates a listing failure.
	StorageErrorList
	// StorageErrorNotFound indicates the artifact does not exist.
	StorageErrorNotFound
)

// StorageError provides detailed information about artifact storage failures.
type StorageError struct {
	Type    StorageErrorType
	Message string
	Key     string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Key, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StorageError.
func (e *StorageError) Is(target error) bool {
	if e.Type == StorageErrorNotFound {
		return target == ErrArtifactNotFound
	}
	return false
}

// newStorageError creates a new StorageError.
func newStorageError(errType StorageErrorType, message, key string, cause error) *StorageError {
	return &StorageError{
		Type:    errType,
		Message: message,
		Key:     key,
		Cause:   cause,
	}
}

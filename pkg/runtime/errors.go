// Package runtime provides the driver capability and error taxonomy used by the engine.
package runtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidModel is returned when an invalid model is provided.
	ErrInvalidModel = errors.New("invalid model")

	// ErrUnmappedType is returned when a type has no mapping in any usable data source.
	ErrUnmappedType = errors.New("type is not mapped")

	// ErrMissingIdentity is returned when an addressable type resolves no ID.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrConflictingIdentity is returned when merged mappings declare incompatible IDs.
	ErrConflictingIdentity = errors.New("conflicting identity")

	// ErrAmbiguousProperty is returned when a property name is contributed
	// differently by two merged mappings at the same depth.
	ErrAmbiguousProperty = errors.New("ambiguous property")

	// ErrUnknownProperty is returned when a property does not exist on a type.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrUnsupportedPredicate is returned for predicate shapes the translator cannot express.
	ErrUnsupportedPredicate = errors.New("unsupported predicate")

	// ErrReadOnly is returned when a write targets no writable data source.
	ErrReadOnly = errors.New("no writable data source")

	// ErrSessionBusy is returned when a session is used while executing.
	ErrSessionBusy = errors.New("session is executing")

	// ErrNoConnection is returned when no driver is available for a data source.
	ErrNoConnection = errors.New("no database connection")

	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ResolutionError reports a mapping that cannot be resolved for a data source.
type ResolutionError struct {
	DataSource string
	Type       string
	Property   string
	Err        error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolution error")
	if e.DataSource != "" {
		fmt.Fprintf(&b, " (data source %s)", e.DataSource)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " on %s", e.Type)
		if e.Property != "" {
			fmt.Fprintf(&b, ".%s", e.Property)
		}
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TranslationError reports a query description that cannot be translated.
type TranslationError struct {
	Type     string
	Property string
	Err      error
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("translation error on %s.%s: %v", e.Type, e.Property, e.Err)
	}
	return fmt.Sprintf("translation error on %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *TranslationError) Unwrap() error {
	return e.Err
}

// ExecutionError wraps a driver failure with the command that caused it.
type ExecutionError struct {
	Command    string
	DataSource string
	Type       string
	Query      string
	Err        error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution error: %s on data source %s", e.Command, e.DataSource)
	if e.Type != "" {
		msg += " for " + e.Type
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if e.Query != "" {
		msg += "\nQuery: " + e.Query
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// QueryError represents a query execution error.
type QueryError struct {
	Query string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v\nQuery: %s", e.Err, e.Query)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

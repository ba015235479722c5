package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/linkgraph/pkg/common"
)

var (
	ErrNotFound          = errors.New("entity not found")
	ErrDanglingReference = errors.New("dangling reference")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrPartialDerivation = errors.New("relationship derivation partially failed")
	ErrInvalidEntity     = errors.New("invalid entity")
)

// ErrorKind is the stable, client-facing name of an error category.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindDanglingReference ErrorKind = "dangling_reference"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindPartialDerivation ErrorKind = "partial_derivation"
	KindInvalidEntity     ErrorKind = "invalid_entity"
	KindInternal          ErrorKind = "internal"
)

// WriteError reports that the entity itself could not be written. Nothing
// was persisted and no derivation ran.
type WriteError struct {
	Kind common.EntityKind
	ID   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrStoreUnavailable }

// DanglingReferenceError reports that an event was written but its
// participation edges were skipped because referenced actors are missing.
type DanglingReferenceError struct {
	EventID string
	Missing []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("event %q references missing actors [%s]; participation edges skipped",
		e.EventID, strings.Join(e.Missing, ", "))
}

func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// StepFailure is one derivation step that did not complete.
type StepFailure struct {
	Step string
	Err  error
}

// DerivationError reports that the entity is durable but one or more
// derivation steps failed. Other steps still ran.
type DerivationError struct {
	Kind     common.EntityKind
	ID       string
	Failures []StepFailure
}

func (e *DerivationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	return fmt.Sprintf("derivation for %s %q failed in %d step(s): %s",
		e.Kind, e.ID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *DerivationError) Unwrap() error { return ErrPartialDerivation }

// FailedSteps lists the names of the failed steps.
func (e *DerivationError) FailedSteps() []string {
	steps := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, f.Step)
	}
	return steps
}

// KindOf classifies err. A nil error has an empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var we *WriteError
	switch {
	case errors.Is(err, ErrInvalidEntity):
		return KindInvalidEntity
	case errors.As(err, &we):
		return KindStoreUnavailable
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPartialDerivation):
		return KindPartialDerivation
	case errors.Is(err, ErrDanglingReference):
		return KindDanglingReference
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindInternal
	}
}

// Persisted reports whether an upsert that returned err left the entity
// durable in the store.
func Persisted(err error) bool {
	if err == nil {
		return true
	}
	var we *WriteError
	if errors.As(err, &we) || errors.Is(err, ErrInvalidEntity) {
		return false
	}
	return true
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func invalidEntity(kind common.EntityKind, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidEntity, kind, err)
}

package story

import (
	"errors"
	"fmt"
)

// Predefined error values. Callers match with errors.Is.
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateProgression  = errors.New("plot progression already recorded")
	ErrDuplicateRelationship = errors.New("relationship already exists")
	ErrThreadTerminal        = errors.New("plot thread is resolved or abandoned")
	ErrMissingEntity         = errors.New("required entity missing from store")
	ErrStoryComplete         = errors.New("story is complete, no further mutation allowed")
	ErrInvalidInput          = errors.New("invalid input")
)

// StageError reports a failure at a specific pipeline stage and scene
// coordinate, so a failed run can say exactly where it stopped and what is
// recoverable from the store.
type StageError struct {
	Stage      string
	Coordinate Coordinate
	Cause      error
}

func (e *StageError) Error() string {
	if e.Coordinate.Chapter > 0 {
		return fmt.Sprintf("stage %s failed at %s: %v", e.Stage, e.Coordinate, e.Cause)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError wraps cause with stage and coordinate context.
func NewStageError(stage string, at Coordinate, cause error) *StageError {
	return &StageError{Stage: stage, Coordinate: at, Cause: cause}
}

// MissingEntity builds an ErrMissingEntity with context about which
// reference could not be satisfied.
func MissingEntity(kind, slug string) error {
	return fmt.Errorf("%s %q: %w", kind, slug, ErrMissingEntity)
}

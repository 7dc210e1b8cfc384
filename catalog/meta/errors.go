package meta

import (
	"fmt"
	"strings"

	"github.com/teranos/datacat/errors"
)

// DuplicateError reports a submission whose URL is already in the catalog.
type DuplicateError struct {
	Key       string
	HumanName string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("A dataset with that URL has already been loaded: '%s'", e.HumanName)
}

// Unwrap lets errors.Is(err, errors.ErrConflict) match.
func (e *DuplicateError) Unwrap() error {
	return errors.ErrConflict
}

// ValidationError lists every problem found in a submission.
// It is marked with errors.ErrInvalidRequest when returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// problems accumulates validation failures.
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return errors.Mark(&ValidationError{Problems: p}, errors.ErrInvalidRequest)
}

// Problems extracts the validation messages from err, or nil when err is not a validation failure.
func Problems(err error) []string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Problems
	}
	return nil
}

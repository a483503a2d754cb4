package collector

import (
	"errors"
	"fmt"
)

// ErrSourceUnavailable matches every SourceError.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceError reports that the upstream could not be reached or a batch could
// not be read. It aborts the run.
type SourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source unavailable: %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSourceUnavailable) match.
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

func sourceError(source, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Source: source, Op: op, Err: err}
}

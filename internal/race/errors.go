package race

import (
	"errors"
	"fmt"
)

// FetchError is the only failure kind the coordinator knows about.
// It always names the source whose attempt failed.
type FetchError struct {
	Source  SourceID
	Attempt int // 1-based attempt number for Source
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s (attempt %d) failed", e.Source, e.Attempt)
	}
	return fmt.Sprintf("fetch %s (attempt %d): %v", e.Source, e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError is a convenience for Fetcher implementations.
func NewFetchError(source SourceID, err error) error {
	return &FetchError{Source: source, Err: err}
}

// AsFetchError extracts a *FetchError from err's chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// attribute pins a fetch failure to the attempt that produced it. A
// collaborator may return any error, or a FetchError naming another source;
// either way the result is a FetchError for the attempt's own source.
func attribute(source SourceID, attempt int, err error) *FetchError {
	if err == nil {
		err = errors.New("fetch returned no artifact and no error")
	}
	if fe, ok := AsFetchError(err); ok && fe.Source == source {
		cp := *fe
		cp.Attempt = attempt
		return &cp
	}
	return &FetchError{Source: source, Attempt: attempt, Err: err}
}

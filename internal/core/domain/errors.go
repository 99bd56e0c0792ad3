package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is the only hard failure surfaced to callers.
	ErrInvalidQuery = errors.New("invalid query")

	// Recovered locally: a retriever that fails contributes an empty list.
	ErrRetrieverTimeout     = errors.New("retriever timeout")
	ErrRetrieverUnavailable = errors.New("retriever unavailable")

	// Recovered locally: the affected stage is skipped with truncation.
	ErrRerankerUnavailable = errors.New("reranker unavailable")

	// ErrNoCandidates means every retriever came back empty. Surfaced as an
	// empty result set with a diagnostic reason, not as a request failure.
	ErrNoCandidates = errors.New("no candidates")

	// ErrDeadlineExceeded flags a partial ranking taken from the last fully
	// completed stage.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	ErrTemporary = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

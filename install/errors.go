package install

import "errors"

var (
	// ErrRetriesExhausted is returned when every attempt failed with a
	// retryable error. The last attempt's error is also wrapped.
	ErrRetriesExhausted = errors.New("install: retries exhausted")

	// ErrDigestMismatch is returned when downloaded bytes do not match the
	// descriptor's content hash.
	ErrDigestMismatch = errors.New("install: digest mismatch")

	// ErrInvalidDescriptor is returned when a descriptor cannot be
	// installed as given.
	ErrInvalidDescriptor = errors.New("install: invalid descriptor")
)

package document

import "errors"

var (
	// ErrIDNotResolvable is returned when no document id can be derived from the input.
	ErrIDNotResolvable = errors.New("document id not resolvable")

	// ErrFetchFailed wraps every failure of the document source.
	ErrFetchFailed = errors.New("document fetch failed")
)

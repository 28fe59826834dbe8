// Package apperr defines the error kinds shared by the service layers.
//
// Components attach a kind by wrapping it alongside the cause:
//
//	fmt.Errorf("%w: transcribe audio: %w", apperr.ErrUpstream, err)
//
// and the HTTP layer maps kinds to status codes with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrBadRequest         = errors.New("bad request")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUpstream           = errors.New("upstream error")
	ErrStorage            = errors.New("storage error")
)

var kinds = []error{
	ErrUnauthenticated,
	ErrBadRequest,
	ErrForbidden,
	ErrNotFound,
	ErrServiceUnavailable,
	ErrUpstream,
	ErrStorage,
}

// Kind returns the first error kind found in err's chain, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

package session

import (
	"errors"
	"fmt"

	"github.com/narrativa/dna-interview/internal/apperr"
	"github.com/narrativa/dna-interview/internal/storage"
)

// ErrNoCaller is returned when an operation is invoked without a caller id.
var ErrNoCaller = fmt.Errorf("%w: missing caller id", apperr.ErrUnauthenticated)

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperr.ErrStorage, op, err)
}

func lookupError(sessionID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, sessionID)
	}
	return storageError("get session", err)
}

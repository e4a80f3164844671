package process

import (
	"errors"
	"fmt"
)

// ErrUnauthorized rejects a trigger before any source is touched.
var ErrUnauthorized = errors.New("unauthorized")

// RegistryError means the active sources could not be enumerated. It aborts the run.
type RegistryError struct {
	Err error
}

func (e *RegistryError) Error() string { return fmt.Sprintf("source registry: %v", e.Err) }

func (e *RegistryError) Unwrap() error { return e.Err }

// PersistError is a failed write of a single item. Other items are still written.
type PersistError struct {
	GUID string
	Err  error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist %s: %v", e.GUID, e.Err) }

func (e *PersistError) Unwrap() error { return e.Err }

// IsFatal reports whether err stops a run rather than a single source or item.
func IsFatal(err error) bool {
	var regErr *RegistryError
	return errors.Is(err, ErrUnauthorized) || errors.As(err, &regErr)
}

package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScope is returned when an operation references a scope that does not exist (anymore), or when
	// a scope is added under a name that is already taken.
	ErrInvalidScope = errors.New("invalid cache scope")
	// ErrInvalidArgument is returned when a caller passes negative expiration or refresh ticks.
	ErrInvalidArgument = errors.New("invalid cache argument")
	// ErrInternal wraps unexpected failures of the store or other collaborators.
	ErrInternal = errors.New("internal cache error")
	// ErrNotFound is returned by Load when the recipe reports that there is no value for the key.
	ErrNotFound = errors.New("cache value not found")
)

func invalidScope(scope string) error {
	return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
}

// internalError wraps a store failure, leaving ErrInvalidScope untouched so that callers can still tell an
// unknown scope apart from a broken backend.
func internalError(op string, err error) error {
	if err == nil || errors.Is(err, ErrInvalidScope) || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// recovered converts a recovered panic value into an error.
func recovered(r any) error {
	if err, isErr := r.(error); isErr {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

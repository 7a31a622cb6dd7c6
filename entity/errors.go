// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity layer operations.
var (
	// ErrNotFound is returned when no entity exists for a (kind, id)
	// key on the requested branch.
	ErrNotFound = errors.New("entity not found")

	// ErrStale is returned when the latest-pointer compare-and-swap
	// lost: the pointer moved between the caller's read and its write.
	// Locally recoverable - re-read and retry with fresh state.
	ErrStale = errors.New("stale entity version")

	// ErrUnknownKind is returned when an entity carries a kind tag the
	// registry has no schema for.
	ErrUnknownKind = errors.New("unknown entity kind")
)

// ValidationError names the offending field of a malformed entity.
// Validation failures never partially persist.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

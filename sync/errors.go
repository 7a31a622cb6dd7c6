// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sync

import "errors"

var (
	// ErrInvalidInput is returned for a synchronization request with
	// no branches.
	ErrInvalidInput = errors.New("no branches to synchronize")

	// ErrUnknownStrategy is returned for a merge strategy name the
	// engine does not implement.
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package content

import "errors"

// Sentinel errors for object store operations.
var (
	// ErrNotFound is returned by Get when no object carries the
	// requested hash.
	ErrNotFound = errors.New("object not found")
)

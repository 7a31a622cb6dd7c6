// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package branch

import "errors"

var (
	// ErrAlreadyExists is returned when creating a branch whose name
	// is taken.
	ErrAlreadyExists = errors.New("branch already exists")

	// ErrNotFound is returned for operations on a branch that does
	// not exist.
	ErrNotFound = errors.New("branch not found")

	// ErrInvalidName is returned for branch names that would break
	// the key scheme: empty, or containing '/' or NUL.
	ErrInvalidName = errors.New("invalid branch name")

	// ErrProtected is returned when deleting the default branch or
	// the branch currently checked out.
	ErrProtected = errors.New("branch is protected")
)

// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "errors"

var (
	// ErrCyclePrevented is returned when creating an edge would close
	// a directed cycle and the edge's constraints forbid cycles.
	ErrCyclePrevented = errors.New("relationship would create a cycle")

	// ErrLimitExceeded is returned when an edge would exceed the
	// max_outbound or max_inbound cardinality declared for its type.
	ErrLimitExceeded = errors.New("relationship cardinality limit exceeded")

	// ErrAlreadyExists is returned when a caller-supplied relationship
	// ID collides with an existing edge.
	ErrAlreadyExists = errors.New("relationship already exists")

	// ErrUnknownAlgorithm is returned by FindPath for an algorithm
	// name other than bfs, dfs or dijkstra.
	ErrUnknownAlgorithm = errors.New("unknown traversal algorithm")
)

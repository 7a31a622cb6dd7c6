// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sync

import (
	"fmt"
	"strings"
)

// StrategyKind names a merge policy.
type StrategyKind string

const (
	// LatestWins keeps the version with the newest update timestamp.
	LatestWins StrategyKind = "latest_wins"

	// IntelligentMerge merges field-by-field against the last common
	// sync point; fields changed to different values on different
	// branches stay at the ancestor value and are reported.
	IntelligentMerge StrategyKind = "intelligent_merge"

	// MergeWithConflictResolution merges like IntelligentMerge, but
	// any field-level disagreement escalates the whole entity as a
	// conflict; nothing is chosen on the caller's behalf.
	MergeWithConflictResolution StrategyKind = "merge_with_conflict_resolution"

	// PriorityWins prefers versions authored by a named agent,
	// falling back to latest_wins when that agent wrote none of the
	// candidates.
	PriorityWins StrategyKind = "priority_wins"
)

// priorityPrefix is the wire form of PriorityWins: "priority_wins:<agent>".
const priorityPrefix = string(PriorityWins) + ":"

// Strategy is a parsed merge policy.
type Strategy struct {
	Kind StrategyKind

	// PriorityAgent is set only for PriorityWins.
	PriorityAgent string
}

// String renders the strategy in its wire form.
func (s Strategy) String() string {
	if s.Kind == PriorityWins {
		return priorityPrefix + s.PriorityAgent
	}
	return string(s.Kind)
}

// validate rejects strategies built by hand with an unrecognized kind
// or an incomplete priority form. ParseStrategy output always passes.
func (s Strategy) validate() error {
	switch s.Kind {
	case LatestWins, IntelligentMerge, MergeWithConflictResolution:
		return nil
	case PriorityWins:
		if s.PriorityAgent == "" {
			return fmt.Errorf("priority_wins needs an agent: %w", ErrUnknownStrategy)
		}
		return nil
	}
	return fmt.Errorf("%q: %w", s.Kind, ErrUnknownStrategy)
}

// ParseStrategy maps a user-supplied strategy name to a Strategy.
// The empty string defaults to latest_wins.
func ParseStrategy(name string) (Strategy, error) {
	switch StrategyKind(name) {
	case "", LatestWins:
		return Strategy{Kind: LatestWins}, nil
	case IntelligentMerge:
		return Strategy{Kind: IntelligentMerge}, nil
	case MergeWithConflictResolution:
		return Strategy{Kind: MergeWithConflictResolution}, nil
	}
	if agent, ok := strings.CutPrefix(name, priorityPrefix); ok {
		if agent == "" {
			return Strategy{}, fmt.Errorf("priority_wins needs an agent: %w", ErrUnknownStrategy)
		}
		return Strategy{Kind: PriorityWins, PriorityAgent: agent}, nil
	}
	return Strategy{}, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
}

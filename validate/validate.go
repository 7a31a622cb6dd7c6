// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate answers "is this task ready to commit against":
// a read-only audit that the task is live, in a working state, and
// linked to the reasoning and context records that justify the work.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/engramhq/engram/entity"
	"github.com/engramhq/engram/graph"
)

// Check is one audit line in a report.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of one commit-readiness audit. It never
// mutates anything: a failed report is advice, not an error.
type Report struct {
	Ref    entity.Ref `json:"ref"`
	Checks []Check    `json:"checks"`
}

// Passed reports whether every check held.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return len(r.Checks) > 0
}

// workingStatuses are the task states work may be committed from.
var workingStatuses = map[string]bool{
	"in_progress": true,
	"done":        true,
}

// Validator runs commit-readiness audits over one entity store.
type Validator struct {
	entities *entity.Store
	graph    *graph.Engine
	logger   *slog.Logger
}

// New wires a validator over the entity store and its graph engine.
func New(entities *entity.Store, g *graph.Engine, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{entities: entities, graph: g, logger: logger.With(slog.String("component", "validate"))}
}

// CommitReadiness audits one task on one branch.
//
// Description: checks that the task exists and is live, that its
// status permits committing, and that the graph links it to at least
// one reasoning record and one context record.
// Outputs: a Report; the error return is reserved for storage
// failures. A missing task is a failed check, not an error.
func (v *Validator) CommitReadiness(ctx context.Context, branch, taskID string) (*Report, error) {
	ref := entity.Ref{Kind: entity.KindTask, ID: taskID}
	report := &Report{Ref: ref}

	task, err := v.entities.Get(ctx, branch, entity.KindTask, taskID)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		report.Checks = append(report.Checks, Check{
			Name:   "task-exists",
			Detail: fmt.Sprintf("task %s not found on %s", taskID, branch),
		})
		return report, nil
	case err != nil:
		return nil, err
	case task.Deleted:
		report.Checks = append(report.Checks, Check{
			Name:   "task-exists",
			Detail: fmt.Sprintf("task %s is deleted", taskID),
		})
		return report, nil
	}
	report.Checks = append(report.Checks, Check{Name: "task-exists", OK: true})

	status, _ := task.Fields["status"].(string)
	if workingStatuses[status] {
		report.Checks = append(report.Checks, Check{Name: "task-status", OK: true})
	} else {
		report.Checks = append(report.Checks, Check{
			Name:   "task-status",
			Detail: fmt.Sprintf("status %q does not permit committing", status),
		})
	}

	neighbors, err := v.graph.Connected(ctx, branch, ref, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[entity.Kind]int)
	for _, n := range neighbors {
		counts[n.Kind]++
	}
	for _, want := range []struct {
		name string
		kind entity.Kind
	}{
		{"reasoning-linked", entity.KindReasoning},
		{"context-linked", entity.KindContext},
	} {
		if counts[want.kind] > 0 {
			report.Checks = append(report.Checks, Check{Name: want.name, OK: true})
			continue
		}
		report.Checks = append(report.Checks, Check{
			Name:   want.name,
			Detail: fmt.Sprintf("task has no relationship to a %s entity", want.kind),
		})
	}

	v.logger.Debug("commit readiness audited",
		slog.String("task", taskID),
		slog.String("branch", branch),
		slog.Bool("passed", report.Passed()))
	return report, nil
}

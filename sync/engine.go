// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sync reconciles divergent branches. Every entity version is
// immutable and content-addressed, so synchronization is pointer
// arithmetic: decide a winning hash per logical key, re-point every
// branch at it, and record the new common base.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/engramhq/engram/content"
	"github.com/engramhq/engram/entity"
	"github.com/engramhq/engram/graph"
)

// Conflict reports one disagreement the strategy could not resolve.
// Conflicts are values, not errors: a sync pass that surfaces them
// still succeeds, and everything it could merge is merged.
type Conflict struct {
	// Ref names the contested entity.
	Ref entity.Ref `json:"ref"`

	// Field is set for field-level conflicts under intelligent_merge;
	// empty means the whole entity is contested.
	Field string `json:"field,omitempty"`

	// Values maps branch name to that branch's value: the contested
	// field's value for field conflicts, the version hash otherwise.
	Values map[string]any `json:"values,omitempty"`

	// Reason says why the strategy stopped.
	Reason string `json:"reason"`
}

// Result summarizes one synchronization pass.
type Result struct {
	// Strategy is the wire form of the policy that ran.
	Strategy string `json:"strategy"`

	// Branches lists the participating branches, in request order.
	Branches []string `json:"branches"`

	// Merged counts logical keys whose pointer moved on at least one
	// branch.
	Merged int `json:"merged"`

	// InSync counts logical keys every branch already agreed on.
	InSync int `json:"in_sync"`

	// Conflicts holds everything left for the caller to resolve.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// NothingToSync is set when fewer than two distinct branches were
	// requested.
	NothingToSync bool `json:"nothing_to_sync,omitempty"`
}

// Engine runs synchronization passes over the entity store.
//
// Thread Safety: safe for concurrent use. Pointer moves go through the
// store's compare-and-swap, so a branch that advances mid-pass makes
// the pass fail with entity.ErrStale instead of losing the write.
type Engine struct {
	entities *entity.Store
	logger   *slog.Logger
}

// NewEngine wires a synchronization engine over an entity store.
func NewEngine(entities *entity.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{entities: entities, logger: logger.With(slog.String("component", "sync"))}
}

// candidate is one distinct version of a logical key, with the
// branches currently pointing at it.
type candidate struct {
	hash     content.Hash
	ent      *entity.Entity
	branches []string
}

// decision is a resolved logical key: every branch will point at hash.
type decision struct {
	ref  entity.Ref
	hash content.Hash

	// ent is set when the merge synthesized a version no branch holds
	// yet; its object must be stored before pointers move.
	ent *entity.Entity
}

// Sync reconciles a set of branches under a merge strategy.
//
// Description: reads every branch's pointer table, resolves each
// logical key that diverges, re-validates merged relationships against
// graph constraints, then re-points all branches and advances the
// common sync base. Keys the strategy cannot resolve are reported as
// conflicts and left untouched on every branch.
// Inputs: the branches to reconcile and a parsed strategy.
// Outputs: a Result, ErrInvalidInput for an empty branch set, or
// ErrUnknownStrategy for a strategy no parser produced. A single
// branch is already consistent: the result reports NothingToSync and
// no error.
// Thread Safety: safe for concurrent use.
func (e *Engine) Sync(ctx context.Context, branches []string, strategy Strategy) (*Result, error) {
	started := time.Now()
	if err := strategy.validate(); err != nil {
		return nil, err
	}
	branches = dedupe(branches)
	if len(branches) == 0 {
		return nil, ErrInvalidInput
	}
	res := &Result{Strategy: strategy.String(), Branches: branches}
	if len(branches) == 1 {
		res.NothingToSync = true
		return res, nil
	}

	state, err := e.collect(ctx, branches)
	if err != nil {
		return nil, err
	}

	var decisions []decision
	for _, ref := range sortedRefs(state) {
		byBranch := state[ref]

		agreed, h := allAgree(branches, byBranch)
		if agreed {
			if err := e.entities.SetSyncBase(ctx, ref, h); err != nil {
				return nil, err
			}
			res.InSync++
			continue
		}

		ancestor, err := e.ancestor(ctx, ref)
		if err != nil {
			return nil, err
		}
		cands, err := e.candidates(ctx, branches, byBranch)
		if err != nil {
			return nil, err
		}

		d, conflicts, err := e.resolve(ref, strategy, ancestor, cands)
		if err != nil {
			return nil, err
		}
		res.Conflicts = append(res.Conflicts, conflicts...)
		if d != nil {
			decisions = append(decisions, *d)
		}
	}

	decisions, edgeConflicts, err := e.checkMergedGraph(ctx, branches, state, decisions)
	if err != nil {
		return nil, err
	}
	res.Conflicts = append(res.Conflicts, edgeConflicts...)

	for _, d := range decisions {
		if err := e.apply(ctx, branches, state, d); err != nil {
			return nil, err
		}
		res.Merged++
	}
	recordSync(ctx, strategy.String(), res.Merged, len(res.Conflicts), time.Since(started))

	e.logger.Info("synchronization pass complete",
		slog.String("strategy", res.Strategy),
		slog.Int("branches", len(branches)),
		slog.Int("merged", res.Merged),
		slog.Int("in_sync", res.InSync),
		slog.Int("conflicts", len(res.Conflicts)))
	return res, nil
}

// collect reads every branch's pointer table in one pass per branch.
// The result maps each logical key to the hash each branch points at;
// branches without the key are absent.
func (e *Engine) collect(ctx context.Context, branches []string) (map[entity.Ref]map[string]content.Hash, error) {
	state := make(map[entity.Ref]map[string]content.Hash)
	for _, b := range branches {
		heads, err := e.entities.List(ctx, b, "")
		if err != nil {
			return nil, err
		}
		for _, h := range heads {
			if state[h.Ref] == nil {
				state[h.Ref] = make(map[string]content.Hash)
			}
			state[h.Ref][b] = h.Hash
		}
	}
	return state, nil
}

// ancestor loads the last common sync point's version, nil when the
// key has never been synchronized.
func (e *Engine) ancestor(ctx context.Context, ref entity.Ref) (*entity.Entity, error) {
	h, err := e.entities.SyncBase(ctx, ref)
	if err != nil || h == "" {
		return nil, err
	}
	return e.entities.GetByHash(ctx, h)
}

// candidates groups the distinct versions of one key, each with the
// branches pointing at it, ordered by first appearance in the branch
// list so resolution is deterministic.
func (e *Engine) candidates(ctx context.Context, branches []string, byBranch map[string]content.Hash) ([]*candidate, error) {
	index := make(map[content.Hash]*candidate)
	var cands []*candidate
	for _, b := range branches {
		h, ok := byBranch[b]
		if !ok {
			continue
		}
		if c := index[h]; c != nil {
			c.branches = append(c.branches, b)
			continue
		}
		ent, err := e.entities.GetByHash(ctx, h)
		if err != nil {
			return nil, err
		}
		c := &candidate{hash: h, ent: ent, branches: []string{b}}
		index[h] = c
		cands = append(cands, c)
	}
	return cands, nil
}

// resolve decides one diverged key under the strategy. At most one of
// the decision and the conflicts is non-empty, except intelligent
// merge, which can both decide and report field conflicts.
func (e *Engine) resolve(ref entity.Ref, strategy Strategy, ancestor *entity.Entity, cands []*candidate) (*decision, []Conflict, error) {
	ancestorHash := content.Hash("")
	if ancestor != nil {
		var err error
		ancestorHash, err = ancestor.ContentHash()
		if err != nil {
			return nil, nil, err
		}
	}

	// Versions still at the ancestor are not contenders; a branch that
	// did not touch the key accepts whatever the others decide.
	var changed []*candidate
	for _, c := range cands {
		if c.hash != ancestorHash {
			changed = append(changed, c)
		}
	}

	switch {
	case len(changed) == 0:
		// Every pointing branch is at the ancestor; the remaining
		// branches are simply missing the key. Fast-forward them.
		return &decision{ref: ref, hash: ancestorHash}, nil, nil
	case len(changed) == 1:
		return &decision{ref: ref, hash: changed[0].hash}, nil, nil
	}

	switch strategy.Kind {
	case LatestWins:
		return &decision{ref: ref, hash: latestOf(changed).hash}, nil, nil
	case PriorityWins:
		return &decision{ref: ref, hash: priorityOf(changed, strategy.PriorityAgent).hash}, nil, nil
	case MergeWithConflictResolution:
		d, conflicts, err := e.intelligentMerge(ref, ancestor, changed)
		if err != nil {
			return nil, nil, err
		}
		// Disjoint edits merge exactly as under intelligent_merge; any
		// field-level disagreement escalates the whole entity instead
		// of holding contested fields at the ancestor.
		if len(conflicts) > 0 {
			return nil, []Conflict{wholeEntityConflict(ref, changed, "field-level disagreement; resolution deferred to caller")}, nil
		}
		return d, nil, nil
	case IntelligentMerge:
		return e.intelligentMerge(ref, ancestor, changed)
	default:
		return nil, nil, fmt.Errorf("%q: %w", strategy.Kind, ErrUnknownStrategy)
	}
}

// latestOf picks the newest candidate. Ties break to the
// lexicographically smallest agent name, then the smallest hash, so
// every replica picks the same winner.
func latestOf(cands []*candidate) *candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.ent.UpdatedAt.After(best.ent.UpdatedAt):
			best = c
		case c.ent.UpdatedAt.Equal(best.ent.UpdatedAt):
			if c.ent.Agent < best.ent.Agent ||
				(c.ent.Agent == best.ent.Agent && c.hash < best.hash) {
				best = c
			}
		}
	}
	return best
}

// priorityOf prefers versions authored by the priority agent, newest
// first; when that agent wrote none of them it degrades to latestOf.
func priorityOf(cands []*candidate, agent string) *candidate {
	var authored []*candidate
	for _, c := range cands {
		if c.ent.Agent == agent {
			authored = append(authored, c)
		}
	}
	if len(authored) > 0 {
		return latestOf(authored)
	}
	return latestOf(cands)
}

// intelligentMerge merges field-by-field against the ancestor. Fields
// changed on one side only take the change; fields changed to
// different values on different sides stay at the ancestor value and
// are reported per field. A tombstone racing an edit is never merged
// silently: the whole entity escalates.
func (e *Engine) intelligentMerge(ref entity.Ref, ancestor *entity.Entity, changed []*candidate) (*decision, []Conflict, error) {
	deleted, edited := 0, 0
	for _, c := range changed {
		if c.ent.Deleted {
			deleted++
		} else {
			edited++
		}
	}
	if deleted > 0 && edited > 0 {
		return nil, []Conflict{wholeEntityConflict(ref, changed, "deleted on one branch, modified on another")}, nil
	}
	if deleted == len(changed) {
		return &decision{ref: ref, hash: latestOf(changed).hash}, nil, nil
	}

	base := map[string]any{}
	if ancestor != nil && !ancestor.Deleted {
		base = ancestor.Fields
	}

	keys := make(map[string]bool)
	for k := range base {
		keys[k] = true
	}
	for _, c := range changed {
		for k := range c.ent.Fields {
			keys[k] = true
		}
	}

	merged := make(map[string]any, len(keys))
	var conflicts []Conflict
	for _, k := range sortedKeys(keys) {
		baseVal, inBase := base[k]

		// Distinct new values for this field, and who wrote them. A
		// removed field is its own kind of change, distinct from a
		// field set to null.
		type fieldVal struct {
			v       any
			present bool
		}
		var vals []fieldVal
		writers := make(map[string]any)
		for _, c := range changed {
			v, ok := c.ent.Fields[k]
			if sameValue(v, ok, baseVal, inBase) {
				continue
			}
			dup := false
			for _, seen := range vals {
				if sameValue(seen.v, seen.present, v, ok) {
					dup = true
					break
				}
			}
			if !dup {
				vals = append(vals, fieldVal{v: v, present: ok})
			}
			writers[c.branches[0]] = v
		}

		switch len(vals) {
		case 0:
			if inBase {
				merged[k] = baseVal
			}
		case 1:
			// One side changed it; field removal carries too.
			if vals[0].present {
				merged[k] = vals[0].v
			}
		default:
			if inBase {
				merged[k] = baseVal
			}
			conflicts = append(conflicts, Conflict{
				Ref:    ref,
				Field:  k,
				Values: writers,
				Reason: "field changed to different values",
			})
		}
	}

	latest := latestOf(changed)
	out := &entity.Entity{
		Kind:      ref.Kind,
		ID:        ref.ID,
		Agent:     latest.ent.Agent,
		CreatedAt: earliestCreation(ancestor, changed),
		UpdatedAt: latest.ent.UpdatedAt,
		Fields:    merged,
	}
	if err := e.entities.Registry().ValidateEntity(out); err != nil {
		return nil, []Conflict{wholeEntityConflict(ref, changed, "merged fields do not satisfy the kind schema: "+err.Error())}, nil
	}
	h, err := out.ContentHash()
	if err != nil {
		return nil, nil, err
	}

	// The synthesis can land exactly on an existing version.
	d := &decision{ref: ref, hash: h, ent: out}
	for _, c := range changed {
		if c.hash == h {
			d.ent = nil
			break
		}
	}
	return d, conflicts, nil
}

// checkMergedGraph re-validates relationship constraints against the
// graph as it will exist after the pass: decided versions plus every
// edge the branches already agree on. Decisions whose edge violates a
// constraint in the merged graph are withdrawn and reported.
func (e *Engine) checkMergedGraph(ctx context.Context, branches []string, state map[entity.Ref]map[string]content.Hash, decisions []decision) ([]decision, []Conflict, error) {
	decided := make(map[entity.Ref]content.Hash, len(decisions))
	for _, d := range decisions {
		decided[d.ref] = d.hash
	}

	var edges []*graph.Relationship
	decidedEdge := make(map[string]entity.Ref)
	load := func(ref entity.Ref, h content.Hash, fromDecision bool) error {
		ent, err := e.entities.GetByHash(ctx, h)
		if err != nil {
			return err
		}
		if ent.Deleted {
			return nil
		}
		r, err := graph.FromEntity(ent)
		if err != nil {
			return err
		}
		edges = append(edges, r)
		if fromDecision {
			decidedEdge[r.ID] = ref
		}
		return nil
	}

	for _, ref := range sortedRefs(state) {
		if ref.Kind != entity.KindRelationship {
			continue
		}
		if h, ok := decided[ref]; ok {
			if err := load(ref, h, true); err != nil {
				return nil, nil, err
			}
			continue
		}
		if agreed, h := allAgree(branches, state[ref]); agreed {
			if err := load(ref, h, false); err != nil {
				return nil, nil, err
			}
		}
	}

	bad := make(map[entity.Ref]string)
	for _, v := range graph.CheckSet(edges) {
		if ref, ok := decidedEdge[v.Edge.ID]; ok {
			bad[ref] = v.Err.Error()
		}
	}
	if len(bad) == 0 {
		return decisions, nil, nil
	}

	kept := decisions[:0]
	var conflicts []Conflict
	for _, d := range decisions {
		if reason, ok := bad[d.ref]; ok {
			conflicts = append(conflicts, Conflict{
				Ref:    d.ref,
				Reason: "merged graph violates relationship constraints: " + reason,
			})
			continue
		}
		kept = append(kept, d)
	}
	return kept, conflicts, nil
}

// apply re-points every branch at the decided hash and advances the
// sync base. Synthesized versions are stored first so pointers never
// dangle.
func (e *Engine) apply(ctx context.Context, branches []string, state map[entity.Ref]map[string]content.Hash, d decision) error {
	if d.ent != nil {
		data, err := d.ent.Canonical()
		if err != nil {
			return err
		}
		if _, err := e.entities.Objects().Put(ctx, data); err != nil {
			return err
		}
	}
	for _, b := range branches {
		cur := state[d.ref][b]
		if cur == d.hash {
			continue
		}
		if err := e.entities.Repoint(ctx, b, d.ref, cur, d.hash); err != nil {
			return err
		}
	}
	return e.entities.SetSyncBase(ctx, d.ref, d.hash)
}

func wholeEntityConflict(ref entity.Ref, cands []*candidate, reason string) Conflict {
	values := make(map[string]any, len(cands))
	for _, c := range cands {
		for _, b := range c.branches {
			values[b] = string(c.hash)
		}
	}
	return Conflict{Ref: ref, Values: values, Reason: reason}
}

// allAgree reports whether every branch points at the same hash, and
// which one.
func allAgree(branches []string, byBranch map[string]content.Hash) (bool, content.Hash) {
	if len(byBranch) != len(branches) {
		return false, ""
	}
	var h content.Hash
	for _, cur := range byBranch {
		if h == "" {
			h = cur
		} else if cur != h {
			return false, ""
		}
	}
	return true, h
}

// sameValue compares two optional field values by canonical JSON.
func sameValue(a any, aOK bool, b any, bOK bool) bool {
	if aOK != bOK {
		return false
	}
	if !aOK {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func earliestCreation(ancestor *entity.Entity, cands []*candidate) time.Time {
	var earliest time.Time
	if ancestor != nil {
		earliest = ancestor.CreatedAt
	}
	for _, c := range cands {
		if earliest.IsZero() || c.ent.CreatedAt.Before(earliest) {
			earliest = c.ent.CreatedAt
		}
	}
	return earliest
}

func sortedRefs(state map[entity.Ref]map[string]content.Hash) []entity.Ref {
	refs := make([]entity.Ref, 0, len(state))
	for ref := range state {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	return refs
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(branches []string) []string {
	seen := make(map[string]bool, len(branches))
	var out []string
	for _, b := range branches {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

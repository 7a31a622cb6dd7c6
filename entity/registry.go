// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for payload schemas.
// Field names in errors come from json tags, not Go field names.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Payload schemas for the built-in kinds. A schema is validated with
// go-playground/validator tags after decoding the entity's field map.
// Unknown payload fields are preserved as-is; the schema constrains
// only the fields it names.

// TaskPayload is the schema for task entities.
type TaskPayload struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty" validate:"omitempty,oneof=todo in_progress blocked done cancelled"`
	Priority    string   `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ContextPayload is the schema for context entities.
type ContextPayload struct {
	Summary string   `json:"summary" validate:"required"`
	Scope   string   `json:"scope,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

// ReasoningPayload is the schema for reasoning entities.
type ReasoningPayload struct {
	Question   string  `json:"question" validate:"required"`
	Conclusion string  `json:"conclusion,omitempty"`
	Confidence float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// KnowledgePayload is the schema for knowledge entities.
type KnowledgePayload struct {
	Title   string   `json:"title" validate:"required"`
	Content string   `json:"content" validate:"required"`
	Tags    []string `json:"tags,omitempty"`
}

// SessionPayload is the schema for session entities.
type SessionPayload struct {
	Name   string `json:"name" validate:"required"`
	Status string `json:"status,omitempty" validate:"omitempty,oneof=active paused ended"`
}

// CompliancePayload is the schema for compliance record entities.
type CompliancePayload struct {
	Requirement string `json:"requirement" validate:"required"`
	Outcome     string `json:"outcome,omitempty" validate:"omitempty,oneof=pass fail waived"`
	Evidence    string `json:"evidence,omitempty"`
}

// RulePayload is the schema for rule entities.
type RulePayload struct {
	Name      string `json:"name" validate:"required"`
	Condition string `json:"condition" validate:"required"`
	Action    string `json:"action" validate:"required"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// StandardPayload is the schema for standard entities.
type StandardPayload struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version,omitempty"`
	Body    string `json:"body,omitempty"`
}

// DecisionPayload is the schema for decision record entities.
type DecisionPayload struct {
	Title   string `json:"title" validate:"required"`
	Status  string `json:"status,omitempty" validate:"omitempty,oneof=proposed accepted rejected superseded"`
	Context string `json:"context,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// WorkflowPayload is the schema for workflow entities.
type WorkflowPayload struct {
	Name  string   `json:"name" validate:"required"`
	Steps []string `json:"steps,omitempty" validate:"omitempty,min=1,dive,required"`
}

// RelationshipPayload is the schema for relationship entities. The
// graph package owns the richer typed view; this schema is what the
// storage path enforces for any relationship write, including bulk
// import.
type RelationshipPayload struct {
	SourceKind string `json:"source_kind" validate:"required"`
	SourceID   string `json:"source_id" validate:"required"`
	TargetKind string `json:"target_kind" validate:"required"`
	TargetID   string `json:"target_id" validate:"required"`
	Type       string `json:"type" validate:"required"`
	Direction  string `json:"direction" validate:"required,oneof=unidirectional bidirectional"`
	Strength   string `json:"strength" validate:"required,oneof=weak medium strong critical"`
}

// Registry maps entity kinds to payload schemas. The built-in set is
// closed; custom kinds can be registered for pluggable record types.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Kind]func() any
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[Kind]func() any)}
	r.Register(KindTask, func() any { return &TaskPayload{} })
	r.Register(KindContext, func() any { return &ContextPayload{} })
	r.Register(KindReasoning, func() any { return &ReasoningPayload{} })
	r.Register(KindKnowledge, func() any { return &KnowledgePayload{} })
	r.Register(KindSession, func() any { return &SessionPayload{} })
	r.Register(KindCompliance, func() any { return &CompliancePayload{} })
	r.Register(KindRule, func() any { return &RulePayload{} })
	r.Register(KindStandard, func() any { return &StandardPayload{} })
	r.Register(KindDecision, func() any { return &DecisionPayload{} })
	r.Register(KindWorkflow, func() any { return &WorkflowPayload{} })
	r.Register(KindRelationship, func() any { return &RelationshipPayload{} })
	return r
}

// Register adds or replaces the schema for a kind. newPayload must
// return a pointer to a fresh schema struct.
func (r *Registry) Register(kind Kind, newPayload func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[kind] = newPayload
}

// Kinds lists the registered kinds.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.schemas))
	for k := range r.schemas {
		kinds = append(kinds, k)
	}
	return kinds
}

// ValidateEntity checks the envelope and the kind-specific payload.
//
// Outputs:
//
//	error - *ValidationError naming the offending field, or
//	ErrUnknownKind for an unregistered kind tag. nil when valid.
func (r *Registry) ValidateEntity(e *Entity) error {
	if e == nil {
		return &ValidationError{Field: "entity", Reason: "must not be nil"}
	}
	if e.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.ContainsAny(e.ID, "/\x00") {
		return &ValidationError{Field: "id", Reason: "must not contain '/' or NUL"}
	}
	if e.Agent == "" {
		return &ValidationError{Field: "agent", Reason: "must not be empty"}
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "timestamps must be set"}
	}
	if e.UpdatedAt.Before(e.CreatedAt) {
		return &ValidationError{Field: "updated_at", Reason: "must not precede created_at"}
	}

	r.mu.RLock()
	newPayload, ok := r.schemas[e.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("kind %q: %w", e.Kind, ErrUnknownKind)
	}

	// Tombstones skip payload validation: the payload was valid when
	// written and deletion must not be blocked by schema evolution.
	if e.Deleted {
		return nil
	}

	payload := newPayload()
	raw, err := json.Marshal(e.Fields)
	if err != nil {
		return &ValidationError{Field: "fields", Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return &ValidationError{Field: "fields", Reason: err.Error()}
	}

	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return &ValidationError{
				Field:  first.Field(),
				Reason: fmt.Sprintf("failed %q constraint", first.Tag()),
			}
		}
		return &ValidationError{Field: "fields", Reason: err.Error()}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

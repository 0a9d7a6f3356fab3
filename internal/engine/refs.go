package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/validation"
)

// RefPrefix помечает строку-ссылку на сущность, созданную другой операцией батча
const RefPrefix = "$ref:"

// ReferencedOperations returns ids of operations referenced by op via "$ref:<id>"
// in EntityID or anywhere in the payload
func ReferencedOperations(op *models.SyncOperation) []string {
	seen := make(map[string]bool)
	var refs []string

	add := func(s string) {
		if id, ok := strings.CutPrefix(s, RefPrefix); ok && id != "" && !seen[id] {
			seen[id] = true
			refs = append(refs, id)
		}
	}

	add(op.EntityID)

	if op.Kind != models.OperationDelete && len(op.Payload) > 0 {
		if fields, err := validation.DecodeObject(op.Payload); err == nil {
			walkStrings(fields, func(s string) string {
				add(s)
				return s
			})
		}
	}

	return refs
}

// withImplicitDependencies добавляет ссылки к зависимостям, чтобы сортировка
// и окна учитывали их так же, как явные зависимости
func withImplicitDependencies(op *models.SyncOperation) {
	refs := ReferencedOperations(op)
	if len(refs) == 0 {
		return
	}

	declared := make(map[string]bool, len(op.Dependencies))
	for _, dep := range op.Dependencies {
		declared[dep] = true
	}

	for _, ref := range refs {
		if !declared[ref] {
			op.Dependencies = append(op.Dependencies, ref)
		}
	}
}

// substituteRefs returns a copy of op with every "$ref:<id>" replaced by the id
// of the entity produced by operation <id>. The original op is left intact.
func substituteRefs(op *models.SyncOperation, produced map[string]*models.Entity) (*models.SyncOperation, error) {
	if len(ReferencedOperations(op)) == 0 {
		return op, nil
	}

	var missing string
	resolve := func(s string) string {
		id, ok := strings.CutPrefix(s, RefPrefix)
		if !ok || id == "" {
			return s
		}
		entity, ok := produced[id]
		if !ok || entity == nil {
			if missing == "" {
				missing = id
			}
			return s
		}
		return entity.ID
	}

	resolved := *op
	resolved.EntityID = resolve(op.EntityID)

	if op.Kind != models.OperationDelete && len(op.Payload) > 0 {
		fields, err := validation.DecodeObject(op.Payload)
		if err != nil {
			return nil, validation.Errorf("operation %s: %s", op.ID, err.Error())
		}

		payload, err := json.Marshal(walkStrings(fields, resolve))
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		resolved.Payload = payload
	}

	if missing != "" {
		return nil, fmt.Errorf("%w: reference to operation %s that produced no entity", ErrDependencyUnmet, missing)
	}

	return &resolved, nil
}

// walkStrings применяет fn ко всем строковым значениям JSON-дерева
func walkStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case map[string]any:
		for k, item := range t {
			t[k] = walkStrings(item, fn)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = walkStrings(item, fn)
		}
		return t
	default:
		return v
	}
}

// Package entity содержит обработчики синхронизируемых типов сущностей.
// Реестр строится один раз при старте и сопоставляет тип сущности с его обработчиком.
package entity

import (
	"context"
	"sort"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

// Handler validates and persists operations of one entity type.
// All writes happen inside the operation's own transaction.
type Handler interface {
	// EntityType returns the type name handled, e.g. "Trip"
	EntityType() string

	// Validate checks entity-specific payload fields
	Validate(op *models.SyncOperation) error

	// Create inserts a new entity built from op
	Create(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation) (*models.Entity, error)

	// Update applies op to current, failing with storage.ErrVersionMismatch
	// if current is no longer the stored version
	Update(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation, current *models.Entity) (*models.Entity, error)

	// Delete removes the entity and writes its tombstone
	Delete(ctx context.Context, tx storage.EntityTx, op *models.SyncOperation, expectedVersion int64) (*models.Tombstone, error)
}

// Registry maps entity type to its handler
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates registry from handlers. Later handlers replace earlier ones of the same type
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.EntityType()] = h
	}
	return r
}

// DefaultRegistry returns registry with all built-in entity types
func DefaultRegistry() *Registry {
	return NewRegistry(NewTripHandler(), NewMemoryHandler())
}

// Get returns handler for entity type
func (r *Registry) Get(entityType string) (Handler, bool) {
	h, ok := r.handlers[entityType]
	return h, ok
}

// Types returns registered entity types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

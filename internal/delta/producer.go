// Package delta формирует инкрементальную выгрузку изменений для клиента:
// сущности и удаления после его watermark плюс новый watermark.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/server/storage"
)

// DefaultTombstoneRetention сколько хранятся записи об удалениях
const DefaultTombstoneRetention = 90 * 24 * time.Hour

// ChangeReader reads one consistent change set
type ChangeReader interface {
	ReadChanges(ctx context.Context, ownerID string, since *time.Time) (*storage.ChangeSet, error)
}

// Delta изменения для одного клиента
type Delta struct {
	Watermark  time.Time                   // Watermark клиент присылает его в следующем запросе
	Entities   map[string][]*models.Entity // Entities по типам
	Deleted    map[string][]string         // Deleted id удаленных сущностей по типам
	FullResync bool                        // FullResync клиент должен заменить локальное состояние целиком
}

// Producer builds deltas from the entity store
type Producer struct {
	store     ChangeReader
	logger    *slog.Logger
	now       func() time.Time
	types     []string
	retention time.Duration
}

// NewProducer creates producer for the given tracked entity types.
// retention <= 0 disables the retention horizon check
func NewProducer(store ChangeReader, types []string, retention time.Duration, logger *slog.Logger) *Producer {
	return &Producer{
		store:     store,
		logger:    logger,
		now:       time.Now,
		types:     types,
		retention: retention,
	}
}

// Changes returns everything changed for ownerID after since (nil = full history)
func (p *Producer) Changes(ctx context.Context, ownerID string, since *time.Time) (*Delta, error) {
	fullResync := false

	// Удаления старше горизонта уже могли быть вычищены: дельта была бы неполной
	if since != nil && p.retention > 0 && since.Before(p.now().Add(-p.retention)) {
		p.logger.Info("Watermark is older than tombstone retention, sending full resync",
			"user_id", ownerID,
			"since", since.UTC())
		since = nil
		fullResync = true
	}

	changes, err := p.store.ReadChanges(ctx, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}

	// Watermark из будущего (битое состояние клиента) тоже лечится полной выгрузкой
	if since != nil && changes.Watermark.Before(*since) {
		p.logger.Warn("Watermark is ahead of the server, sending full resync",
			"user_id", ownerID,
			"since", since.UTC(),
			"watermark", changes.Watermark)
		fullResync = true
		changes, err = p.store.ReadChanges(ctx, ownerID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read changes: %w", err)
		}
	}

	return p.group(changes, fullResync), nil
}

func (p *Producer) group(changes *storage.ChangeSet, fullResync bool) *Delta {
	d := &Delta{
		Watermark:  changes.Watermark,
		Entities:   make(map[string][]*models.Entity, len(p.types)),
		Deleted:    make(map[string][]string, len(p.types)),
		FullResync: fullResync,
	}

	tracked := make(map[string]bool, len(p.types))
	for _, t := range p.types {
		tracked[t] = true
		d.Entities[t] = []*models.Entity{}
		d.Deleted[t] = []string{}
	}

	for _, e := range changes.Entities {
		if !tracked[e.Type] {
			continue
		}
		d.Entities[e.Type] = append(d.Entities[e.Type], e)
	}

	// При полной выгрузке удаления не нужны: клиент заменяет состояние целиком
	if fullResync {
		return d
	}

	for _, t := range changes.Tombstones {
		if !tracked[t.EntityType] {
			continue
		}
		d.Deleted[t.EntityType] = append(d.Deleted[t.EntityType], t.EntityID)
	}

	return d
}

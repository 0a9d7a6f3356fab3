package engine

import (
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/validation"
)

// SortOperations orders ops so that every operation comes after the in-batch
// operations it depends on. Independent operations keep submission order.
// Dependencies on ids outside the batch are ignored here.
func SortOperations(ops []*models.SyncOperation) ([]*models.SyncOperation, error) {
	byID := make(map[string]*models.SyncOperation, len(ops))
	for _, op := range ops {
		if _, dup := byID[op.ID]; dup {
			return nil, validation.Errorf("duplicate operation id %q", op.ID)
		}
		byID[op.ID] = op
	}

	sorted := make([]*models.SyncOperation, 0, len(ops))
	done := make(map[string]bool, len(ops))
	visiting := make(map[string]bool)
	var path []string

	var visit func(op *models.SyncOperation) error
	visit = func(op *models.SyncOperation) error {
		if done[op.ID] {
			return nil
		}
		if visiting[op.ID] {
			return &CyclicDependencyError{OperationID: op.ID, Path: cyclePath(path, op.ID)}
		}

		visiting[op.ID] = true
		path = append(path, op.ID)

		for _, depID := range op.Dependencies {
			dep, inBatch := byID[depID]
			if !inBatch {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		visiting[op.ID] = false
		done[op.ID] = true
		sorted = append(sorted, op)

		return nil
	}

	for _, op := range ops {
		if err := visit(op); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

// cyclePath вырезает из стека обхода участок, образующий цикл
func cyclePath(path []string, id string) []string {
	for i, p := range path {
		if p == id {
			cycle := make([]string, 0, len(path)-i+1)
			cycle = append(cycle, path[i:]...)
			return append(cycle, id)
		}
	}
	return []string{id}
}

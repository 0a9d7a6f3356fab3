package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/validation"
)

// ExternalDependencyPolicy как трактовать зависимости на операции вне батча
type ExternalDependencyPolicy string

const (
	// ExternalTrust считает внешние зависимости выполненными
	ExternalTrust ExternalDependencyPolicy = "trust"
	// ExternalVerify требует существования сущности с таким id у владельца
	ExternalVerify ExternalDependencyPolicy = "verify"
)

// Valid reports whether p is a known policy
func (p ExternalDependencyPolicy) Valid() bool {
	return p == ExternalTrust || p == ExternalVerify
}

// Defaults for batch execution
const (
	DefaultConcurrency = 10
	DefaultTimeout     = 30 * time.Second
	DefaultMaxInFlight = 100
)

// Options управляет исполнением одного батча
type Options struct {
	ExternalDeps   ExternalDependencyPolicy
	Concurrency    int           // Concurrency размер окна и предел параллельных операций
	Timeout        time.Duration // Timeout на одну операцию
	SkipValidation bool
}

// ExistenceChecker проверяет внешние зависимости в режиме verify
type ExistenceChecker interface {
	EntityExists(ctx context.Context, ownerID, id string) (bool, error)
}

// BatchResult результат исполнения батча
type BatchResult struct {
	Results   []*models.OperationResult // Results в порядке исполнения (после сортировки)
	Succeeded int
	Failed    int
	Windows   int
	Duration  time.Duration
}

// Executor applies a sorted batch in bounded concurrent windows
type Executor struct {
	applier  Applier
	verifier ExistenceChecker
	logger   *slog.Logger
	now      func() time.Time
	inFlight *semaphore.Weighted // inFlight nil - без общего предела
}

// ExecutorOption настраивает Executor
type ExecutorOption func(*Executor)

// WithMaxInFlight ограничивает число Apply, выполняющихся одновременно во всех батчах,
// включая записи, переждавшие свой таймаут. n <= 0 снимает ограничение
func WithMaxInFlight(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.inFlight = semaphore.NewWeighted(int64(n))
		} else {
			e.inFlight = nil
		}
	}
}

// NewExecutor creates executor. verifier may be nil when the verify policy is never used
func NewExecutor(applier Applier, verifier ExistenceChecker, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		applier:  applier,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs sorted operations. Failure of one operation never stops the others,
// its dependents fail with DEPENDENCY_UNMET.
func (e *Executor) Execute(ctx context.Context, sorted []*models.SyncOperation, opts Options) *BatchResult {
	start := e.now()

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ExternalDeps == "" {
		opts.ExternalDeps = ExternalTrust
	}

	inBatch := make(map[string]bool, len(sorted))
	for _, op := range sorted {
		inBatch[op.ID] = true
	}

	// produced пишется только между окнами, внутри окна только читается
	produced := make(map[string]*models.Entity, len(sorted))
	// Слоты общие для всех окон: запись, переждавшая таймаут, держит свой слот до возврата Apply
	slots := semaphore.NewWeighted(int64(opts.Concurrency))
	result := &BatchResult{Results: make([]*models.OperationResult, 0, len(sorted))}

	for _, window := range planWindows(sorted, opts.Concurrency) {
		results := make([]*models.OperationResult, len(window))

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i, op := range window {
			g.Go(func() error {
				results[i] = e.run(ctx, slots, op, produced, inBatch, opts)
				return nil
			})
		}
		_ = g.Wait()

		for i, r := range results {
			if r.Succeeded() {
				produced[window[i].ID] = r.Entity
				result.Succeeded++
			} else {
				result.Failed++
			}
		}

		result.Results = append(result.Results, results...)
		result.Windows++
	}

	result.Duration = e.now().Sub(start)

	return result
}

// planWindows режет последовательность на окна размера не больше size.
// Окно закрывается раньше, если следующая операция зависит от операции текущего окна.
func planWindows(sorted []*models.SyncOperation, size int) [][]*models.SyncOperation {
	var windows [][]*models.SyncOperation
	var current []*models.SyncOperation
	inCurrent := make(map[string]bool)

	for _, op := range sorted {
		if len(current) == size || dependsOnAny(op, inCurrent) {
			windows = append(windows, current)
			current = nil
			inCurrent = make(map[string]bool)
		}
		current = append(current, op)
		inCurrent[op.ID] = true
	}

	if len(current) > 0 {
		windows = append(windows, current)
	}

	return windows
}

func dependsOnAny(op *models.SyncOperation, ids map[string]bool) bool {
	for _, dep := range op.Dependencies {
		if ids[dep] {
			return true
		}
	}
	return false
}

// run исполняет одну операцию и всегда возвращает результат
func (e *Executor) run(
	ctx context.Context,
	slots *semaphore.Weighted,
	op *models.SyncOperation,
	produced map[string]*models.Entity,
	inBatch map[string]bool,
	opts Options,
) *models.OperationResult {
	start := e.now()
	result := &models.OperationResult{OperationID: op.ID}

	entity, err := e.apply(ctx, slots, op, produced, inBatch, opts)
	result.Duration = e.now().Sub(start)

	if err != nil {
		result.Err = classify(op.ID, err)
		e.logger.Debug("Operation failed",
			"operation_id", op.ID,
			"kind", op.Kind,
			"entity_type", op.EntityType,
			"code", CodeOf(result.Err),
			"error", err)
		return result
	}

	result.Entity = entity
	return result
}

func (e *Executor) apply(
	ctx context.Context,
	slots *semaphore.Weighted,
	op *models.SyncOperation,
	produced map[string]*models.Entity,
	inBatch map[string]bool,
	opts Options,
) (*models.Entity, error) {
	if err := e.checkDependencies(ctx, op, produced, inBatch, opts.ExternalDeps); err != nil {
		return nil, err
	}

	resolved, err := substituteRefs(op, produced)
	if err != nil {
		if errors.Is(err, ErrDependencyUnmet) {
			return nil, newOpError(CodeDependencyUnmet, op.ID, err)
		}
		return nil, err
	}

	if !opts.SkipValidation {
		if err := e.applier.Validate(resolved); err != nil {
			return nil, newOpError(CodeValidation, op.ID, err)
		}
	}

	return e.applyWithTimeout(ctx, slots, resolved, opts.Timeout)
}

func (e *Executor) checkDependencies(
	ctx context.Context,
	op *models.SyncOperation,
	produced map[string]*models.Entity,
	inBatch map[string]bool,
	policy ExternalDependencyPolicy,
) error {
	for _, dep := range op.Dependencies {
		if inBatch[dep] {
			if _, ok := produced[dep]; !ok {
				return newOpError(CodeDependencyUnmet, op.ID, fmt.Errorf("dependency %s did not succeed", dep))
			}
			continue
		}

		if policy != ExternalVerify {
			continue
		}
		if e.verifier == nil {
			return newOpError(CodeStorage, op.ID, errors.New("external dependency verification is not configured"))
		}

		exists, err := e.verifier.EntityExists(ctx, op.OwnerID, dep)
		if err != nil {
			return newOpError(CodeStorage, op.ID, fmt.Errorf("failed to verify dependency %s: %w", dep, err))
		}
		if !exists {
			return newOpError(CodeDependencyUnmet, op.ID, fmt.Errorf("external dependency %s does not exist", dep))
		}
	}

	return nil
}

type applyOutcome struct {
	err    error
	entity *models.Entity
}

// applyWithTimeout ждет слот и применение не дольше timeout в сумме.
// Сама запись не отменяется: она идет на контексте без отмены и может завершиться позже,
// слот освобождается только когда Apply вернулся.
func (e *Executor) applyWithTimeout(
	ctx context.Context,
	slots *semaphore.Weighted,
	op *models.SyncOperation,
	timeout time.Duration,
) (*models.Entity, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	release, err := e.acquire(waitCtx, slots)
	if err != nil {
		e.logger.Warn("No free execution slot", "operation_id", op.ID, "timeout", timeout)
		return nil, newOpError(CodeTimeout, op.ID, fmt.Errorf("no free execution slot within %s", timeout))
	}

	done := make(chan applyOutcome, 1)

	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Panic while applying operation", "operation_id", op.ID, "panic", r)
				done <- applyOutcome{err: newOpError(CodeStorage, op.ID, fmt.Errorf("panic: %v", r))}
			}
		}()

		entity, err := e.applier.Apply(context.WithoutCancel(ctx), op)
		done <- applyOutcome{entity: entity, err: err}
	}()

	select {
	case out := <-done:
		return out.entity, out.err
	case <-waitCtx.Done():
		e.logger.Warn("Operation timed out", "operation_id", op.ID, "timeout", timeout)
		return nil, newOpError(CodeTimeout, op.ID, fmt.Errorf("no result within %s", timeout))
	}
}

// acquire занимает слот батча и, если задан, общий слот executor'а
func (e *Executor) acquire(ctx context.Context, slots *semaphore.Weighted) (func(), error) {
	if err := slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if e.inFlight == nil {
		return func() { slots.Release(1) }, nil
	}

	if err := e.inFlight.Acquire(ctx, 1); err != nil {
		slots.Release(1)
		return nil, err
	}
	return func() {
		e.inFlight.Release(1)
		slots.Release(1)
	}, nil
}

// errInvalidOptions wraps option errors as validation failures
func errInvalidOptions(format string, args ...any) error {
	return validation.Errorf(format, args...)
}

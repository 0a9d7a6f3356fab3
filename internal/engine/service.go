// Package engine принимает батч операций синхронизации, упорядочивает его по
// зависимостям и применяет окнами с ограниченной параллельностью.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/iudanet/tripsync/internal/device"
	"github.com/iudanet/tripsync/internal/models"
	"github.com/iudanet/tripsync/internal/validation"
)

// DefaultMaxBatchSize максимальное число операций в одном батче
const DefaultMaxBatchSize = 1000

// Limits серверные ограничения, которые запрос не может превысить
type Limits struct {
	ExternalDeps   ExternalDependencyPolicy
	MaxBatchSize   int
	MaxConcurrency int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// DefaultLimits returns limits used when config leaves them unset
func DefaultLimits() Limits {
	return Limits{
		ExternalDeps:   ExternalTrust,
		MaxBatchSize:   DefaultMaxBatchSize,
		MaxConcurrency: DefaultConcurrency,
		DefaultTimeout: DefaultTimeout,
		MaxTimeout:     5 * time.Minute,
	}
}

// RequestOptions параметры, присланные клиентом (нулевые значения = по умолчанию)
type RequestOptions struct {
	BatchSize      int
	MaxConcurrency int
	Timeout        time.Duration
	SkipValidation bool
}

// BatchRequest один батч от одного устройства
type BatchRequest struct {
	Device     device.Info
	OwnerID    string
	Operations []*models.SyncOperation
	Options    RequestOptions
}

// DeviceToucher records device activity
type DeviceToucher interface {
	Touch(ctx context.Context, userID string, info device.Info) error
}

// Service is the entry point for batch sync
type Service struct {
	executor *Executor
	devices  DeviceToucher
	logger   *slog.Logger
	now      func() time.Time
	limits   Limits
}

// NewService creates batch sync service
func NewService(executor *Executor, devices DeviceToucher, limits Limits, logger *slog.Logger) *Service {
	defaults := DefaultLimits()
	if limits.MaxBatchSize <= 0 {
		limits.MaxBatchSize = defaults.MaxBatchSize
	}
	if limits.MaxConcurrency <= 0 {
		limits.MaxConcurrency = defaults.MaxConcurrency
	}
	if limits.DefaultTimeout <= 0 {
		limits.DefaultTimeout = defaults.DefaultTimeout
	}
	if limits.MaxTimeout <= 0 {
		limits.MaxTimeout = defaults.MaxTimeout
	}
	if !limits.ExternalDeps.Valid() {
		limits.ExternalDeps = defaults.ExternalDeps
	}

	return &Service{
		executor: executor,
		devices:  devices,
		logger:   logger,
		now:      time.Now,
		limits:   limits,
	}
}

// SyncBatch validates, orders and applies a batch.
// A returned error means nothing was applied: the batch was malformed or cyclic.
// Per-operation failures are reported in BatchResult.
func (s *Service) SyncBatch(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	if req.OwnerID == "" {
		return nil, validation.Errorf("owner id cannot be empty")
	}
	if err := validation.ValidateIdentifier("device id", req.Device.DeviceID); err != nil {
		return nil, err
	}
	if len(req.Operations) > s.limits.MaxBatchSize {
		return nil, validation.Errorf("batch has %d operations, limit is %d", len(req.Operations), s.limits.MaxBatchSize)
	}

	opts, err := s.options(req.Options)
	if err != nil {
		return nil, err
	}

	// Регистрация устройства не должна ломать синхронизацию
	if err := s.devices.Touch(ctx, req.OwnerID, req.Device); err != nil {
		s.logger.Warn("Failed to touch device", "user_id", req.OwnerID, "device_id", req.Device.DeviceID, "error", err)
	}

	submittedAt := s.now().UTC()
	for _, op := range req.Operations {
		if op == nil {
			return nil, validation.Errorf("operation cannot be null")
		}
		if err := validation.ValidateIdentifier("operation id", op.ID); err != nil {
			return nil, err
		}

		op.OwnerID = req.OwnerID
		op.DeviceID = req.Device.DeviceID
		op.SubmittedAt = submittedAt
		if op.ClientTimestamp.IsZero() {
			op.ClientTimestamp = submittedAt
		}
		withImplicitDependencies(op)
	}

	sorted, err := SortOperations(req.Operations)
	if err != nil {
		s.logger.Info("Batch rejected", "user_id", req.OwnerID, "device_id", req.Device.DeviceID, "error", err)
		return nil, err
	}

	result := s.executor.Execute(ctx, sorted, opts)

	s.logger.Info("Batch applied",
		"user_id", req.OwnerID,
		"device_id", req.Device.DeviceID,
		"operations", len(sorted),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"windows", result.Windows,
		"duration", result.Duration)

	return result, nil
}

// options приводит параметры запроса к серверным ограничениям
func (s *Service) options(req RequestOptions) (Options, error) {
	if req.BatchSize < 0 || req.MaxConcurrency < 0 || req.Timeout < 0 {
		return Options{}, errInvalidOptions("batch options must not be negative")
	}

	concurrency := s.limits.MaxConcurrency
	if req.MaxConcurrency > 0 && req.MaxConcurrency < concurrency {
		concurrency = req.MaxConcurrency
	}
	if req.BatchSize > 0 && req.BatchSize < concurrency {
		concurrency = req.BatchSize
	}

	timeout := s.limits.DefaultTimeout
	if req.Timeout > 0 {
		timeout = min(req.Timeout, s.limits.MaxTimeout)
	}

	return Options{
		ExternalDeps:   s.limits.ExternalDeps,
		Concurrency:    concurrency,
		Timeout:        timeout,
		SkipValidation: req.SkipValidation,
	}, nil
}

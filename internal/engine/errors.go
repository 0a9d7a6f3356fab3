package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iudanet/tripsync/internal/conflict"
	"github.com/iudanet/tripsync/internal/server/storage"
	"github.com/iudanet/tripsync/internal/validation"
)

// Code машиночитаемый код ошибки операции, уходит клиенту как есть
type Code string

const (
	CodeCyclicDependency Code = "CYCLIC_DEPENDENCY"
	CodeDependencyUnmet  Code = "DEPENDENCY_UNMET"
	CodeValidation       Code = "VALIDATION"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflictRejected Code = "CONFLICT_REJECTED"
	CodeTimeout          Code = "TIMEOUT"
	CodeStorage          Code = "STORAGE"
)

// Sentinel errors, one per code
var (
	ErrCyclicDependency = errors.New("cyclic dependency")
	ErrDependencyUnmet  = errors.New("dependency unmet")
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("entity not found")
	ErrConflictRejected = errors.New("conflict rejected")
	ErrTimeout          = errors.New("operation timed out")
	ErrStorage          = errors.New("storage error")
)

var sentinels = map[Code]error{
	CodeCyclicDependency: ErrCyclicDependency,
	CodeDependencyUnmet:  ErrDependencyUnmet,
	CodeValidation:       ErrValidation,
	CodeNotFound:         ErrNotFound,
	CodeConflictRejected: ErrConflictRejected,
	CodeTimeout:          ErrTimeout,
	CodeStorage:          ErrStorage,
}

// OperationError ошибка конкретной операции батча
type OperationError struct {
	Err         error
	Code        Code
	OperationID string
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("operation %s: %s", e.OperationID, sentinels[e.Code])
	}
	return fmt.Sprintf("operation %s: %v", e.OperationID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error code
func (e *OperationError) Is(target error) bool {
	return sentinels[e.Code] == target
}

// CyclicDependencyError батч содержит цикл, ни одна операция не применена
type CyclicDependencyError struct {
	OperationID string   // OperationID операция, на которой обнаружен цикл
	Path        []string // Path цикл в порядке обхода
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected at operation %s: %s", e.OperationID, strings.Join(e.Path, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

func newOpError(code Code, opID string, err error) *OperationError {
	return &OperationError{Code: code, OperationID: opID, Err: err}
}

// classify сопоставляет ошибку применения с кодом
func classify(opID string, err error) *OperationError {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}

	code := CodeStorage
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, storage.ErrEntityAlreadyExists):
		code = CodeValidation
	case errors.Is(err, storage.ErrEntityNotFound):
		code = CodeNotFound
	case errors.Is(err, conflict.ErrRejected):
		code = CodeConflictRejected
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}

	return newOpError(code, opID, err)
}

// CodeOf returns the error code carried by err, or CodeStorage for unknown errors
func CodeOf(err error) Code {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	if errors.Is(err, ErrCyclicDependency) {
		return CodeCyclicDependency
	}
	if errors.Is(err, validation.ErrInvalid) {
		return CodeValidation
	}
	return CodeStorage
}

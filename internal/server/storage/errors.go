package storage

import "errors"

// Common storage errors
var (
	// ErrEntityNotFound indicates that entity was not found in storage
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityAlreadyExists indicates that entity with this id already exists
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// ErrVersionMismatch indicates that stored version changed since it was read
	ErrVersionMismatch = errors.New("entity version mismatch")

	// ErrConflictNotFound indicates that conflict record was not found
	ErrConflictNotFound = errors.New("conflict record not found")

	// ErrConflictAlreadyResolved indicates that conflict record already has a resolution
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	// ErrDeviceNotFound indicates that device was not found
	ErrDeviceNotFound = errors.New("device not found")
)

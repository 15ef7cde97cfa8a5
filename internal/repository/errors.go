// Package repository provides persistence implementations for the
// invoicing server using a PostgreSQL database.
package repository

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a write would violate a
	// uniqueness constraint (invoice number, username).
	ErrDuplicateKey = errors.New("duplicate key")
)

package store

import "errors"

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when creating a record whose key is already taken.
	ErrExists = errors.New("record already exists")
)

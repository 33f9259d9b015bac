package dao

import "errors"

// Sentinel DAO errors; callers detect them with errors.Is.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("dao: not found")

	// ErrNilEntity is returned when the caller attempts to persist a nil
	// pointer.
	ErrNilEntity = errors.New("dao: nil entity")

	// ErrDuplicate is returned when an entity with the same key is already
	// stored and the store does not allow overwrites.
	ErrDuplicate = errors.New("dao: duplicate key")
)

package repo

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnsupportedDriver — PROVENANCE_DRIVER не из sqlite, mysql, postgres, memory.
	ErrUnsupportedDriver = errors.New("unsupported provenance driver")
)

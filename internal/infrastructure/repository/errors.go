package repository

import "github.com/clinicore/compliance-engine/internal/errors"

var (
	// ErrNotFound is returned when a queried record does not exist.
	ErrNotFound = errors.NewBusinessError("NOT_FOUND", "record not found")
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/ManuGH/vid2pod/internal/core"
)

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. The driver exposes the extended code only through the message,
// which is stable ("UNIQUE constraint failed: table.column").
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapUnique converts a unique violation into the typed duplicate error the
// refresh dedup path depends on; other errors pass through wrapped.
func mapUnique(err error, entity, key string) error {
	if isUniqueViolation(err) {
		return &core.DuplicateError{Entity: entity, Key: key}
	}
	return err
}

// mapNotFound converts sql.ErrNoRows into the typed not-found error.
func mapNotFound(err error, entity, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Entity: entity, Key: key}
	}
	return err
}

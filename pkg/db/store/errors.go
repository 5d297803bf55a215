package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrConstraintViolation is returned when an insert collides with an existing path.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("not found")
	// ErrPartialBatch is returned when some items of a batch failed while others succeeded.
	ErrPartialBatch = errors.New("partial batch failure")
)

// PartialBatch wraps ErrPartialBatch with the failure counts.
func PartialBatch(failed, total int) error {
	return fmt.Errorf("%w: %d of %d items failed", ErrPartialBatch, failed, total)
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

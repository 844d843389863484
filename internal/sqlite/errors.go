package sqlite

import (
	"strings"

	"github.com/weeargh/kiwi/internal/repository"
)

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}

// mapConstraint converts constraint failures to repository sentinels.
func mapConstraint(err error) error {
	switch {
	case isForeignKeyViolation(err):
		return repository.ErrForeignKeyViolation
	case isUniqueViolation(err):
		return repository.ErrDuplicate
	}
	return err
}

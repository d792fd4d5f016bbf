package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isDuplicateKeyError — нарушение уникального индекса (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}

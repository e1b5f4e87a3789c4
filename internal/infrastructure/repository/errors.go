package repository

import (
	"fmt"

	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

// versionConflict reports a lost optimistic-lock race on an update.
func versionConflict(entity string, id uint) error {
	return errors.NewConflictError(
		fmt.Sprintf("%s was modified concurrently", entity),
		fmt.Sprintf("%s %d not found or version mismatch", entity, id),
	)
}

package rollout

import (
	"errors"
	"fmt"
)

var (
	ErrRolloutNotFound         = errors.New("rollout not found")
	ErrGroupNotFound           = errors.New("rollout group not found")
	ErrInvalidStatusTransition = errors.New("invalid rollout status transition")
	ErrNoGroups                = errors.New("rollout needs at least one group")
	ErrInvalidGroupPercentage  = errors.New("group target percentage must be in (0, 100]")
	ErrNoScheduledGroup        = errors.New("rollout has no scheduled group left")
	ErrRolloutDeleted          = errors.New("rollout is deleted")
)

func ErrInvalidTransition(from, to fmt.Stringer) error {
	return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, from, to)
}

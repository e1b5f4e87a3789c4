package distributionset

import (
	"fmt"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

// Invalidation describes a withdrawal request for one or more sets.
type Invalidation struct {
	DistributionSetIDs []uint
	CancelationType    actionvo.CancelationType
	StopRollouts       bool
}

// Validate checks the request is well formed.
func (i Invalidation) Validate() error {
	if len(i.DistributionSetIDs) == 0 {
		return fmt.Errorf("at least one distribution set is required")
	}
	if !i.CancelationType.IsValid() {
		return fmt.Errorf("invalid cancelation type: %s", i.CancelationType)
	}
	return nil
}

// CancelsActions reports whether active actions are withdrawn.
func (i Invalidation) CancelsActions() bool {
	return i.CancelationType != actionvo.CancelationNone
}

// InvalidationCount previews the entities an invalidation would touch.
type InvalidationCount struct {
	AutoAssignments int64 `json:"auto_assignments"`
	Actions         int64 `json:"actions"`
	Rollouts        int64 `json:"rollouts"`
}

// Add accumulates counts across sets.
func (c InvalidationCount) Add(o InvalidationCount) InvalidationCount {
	return InvalidationCount{
		AutoAssignments: c.AutoAssignments + o.AutoAssignments,
		Actions:         c.Actions + o.Actions,
		Rollouts:        c.Rollouts + o.Rollouts,
	}
}

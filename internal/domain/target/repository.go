package target

import (
	"context"
	"time"
)

// RolloutCandidates selects targets that may join a group of a rollout.
type RolloutCandidates struct {
	RolloutID uint
	// Query is the rollout's target filter.
	Query string
	// GroupQuery optionally narrows one group further.
	GroupQuery string
	// CreatedBefore freezes the population to the rollout's creation snapshot.
	CreatedBefore time.Time
}

// Repository persists targets and evaluates filter queries against them.
type Repository interface {
	Create(ctx context.Context, t *Target) error
	// Update writes the target guarded by its version. A stale version yields a conflict.
	Update(ctx context.Context, t *Target) error
	GetByID(ctx context.Context, tenant string, id uint) (*Target, error)
	GetByControllerID(ctx context.Context, tenant, controllerID string) (*Target, error)
	ListByControllerIDs(ctx context.Context, tenant string, controllerIDs []string) ([]*Target, error)

	// CountByFilter counts targets matching a filter query, optionally only those created before a time.
	CountByFilter(ctx context.Context, tenant, query string, createdBefore *time.Time) (int64, error)
	// FindRolloutCandidates returns matching targets that are not yet in any group of the rollout.
	FindRolloutCandidates(ctx context.Context, tenant string, c RolloutCandidates, limit int) ([]*Target, error)
	// FindWithoutAction returns matching targets that never had an action for the set.
	FindWithoutAction(ctx context.Context, tenant, query string, distributionSetID uint, limit int) ([]*Target, error)
}

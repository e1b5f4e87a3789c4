package action

import (
	"context"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

// GroupCounts aggregates the action statuses of one rollout group.
type GroupCounts struct {
	Finished int64
	Error    int64
	// Closed counts every action that has ended, successfully or not.
	Closed int64
	Total  int64
}

// Repository persists actions.
type Repository interface {
	Create(ctx context.Context, a *Action) error
	CreateBatch(ctx context.Context, actions []*Action) error
	// Update writes the action guarded by its version. A stale version yields a conflict.
	Update(ctx context.Context, a *Action) error
	GetByID(ctx context.Context, tenant string, id uint) (*Action, error)

	FindActiveByTargetAndDistributionSet(ctx context.Context, tenant string, targetID, distributionSetID uint) (*Action, error)
	ListActiveByTarget(ctx context.Context, tenant string, targetID uint) ([]*Action, error)
	ListByTargetAndStatus(ctx context.Context, tenant string, targetID uint, status vo.Status) ([]*Action, error)
	ListScheduledByTarget(ctx context.Context, tenant string, targetID uint) ([]*Action, error)
	ExistsForTargetAndDistributionSet(ctx context.Context, tenant string, targetID, distributionSetID uint) (bool, error)

	ListActiveByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, limit int) ([]*Action, error)
	CountActiveByDistributionSet(ctx context.Context, tenant string, distributionSetID uint) (int64, error)

	ListScheduledByGroup(ctx context.Context, tenant string, groupID uint, limit int) ([]*Action, error)
	ListActiveByRollout(ctx context.Context, tenant string, rolloutID uint, limit int) ([]*Action, error)
	CountGroupStatuses(ctx context.Context, tenant string, groupID uint) (GroupCounts, error)
	// CountActiveByRollout counts active actions of a rollout, ignoring the given statuses.
	CountActiveByRollout(ctx context.Context, tenant string, rolloutID uint, exclude ...vo.Status) (int64, error)
	// CountStartedByRollout counts actions of a rollout that ever left SCHEDULED.
	CountStartedByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error)
	DeleteScheduledByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error)
	DeleteByRollout(ctx context.Context, tenant string, rolloutID uint) (int64, error)
}

// StatusRepository persists the append-only action status log.
type StatusRepository interface {
	Create(ctx context.Context, entry *ActionStatusEntry) error
	ListByAction(ctx context.Context, tenant string, actionID uint) ([]*ActionStatusEntry, error)
}

package rollout

import (
	"context"

	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
)

// Repository persists rollouts.
type Repository interface {
	Create(ctx context.Context, r *Rollout) error
	// Update writes the rollout guarded by its version. A stale version yields a conflict.
	Update(ctx context.Context, r *Rollout) error
	GetByID(ctx context.Context, tenant string, id uint) (*Rollout, error)
	ListByStatuses(ctx context.Context, tenant string, statuses []vo.RolloutStatus) ([]*Rollout, error)
	ListByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, statuses []vo.RolloutStatus) ([]*Rollout, error)
	CountByDistributionSet(ctx context.Context, tenant string, distributionSetID uint, statuses []vo.RolloutStatus) (int64, error)
	// ListTenants returns the tenants owning at least one rollout in the given statuses.
	ListTenants(ctx context.Context, statuses []vo.RolloutStatus) ([]string, error)
	// Delete removes the rollout row permanently.
	Delete(ctx context.Context, tenant string, id uint) error
}

// GroupMember is a target assigned to a rollout group.
type GroupMember struct {
	TargetID     uint
	ControllerID string
}

// GroupRepository persists rollout groups and their target membership.
type GroupRepository interface {
	CreateBatch(ctx context.Context, groups []*Group) error
	Update(ctx context.Context, g *Group) error
	GetByID(ctx context.Context, tenant string, id uint) (*Group, error)
	// ListByRollout returns the groups ordered by position.
	ListByRollout(ctx context.Context, tenant string, rolloutID uint) ([]*Group, error)
	DeleteByRollout(ctx context.Context, tenant string, rolloutID uint) error

	AddMembers(ctx context.Context, tenant string, rolloutID, groupID uint, members []GroupMember) error
	CountMembers(ctx context.Context, tenant string, groupID uint) (int64, error)
	// ListMembersWithoutAction returns members of the group that have no action for it yet.
	ListMembersWithoutAction(ctx context.Context, tenant string, groupID uint, limit int) ([]GroupMember, error)
	DeleteMembersByRollout(ctx context.Context, tenant string, rolloutID uint) error
}

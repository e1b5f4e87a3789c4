package rollout

import (
	"time"

	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

const (
	EventTypeRolloutCreated  = "rollout.created"
	EventTypeRolloutUpdated  = "rollout.updated"
	EventTypeRolloutFinished = "rollout.finished"

	EventTypeGroupCreated  = "rollout_group.created"
	EventTypeGroupUpdated  = "rollout_group.updated"
	EventTypeGroupFinished = "rollout_group.finished"
)

// RolloutEvent is raised on rollout creation and every status change.
type RolloutEvent struct {
	events.BaseEvent
	Name              string           `json:"name"`
	DistributionSetID uint             `json:"distribution_set_id"`
	Status            vo.RolloutStatus `json:"status"`
	TotalTargets      int64            `json:"total_targets"`
}

// GroupEvent is raised on group creation and every status change.
type GroupEvent struct {
	events.BaseEvent
	RolloutID    uint           `json:"rollout_id"`
	Position     int            `json:"position"`
	Status       vo.GroupStatus `json:"status"`
	TotalTargets int64          `json:"total_targets"`
}

func newRolloutEvent(r *Rollout, eventType string, now time.Time) *RolloutEvent {
	return &RolloutEvent{
		BaseEvent:         events.NewBaseEvent(r.tenant, r.id, eventType, now),
		Name:              r.name,
		DistributionSetID: r.distributionSetID,
		Status:            r.status,
		TotalTargets:      r.totalTargets,
	}
}

func newGroupEvent(g *Group, eventType string, now time.Time) *GroupEvent {
	return &GroupEvent{
		BaseEvent:    events.NewBaseEvent(g.tenant, g.id, eventType, now),
		RolloutID:    g.rolloutID,
		Position:     g.position,
		Status:       g.status,
		TotalTargets: g.totalTargets,
	}
}

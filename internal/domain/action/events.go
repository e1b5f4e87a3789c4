package action

import (
	"time"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

const (
	EventTypeActionCreated          = "action.created"
	EventTypeActionUpdated          = "action.updated"
	EventTypeActionFinished         = "action.finished"
	EventTypeActionFeedbackRejected = "action.feedback_rejected"
)

// ActionEvent is raised whenever an action is created, changes status or closes.
type ActionEvent struct {
	events.BaseEvent
	TargetID          uint      `json:"target_id"`
	ControllerID      string    `json:"controller_id"`
	DistributionSetID uint      `json:"distribution_set_id"`
	RolloutID         *uint     `json:"rollout_id,omitempty"`
	RolloutGroupID    *uint     `json:"rollout_group_id,omitempty"`
	Status            vo.Status `json:"status"`
	Active            bool      `json:"active"`
}

// FeedbackRejectedEvent records a device status dropped because the action was already closed.
type FeedbackRejectedEvent struct {
	events.BaseEvent
	ControllerID   string    `json:"controller_id"`
	ActionStatus   vo.Status `json:"action_status"`
	ReportedStatus vo.Status `json:"reported_status"`
}

func newActionEvent(a *Action, eventType string, now time.Time) *ActionEvent {
	return &ActionEvent{
		BaseEvent:         events.NewBaseEvent(a.tenant, a.id, eventType, now),
		TargetID:          a.targetID,
		ControllerID:      a.controllerID,
		DistributionSetID: a.distributionSetID,
		RolloutID:         a.rolloutID,
		RolloutGroupID:    a.rolloutGroupID,
		Status:            a.status,
		Active:            a.active,
	}
}

// NewFeedbackRejectedEvent builds the event published when late feedback is dropped.
func NewFeedbackRejectedEvent(a *Action, reported vo.Status, now time.Time) *FeedbackRejectedEvent {
	return &FeedbackRejectedEvent{
		BaseEvent:      events.NewBaseEvent(a.tenant, a.id, EventTypeActionFeedbackRejected, now),
		ControllerID:   a.controllerID,
		ActionStatus:   a.status,
		ReportedStatus: reported,
	}
}

// Package rollout holds the rollout and rollout group aggregates, the group
// condition evaluator and the group size planner.
package rollout

import (
	"fmt"
	"time"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

// Rollout is a staged deployment of one distribution set to a filtered
// target population.
type Rollout struct {
	id                   uint
	tenant               string
	name                 string
	description          string
	distributionSetID    uint
	targetFilterQuery    string
	actionType           actionvo.ActionType
	forcedTime           *time.Time
	weight               *int
	startAt              *time.Time
	status               vo.RolloutStatus
	totalTargets         int64
	successCondition     vo.Condition
	errorCondition       vo.Condition
	errorAction          vo.ErrorAction
	confirmationRequired bool
	createdBy            string
	deleted              bool
	version              int
	createdAt            time.Time
	updatedAt            time.Time

	events.Recorder
}

// NewRolloutParams carries the attributes of a new rollout.
type NewRolloutParams struct {
	Tenant               string
	Name                 string
	Description          string
	DistributionSetID    uint
	TargetFilterQuery    string
	ActionType           actionvo.ActionType
	ForcedTime           *time.Time
	Weight               *int
	StartAt              *time.Time
	TotalTargets         int64
	SuccessCondition     vo.Condition
	ErrorCondition       vo.Condition
	ErrorAction          vo.ErrorAction
	ConfirmationRequired bool
	CreatedBy            string
}

// NewRollout creates a rollout in CREATING.
func NewRollout(p NewRolloutParams, now time.Time) (*Rollout, error) {
	if p.Tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	if p.Name == "" {
		return nil, fmt.Errorf("rollout name is required")
	}
	if p.DistributionSetID == 0 {
		return nil, fmt.Errorf("distribution set ID is required")
	}
	if p.TargetFilterQuery == "" {
		return nil, fmt.Errorf("target filter query is required")
	}
	if p.ActionType == "" {
		p.ActionType = actionvo.ActionTypeForced
	}
	if !p.ActionType.IsValid() {
		return nil, fmt.Errorf("invalid action type: %s", p.ActionType)
	}
	if p.ActionType == actionvo.ActionTypeTimeForced && p.ForcedTime == nil {
		return nil, fmt.Errorf("timeforced rollout requires a forced time")
	}
	if err := p.SuccessCondition.Validate(); err != nil {
		return nil, fmt.Errorf("success condition: %w", err)
	}
	if err := p.ErrorCondition.Validate(); err != nil {
		return nil, fmt.Errorf("error condition: %w", err)
	}
	if p.ErrorAction == "" {
		p.ErrorAction = vo.ErrorActionPause
	}
	if !p.ErrorAction.IsValid() {
		return nil, fmt.Errorf("invalid error action: %s", p.ErrorAction)
	}
	if p.TotalTargets < 0 {
		return nil, fmt.Errorf("total targets cannot be negative")
	}

	return &Rollout{
		tenant:               p.Tenant,
		name:                 p.Name,
		description:          p.Description,
		distributionSetID:    p.DistributionSetID,
		targetFilterQuery:    p.TargetFilterQuery,
		actionType:           p.ActionType,
		forcedTime:           p.ForcedTime,
		weight:               p.Weight,
		startAt:              p.StartAt,
		status:               vo.RolloutStatusCreating,
		totalTargets:         p.TotalTargets,
		successCondition:     p.SuccessCondition,
		errorCondition:       p.ErrorCondition,
		errorAction:          p.ErrorAction,
		confirmationRequired: p.ConfirmationRequired,
		createdBy:            p.CreatedBy,
		version:              1,
		createdAt:            now,
		updatedAt:            now,
	}, nil
}

// RolloutReconstructParams carries persisted rollout state.
type RolloutReconstructParams struct {
	ID                   uint
	Tenant               string
	Name                 string
	Description          string
	DistributionSetID    uint
	TargetFilterQuery    string
	ActionType           actionvo.ActionType
	ForcedTime           *time.Time
	Weight               *int
	StartAt              *time.Time
	Status               vo.RolloutStatus
	TotalTargets         int64
	SuccessCondition     vo.Condition
	ErrorCondition       vo.Condition
	ErrorAction          vo.ErrorAction
	ConfirmationRequired bool
	CreatedBy            string
	Deleted              bool
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ReconstructRolloutWithParams rebuilds a rollout from persistence.
func ReconstructRolloutWithParams(p RolloutReconstructParams) (*Rollout, error) {
	if p.ID == 0 {
		return nil, fmt.Errorf("rollout ID cannot be zero")
	}
	if !p.Status.IsValid() {
		return nil, fmt.Errorf("invalid rollout status: %s", p.Status)
	}
	return &Rollout{
		id:                   p.ID,
		tenant:               p.Tenant,
		name:                 p.Name,
		description:          p.Description,
		distributionSetID:    p.DistributionSetID,
		targetFilterQuery:    p.TargetFilterQuery,
		actionType:           p.ActionType,
		forcedTime:           p.ForcedTime,
		weight:               p.Weight,
		startAt:              p.StartAt,
		status:               p.Status,
		totalTargets:         p.TotalTargets,
		successCondition:     p.SuccessCondition,
		errorCondition:       p.ErrorCondition,
		errorAction:          p.ErrorAction,
		confirmationRequired: p.ConfirmationRequired,
		createdBy:            p.CreatedBy,
		deleted:              p.Deleted,
		version:              p.Version,
		createdAt:            p.CreatedAt,
		updatedAt:            p.UpdatedAt,
	}, nil
}

// ID returns the rollout ID
func (r *Rollout) ID() uint {
	return r.id
}

// Tenant returns the owning tenant
func (r *Rollout) Tenant() string {
	return r.tenant
}

func (r *Rollout) Name() string                    { return r.name }
func (r *Rollout) Description() string             { return r.description }
func (r *Rollout) DistributionSetID() uint         { return r.distributionSetID }
func (r *Rollout) TargetFilterQuery() string       { return r.targetFilterQuery }
func (r *Rollout) ActionType() actionvo.ActionType { return r.actionType }
func (r *Rollout) ForcedTime() *time.Time          { return r.forcedTime }
func (r *Rollout) Weight() *int                    { return r.weight }
func (r *Rollout) StartAt() *time.Time             { return r.startAt }
func (r *Rollout) Status() vo.RolloutStatus        { return r.status }
func (r *Rollout) TotalTargets() int64             { return r.totalTargets }
func (r *Rollout) SuccessCondition() vo.Condition  { return r.successCondition }
func (r *Rollout) ErrorCondition() vo.Condition    { return r.errorCondition }
func (r *Rollout) ErrorAction() vo.ErrorAction     { return r.errorAction }
func (r *Rollout) IsConfirmationRequired() bool    { return r.confirmationRequired }
func (r *Rollout) CreatedBy() string               { return r.createdBy }
func (r *Rollout) IsDeleted() bool                 { return r.deleted }
func (r *Rollout) Version() int                    { return r.version }
func (r *Rollout) CreatedAt() time.Time            { return r.createdAt }
func (r *Rollout) UpdatedAt() time.Time            { return r.updatedAt }

// SetID sets the rollout ID (only for persistence layer use)
func (r *Rollout) SetID(id uint) error {
	if r.id != 0 {
		return fmt.Errorf("rollout ID is already set")
	}
	if id == 0 {
		return fmt.Errorf("rollout ID cannot be zero")
	}
	r.id = id
	r.Record(newRolloutEvent(r, EventTypeRolloutCreated, r.createdAt))
	return nil
}

// SyncVersion stores the version written by the repository.
func (r *Rollout) SyncVersion(version int) {
	r.version = version
}

// SetTotalTargets updates the target snapshot after group materialization shrank it.
func (r *Rollout) SetTotalTargets(total int64, now time.Time) {
	if r.totalTargets == total {
		return
	}
	r.totalTargets = total
	r.updatedAt = now
}

// ShouldAutoStart reports whether a READY rollout is due to start.
func (r *Rollout) ShouldAutoStart(now time.Time) bool {
	return r.status == vo.RolloutStatusReady && (r.startAt == nil || !now.Before(*r.startAt))
}

// MarkReady completes group materialization.
func (r *Rollout) MarkReady(now time.Time) error {
	return r.transition(vo.RolloutStatusReady, now)
}

// MarkErrorCreating records that groups could not be materialized.
func (r *Rollout) MarkErrorCreating(now time.Time) error {
	return r.transition(vo.RolloutStatusErrorCreating, now)
}

// Start moves a READY rollout to STARTING. An operator start pins startAt to now.
func (r *Rollout) Start(now time.Time) error {
	if err := r.transition(vo.RolloutStatusStarting, now); err != nil {
		return err
	}
	if r.startAt == nil || r.startAt.After(now) {
		t := now
		r.startAt = &t
	}
	return nil
}

func (r *Rollout) MarkRunning(now time.Time) error {
	return r.transition(vo.RolloutStatusRunning, now)
}

func (r *Rollout) MarkErrorStarting(now time.Time) error {
	return r.transition(vo.RolloutStatusErrorStarting, now)
}

// Pause halts group progression. In-flight actions are untouched.
func (r *Rollout) Pause(now time.Time) error {
	if r.status != vo.RolloutStatusRunning {
		return ErrInvalidTransition(r.status, vo.RolloutStatusPaused)
	}
	return r.transition(vo.RolloutStatusPaused, now)
}

// Resume continues a paused rollout.
func (r *Rollout) Resume(now time.Time) error {
	if r.status != vo.RolloutStatusPaused {
		return ErrInvalidTransition(r.status, vo.RolloutStatusRunning)
	}
	return r.transition(vo.RolloutStatusRunning, now)
}

// Stop moves the rollout to STOPPING.
func (r *Rollout) Stop(now time.Time) error {
	return r.transition(vo.RolloutStatusStopping, now)
}

// Finish closes the rollout.
func (r *Rollout) Finish(now time.Time) error {
	return r.transition(vo.RolloutStatusFinished, now)
}

// MarkDeleting schedules the rollout for deletion.
func (r *Rollout) MarkDeleting(now time.Time) error {
	if r.deleted {
		return ErrRolloutDeleted
	}
	return r.transition(vo.RolloutStatusDeleting, now)
}

// MarkDeleted soft-deletes a rollout that still has action history.
func (r *Rollout) MarkDeleted(now time.Time) error {
	if err := r.transition(vo.RolloutStatusDeleted, now); err != nil {
		return err
	}
	r.deleted = true
	return nil
}

func (r *Rollout) transition(next vo.RolloutStatus, now time.Time) error {
	if r.status == next {
		return nil
	}
	if !r.status.CanTransitionTo(next) {
		return ErrInvalidTransition(r.status, next)
	}
	r.status = next
	r.updatedAt = now
	eventType := EventTypeRolloutUpdated
	if next == vo.RolloutStatusFinished {
		eventType = EventTypeRolloutFinished
	}
	if r.id != 0 {
		r.Record(newRolloutEvent(r, eventType, now))
	}
	return nil
}

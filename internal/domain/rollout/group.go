package rollout

import (
	"fmt"
	"time"

	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

// Group is one ordered stage of a rollout.
type Group struct {
	id                   uint
	tenant               string
	rolloutID            uint
	position             int
	name                 string
	targetPercentage     float64
	targetFilterQuery    string
	totalTargets         int64
	status               vo.GroupStatus
	successCondition     vo.Condition
	errorCondition       vo.Condition
	errorAction          vo.ErrorAction
	successAction        vo.SuccessAction
	confirmationRequired bool
	version              int
	createdAt            time.Time
	updatedAt            time.Time

	events.Recorder
}

// NewGroupParams carries the attributes of a new group. Zero-valued
// conditions and actions fall back to the rollout's defaults.
type NewGroupParams struct {
	Position             int
	Name                 string
	TargetPercentage     float64
	TargetFilterQuery    string
	TotalTargets         int64
	SuccessCondition     *vo.Condition
	ErrorCondition       *vo.Condition
	ErrorAction          vo.ErrorAction
	ConfirmationRequired *bool
}

// NewGroup creates a CREATING group of r.
func NewGroup(r *Rollout, p NewGroupParams, now time.Time) (*Group, error) {
	if p.TargetPercentage <= 0 || p.TargetPercentage > 100 {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidGroupPercentage, p.TargetPercentage)
	}
	if p.Position < 0 {
		return nil, fmt.Errorf("group position cannot be negative")
	}
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("group-%d", p.Position+1)
	}

	success := r.successCondition
	if p.SuccessCondition != nil {
		success = *p.SuccessCondition
	}
	failure := r.errorCondition
	if p.ErrorCondition != nil {
		failure = *p.ErrorCondition
	}
	if err := success.Validate(); err != nil {
		return nil, fmt.Errorf("success condition: %w", err)
	}
	if err := failure.Validate(); err != nil {
		return nil, fmt.Errorf("error condition: %w", err)
	}
	errorAction := r.errorAction
	if p.ErrorAction != "" {
		errorAction = p.ErrorAction
	}
	if !errorAction.IsValid() {
		return nil, fmt.Errorf("invalid error action: %s", errorAction)
	}
	confirmation := r.confirmationRequired
	if p.ConfirmationRequired != nil {
		confirmation = *p.ConfirmationRequired
	}

	return &Group{
		tenant:               r.tenant,
		rolloutID:            r.id,
		position:             p.Position,
		name:                 name,
		targetPercentage:     p.TargetPercentage,
		targetFilterQuery:    p.TargetFilterQuery,
		totalTargets:         p.TotalTargets,
		status:               vo.GroupStatusCreating,
		successCondition:     success,
		errorCondition:       failure,
		errorAction:          errorAction,
		successAction:        vo.SuccessActionNextGroup,
		confirmationRequired: confirmation,
		version:              1,
		createdAt:            now,
		updatedAt:            now,
	}, nil
}

// GroupReconstructParams carries persisted group state.
type GroupReconstructParams struct {
	ID                   uint
	Tenant               string
	RolloutID            uint
	Position             int
	Name                 string
	TargetPercentage     float64
	TargetFilterQuery    string
	TotalTargets         int64
	Status               vo.GroupStatus
	SuccessCondition     vo.Condition
	ErrorCondition       vo.Condition
	ErrorAction          vo.ErrorAction
	SuccessAction        vo.SuccessAction
	ConfirmationRequired bool
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ReconstructGroupWithParams rebuilds a group from persistence.
func ReconstructGroupWithParams(p GroupReconstructParams) (*Group, error) {
	if p.ID == 0 {
		return nil, fmt.Errorf("rollout group ID cannot be zero")
	}
	if !p.Status.IsValid() {
		return nil, fmt.Errorf("invalid rollout group status: %s", p.Status)
	}
	if p.SuccessAction == "" {
		p.SuccessAction = vo.SuccessActionNextGroup
	}
	return &Group{
		id:                   p.ID,
		tenant:               p.Tenant,
		rolloutID:            p.RolloutID,
		position:             p.Position,
		name:                 p.Name,
		targetPercentage:     p.TargetPercentage,
		targetFilterQuery:    p.TargetFilterQuery,
		totalTargets:         p.TotalTargets,
		status:               p.Status,
		successCondition:     p.SuccessCondition,
		errorCondition:       p.ErrorCondition,
		errorAction:          p.ErrorAction,
		successAction:        p.SuccessAction,
		confirmationRequired: p.ConfirmationRequired,
		version:              p.Version,
		createdAt:            p.CreatedAt,
		updatedAt:            p.UpdatedAt,
	}, nil
}

func (g *Group) ID() uint                       { return g.id }
func (g *Group) Tenant() string                 { return g.tenant }
func (g *Group) RolloutID() uint                { return g.rolloutID }
func (g *Group) Position() int                  { return g.position }
func (g *Group) Name() string                   { return g.name }
func (g *Group) TargetPercentage() float64      { return g.targetPercentage }
func (g *Group) TargetFilterQuery() string      { return g.targetFilterQuery }
func (g *Group) TotalTargets() int64            { return g.totalTargets }
func (g *Group) Status() vo.GroupStatus         { return g.status }
func (g *Group) SuccessCondition() vo.Condition { return g.successCondition }
func (g *Group) ErrorCondition() vo.Condition   { return g.errorCondition }
func (g *Group) ErrorAction() vo.ErrorAction    { return g.errorAction }
func (g *Group) SuccessAction() vo.SuccessAction {
	return g.successAction
}
func (g *Group) IsConfirmationRequired() bool { return g.confirmationRequired }
func (g *Group) Version() int                 { return g.version }
func (g *Group) CreatedAt() time.Time         { return g.createdAt }
func (g *Group) UpdatedAt() time.Time         { return g.updatedAt }

// SetID sets the group ID (only for persistence layer use)
func (g *Group) SetID(id uint) error {
	if g.id != 0 {
		return fmt.Errorf("rollout group ID is already set")
	}
	if id == 0 {
		return fmt.Errorf("rollout group ID cannot be zero")
	}
	g.id = id
	g.Record(newGroupEvent(g, EventTypeGroupCreated, g.createdAt))
	return nil
}

// SetRolloutID binds a group built before its rollout was stored.
func (g *Group) SetRolloutID(rolloutID uint) {
	if g.rolloutID == 0 {
		g.rolloutID = rolloutID
	}
}

// SyncVersion stores the version written by the repository.
func (g *Group) SyncVersion(version int) {
	g.version = version
}

// SetTotalTargets records how many targets were actually assigned.
func (g *Group) SetTotalTargets(total int64, now time.Time) {
	if g.totalTargets == total {
		return
	}
	g.totalTargets = total
	g.updatedAt = now
}

// Evaluate applies the group's conditions to counts.
func (g *Group) Evaluate(counts GroupCounts) Verdict {
	counts.Total = g.totalTargets
	return EvaluateGroup(counts, g.successCondition, g.errorCondition)
}

func (g *Group) MarkReady(now time.Time) error {
	return g.transition(vo.GroupStatusReady, now)
}

func (g *Group) Schedule(now time.Time) error {
	return g.transition(vo.GroupStatusScheduled, now)
}

func (g *Group) StartRunning(now time.Time) error {
	return g.transition(vo.GroupStatusRunning, now)
}

func (g *Group) Finish(now time.Time) error {
	return g.transition(vo.GroupStatusFinished, now)
}

func (g *Group) MarkError(now time.Time) error {
	return g.transition(vo.GroupStatusError, now)
}

// ForceFinish closes the group regardless of its state. Used when a rollout
// is stopped or deleted.
func (g *Group) ForceFinish(now time.Time) bool {
	if g.status == vo.GroupStatusFinished {
		return false
	}
	g.status = vo.GroupStatusFinished
	g.updatedAt = now
	if g.id != 0 {
		g.Record(newGroupEvent(g, EventTypeGroupFinished, now))
	}
	return true
}

func (g *Group) transition(next vo.GroupStatus, now time.Time) error {
	if g.status == next {
		return nil
	}
	if !g.status.CanTransitionTo(next) {
		return ErrInvalidTransition(g.status, next)
	}
	g.status = next
	g.updatedAt = now
	eventType := EventTypeGroupUpdated
	if next == vo.GroupStatusFinished {
		eventType = EventTypeGroupFinished
	}
	if g.id != 0 {
		g.Record(newGroupEvent(g, eventType, now))
	}
	return nil
}

// Package action holds the deployment action aggregate and its state machine.
package action

import (
	"fmt"
	"strings"
	"time"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

// Outcome describes what a device-reported status did to an action.
type Outcome int

const (
	// OutcomeUnchanged: status recorded, action state untouched.
	OutcomeUnchanged Outcome = iota
	// OutcomeProgress: action still active with an informational status.
	OutcomeProgress
	OutcomeFinished
	OutcomeError
	// OutcomeDownloaded closes a download-only action successfully.
	OutcomeDownloaded
	OutcomeCanceled
	OutcomeCancelRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProgress:
		return "progress"
	case OutcomeFinished:
		return "finished"
	case OutcomeError:
		return "error"
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeCancelRejected:
		return "cancel_rejected"
	default:
		return "unchanged"
	}
}

// CancelOutcome describes the result of a soft cancellation request.
type CancelOutcome int

const (
	// CancelRequested: the device must acknowledge, action is CANCELING.
	CancelRequested CancelOutcome = iota
	// CancelClosed: the action was never started and is CANCELED directly.
	CancelClosed
	// CancelEscalated: the action was effectively forced and was force-canceled.
	CancelEscalated
)

// Action is one controller-visible deployment task.
type Action struct {
	id                uint
	tenant            string
	targetID          uint
	controllerID      string
	distributionSetID uint
	rolloutID         *uint
	rolloutGroupID    *uint
	status            vo.Status
	active            bool
	actionType        vo.ActionType
	forcedTime        *time.Time
	weight            *int
	initiatedBy       string
	version           int
	createdAt         time.Time
	updatedAt         time.Time

	// forcedLatch records that a timeforced action has crossed its deadline.
	// It is persisted with the action.
	forcedLatch bool

	events.Recorder
}

// NewActionParams carries the attributes of a new action.
type NewActionParams struct {
	Tenant            string
	TargetID          uint
	ControllerID      string
	DistributionSetID uint
	RolloutID         *uint
	RolloutGroupID    *uint
	ActionType        vo.ActionType
	ForcedTime        *time.Time
	Weight            *int
	InitiatedBy       string
}

// NewAction creates an action for a direct assignment. It starts out
// SCHEDULED and inactive until Start is called.
func NewAction(p NewActionParams, now time.Time) (*Action, error) {
	if p.Tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	if p.TargetID == 0 {
		return nil, fmt.Errorf("target ID is required")
	}
	if p.DistributionSetID == 0 {
		return nil, fmt.Errorf("distribution set ID is required")
	}
	if p.ActionType == "" {
		p.ActionType = vo.ActionTypeForced
	}
	if !p.ActionType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidActionType, p.ActionType)
	}
	if p.ActionType == vo.ActionTypeTimeForced && p.ForcedTime == nil {
		return nil, ErrForcedTimeRequired
	}
	if p.ActionType != vo.ActionTypeTimeForced {
		p.ForcedTime = nil
	}

	return &Action{
		tenant:            p.Tenant,
		targetID:          p.TargetID,
		controllerID:      p.ControllerID,
		distributionSetID: p.DistributionSetID,
		rolloutID:         p.RolloutID,
		rolloutGroupID:    p.RolloutGroupID,
		status:            vo.StatusScheduled,
		active:            false,
		actionType:        p.ActionType,
		forcedTime:        p.ForcedTime,
		weight:            p.Weight,
		initiatedBy:       p.InitiatedBy,
		version:           1,
		createdAt:         now,
		updatedAt:         now,
	}, nil
}

// NewScheduledAction creates the inactive placeholder action of a rollout group member.
func NewScheduledAction(p NewActionParams, now time.Time) (*Action, error) {
	if p.RolloutID == nil || p.RolloutGroupID == nil {
		return nil, fmt.Errorf("rollout and rollout group are required for a scheduled action")
	}
	return NewAction(p, now)
}

// ActionReconstructParams carries persisted action state.
type ActionReconstructParams struct {
	ID                uint
	Tenant            string
	TargetID          uint
	ControllerID      string
	DistributionSetID uint
	RolloutID         *uint
	RolloutGroupID    *uint
	Status            vo.Status
	Active            bool
	ActionType        vo.ActionType
	ForcedTime        *time.Time
	ForcedLatched     bool
	Weight            *int
	InitiatedBy       string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReconstructActionWithParams rebuilds an action from persistence.
func ReconstructActionWithParams(p ActionReconstructParams) (*Action, error) {
	if p.ID == 0 {
		return nil, fmt.Errorf("action ID cannot be zero")
	}
	if !p.Status.IsValid() {
		return nil, fmt.Errorf("invalid action status: %s", p.Status)
	}
	if !p.ActionType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidActionType, p.ActionType)
	}
	return &Action{
		id:                p.ID,
		tenant:            p.Tenant,
		targetID:          p.TargetID,
		controllerID:      p.ControllerID,
		distributionSetID: p.DistributionSetID,
		rolloutID:         p.RolloutID,
		rolloutGroupID:    p.RolloutGroupID,
		status:            p.Status,
		active:            p.Active,
		actionType:        p.ActionType,
		forcedTime:        p.ForcedTime,
		forcedLatch:       p.ForcedLatched,
		weight:            p.Weight,
		initiatedBy:       p.InitiatedBy,
		version:           p.Version,
		createdAt:         p.CreatedAt,
		updatedAt:         p.UpdatedAt,
	}, nil
}

func (a *Action) ID() uint                  { return a.id }
func (a *Action) Tenant() string            { return a.tenant }
func (a *Action) TargetID() uint            { return a.targetID }
func (a *Action) ControllerID() string      { return a.controllerID }
func (a *Action) DistributionSetID() uint   { return a.distributionSetID }
func (a *Action) RolloutID() *uint          { return a.rolloutID }
func (a *Action) RolloutGroupID() *uint     { return a.rolloutGroupID }
func (a *Action) Status() vo.Status         { return a.status }
func (a *Action) IsActive() bool            { return a.active }
func (a *Action) ActionType() vo.ActionType { return a.actionType }
func (a *Action) ForcedTime() *time.Time    { return a.forcedTime }
func (a *Action) ForcedLatched() bool       { return a.forcedLatch }
func (a *Action) Weight() *int              { return a.weight }
func (a *Action) InitiatedBy() string       { return a.initiatedBy }
func (a *Action) Version() int              { return a.version }
func (a *Action) CreatedAt() time.Time      { return a.createdAt }
func (a *Action) UpdatedAt() time.Time      { return a.updatedAt }

// SetID sets the action ID (only for persistence layer use). An action that
// is already active when first stored raises its creation event here.
func (a *Action) SetID(id uint) error {
	if a.id != 0 {
		return fmt.Errorf("action ID is already set")
	}
	if id == 0 {
		return fmt.Errorf("action ID cannot be zero")
	}
	a.id = id
	if a.active {
		a.Record(newActionEvent(a, EventTypeActionCreated, a.updatedAt))
	}
	return nil
}

// SyncVersion stores the version written by the repository.
func (a *Action) SyncVersion(version int) {
	a.version = version
}

// ActiveKey is the uniqueness key of an active action for its target and set,
// nil once the action is no longer active.
func (a *Action) ActiveKey() *string {
	if !a.active {
		return nil
	}
	key := ActiveKeyFor(a.targetID, a.distributionSetID)
	return &key
}

// ActiveKeyFor formats the active-action uniqueness key.
func ActiveKeyFor(targetID, distributionSetID uint) string {
	return fmt.Sprintf("%d:%d", targetID, distributionSetID)
}

// IsForced reports whether the action must be treated as forced at now.
// Once a timeforced action has been observed past its deadline it stays forced.
func (a *Action) IsForced(now time.Time) bool {
	switch a.actionType {
	case vo.ActionTypeForced:
		return true
	case vo.ActionTypeTimeForced:
		if a.forcedLatch {
			return true
		}
		if a.forcedTime != nil && !now.Before(*a.forcedTime) {
			a.forcedLatch = true
			return true
		}
	}
	return false
}

// EffectiveType resolves a timeforced action into soft or forced at now.
func (a *Action) EffectiveType(now time.Time) vo.ActionType {
	if a.actionType != vo.ActionTypeTimeForced {
		return a.actionType
	}
	if a.IsForced(now) {
		return vo.ActionTypeForced
	}
	return vo.ActionTypeSoft
}

// IsTerminal reports whether the action instance has ended.
func (a *Action) IsTerminal() bool {
	switch a.status {
	case vo.StatusFinished, vo.StatusCanceled, vo.StatusError:
		return true
	case vo.StatusDownloaded:
		return !a.active
	}
	return false
}

// IsScheduled reports whether the action is an inactive placeholder.
func (a *Action) IsScheduled() bool {
	return a.status == vo.StatusScheduled && !a.active
}

// IsCanceling reports whether a cancellation is awaiting device acknowledgement.
func (a *Action) IsCanceling() bool {
	return a.status == vo.StatusCanceling
}

// IsSuccessful reports whether the action closed successfully.
func (a *Action) IsSuccessful() bool {
	return a.status == vo.StatusFinished || (a.status == vo.StatusDownloaded && !a.active)
}

// Start activates a scheduled action. With requiresConfirmation the action
// waits for confirmation, otherwise it runs immediately.
func (a *Action) Start(requiresConfirmation bool, now time.Time) error {
	if a.status != vo.StatusScheduled || a.active {
		return ErrInvalidTransition(a.status, vo.StatusRunning)
	}
	next := vo.StatusRunning
	if requiresConfirmation {
		next = vo.StatusWaitForConfirmation
	}
	if err := a.setStatus(next, now); err != nil {
		return err
	}
	a.active = true
	return nil
}

// Confirm promotes a waiting action to running.
func (a *Action) Confirm(now time.Time) error {
	if a.status != vo.StatusWaitForConfirmation {
		return fmt.Errorf("%w: status %s", ErrNotAwaitingConfirmation, a.status)
	}
	return a.setStatus(vo.StatusRunning, now)
}

// Deny keeps a waiting action waiting. The denial itself lives in the status log.
func (a *Action) Deny() error {
	if a.status != vo.StatusWaitForConfirmation {
		return fmt.Errorf("%w: status %s", ErrNotAwaitingConfirmation, a.status)
	}
	return nil
}

// ApplyDeviceStatus applies a status reported by the device for this action.
func (a *Action) ApplyDeviceStatus(reported vo.Status, now time.Time) (Outcome, error) {
	if !reported.IsValid() {
		return OutcomeUnchanged, fmt.Errorf("invalid action status: %s", reported)
	}
	if a.IsTerminal() {
		return OutcomeUnchanged, fmt.Errorf("%w: status %s", ErrActionClosed, a.status)
	}
	if a.IsScheduled() {
		return OutcomeUnchanged, ErrActionNotStarted
	}
	if a.status == vo.StatusWaitForConfirmation {
		return OutcomeUnchanged, ErrAwaitingConfirmation
	}
	if a.status == vo.StatusCanceling {
		return a.ApplyCancelFeedback(reported, now)
	}

	switch {
	case reported == vo.StatusFinished:
		return outcome(OutcomeFinished, a.close(vo.StatusFinished, now))
	case reported == vo.StatusError:
		return outcome(OutcomeError, a.close(vo.StatusError, now))
	case reported == vo.StatusDownloaded && a.actionType == vo.ActionTypeDownloadOnly:
		return outcome(OutcomeDownloaded, a.close(vo.StatusDownloaded, now))
	case reported == vo.StatusCancelRejected:
		return OutcomeUnchanged, nil
	case reported.IsInformational():
		return outcome(OutcomeProgress, a.setStatus(reported, now))
	default:
		return OutcomeUnchanged, ErrInvalidTransition(a.status, reported)
	}
}

// ApplyCancelFeedback applies the device answer to a cancellation request.
func (a *Action) ApplyCancelFeedback(reported vo.Status, now time.Time) (Outcome, error) {
	if a.status != vo.StatusCanceling {
		return OutcomeUnchanged, fmt.Errorf("%w: status %s", ErrNotCanceling, a.status)
	}
	switch reported {
	case vo.StatusCanceled, vo.StatusFinished:
		return outcome(OutcomeCanceled, a.close(vo.StatusCanceled, now))
	case vo.StatusCancelRejected:
		return outcome(OutcomeCancelRejected, a.setStatus(vo.StatusRunning, now))
	case vo.StatusError:
		return outcome(OutcomeError, a.close(vo.StatusError, now))
	default:
		return OutcomeUnchanged, nil
	}
}

// RequestCancel asks the device to cancel. Forced actions are canceled
// immediately instead, and never-started actions are closed directly.
func (a *Action) RequestCancel(now time.Time) (CancelOutcome, error) {
	if a.status == vo.StatusCanceling || a.status == vo.StatusCanceled {
		return CancelRequested, ErrAlreadyCanceling
	}
	if a.IsTerminal() {
		return CancelRequested, fmt.Errorf("%w: status %s", ErrActionClosed, a.status)
	}
	if a.IsScheduled() {
		return CancelClosed, a.close(vo.StatusCanceled, now)
	}
	if a.IsForced(now) {
		return CancelEscalated, a.close(vo.StatusCanceled, now)
	}
	return CancelRequested, a.setStatus(vo.StatusCanceling, now)
}

// ForceCancel closes the action without waiting for the device.
func (a *Action) ForceCancel(now time.Time) error {
	if a.status == vo.StatusCanceled {
		return ErrAlreadyCanceling
	}
	if a.IsTerminal() {
		return fmt.Errorf("%w: status %s", ErrActionClosed, a.status)
	}
	return a.close(vo.StatusCanceled, now)
}

// setStatus moves the action along the status graph. Reporting the current
// informational status again only refreshes it.
func (a *Action) setStatus(next vo.Status, now time.Time) error {
	if !a.status.CanTransitionTo(next) {
		return ErrInvalidTransition(a.status, next)
	}
	a.status = next
	a.updatedAt = now
	if a.id != 0 {
		a.Record(newActionEvent(a, EventTypeActionUpdated, now))
	}
	return nil
}

func (a *Action) close(final vo.Status, now time.Time) error {
	if !a.status.CanTransitionTo(final) {
		return ErrInvalidTransition(a.status, final)
	}
	a.status = final
	a.active = false
	a.updatedAt = now
	if a.id != 0 {
		a.Record(newActionEvent(a, EventTypeActionFinished, now))
	}
	return nil
}

func outcome(o Outcome, err error) (Outcome, error) {
	if err != nil {
		return OutcomeUnchanged, err
	}
	return o, nil
}

func (a *Action) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action(id=%d target=%d ds=%d status=%s", a.id, a.targetID, a.distributionSetID, a.status)
	if a.rolloutGroupID != nil {
		fmt.Fprintf(&b, " group=%d", *a.rolloutGroupID)
	}
	b.WriteString(")")
	return b.String()
}

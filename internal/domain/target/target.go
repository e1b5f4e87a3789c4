// Package target holds the managed device aggregate and its confirmation gate.
package target

import (
	"errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

var (
	ErrTargetNotFound                = errors.New("target not found")
	ErrAutoConfirmationAlreadyActive = errors.New("auto confirmation is already active")
	ErrInvalidUpdateStatus           = errors.New("invalid target update status")
)

// UpdateStatus summarises the deployment state of a target.
type UpdateStatus string

const (
	UpdateStatusUnknown UpdateStatus = "unknown"
	UpdateStatusPending UpdateStatus = "pending"
	UpdateStatusInSync  UpdateStatus = "in_sync"
	UpdateStatusError   UpdateStatus = "error"
)

var ValidUpdateStatuses = map[UpdateStatus]bool{
	UpdateStatusUnknown: true,
	UpdateStatusPending: true,
	UpdateStatusInSync:  true,
	UpdateStatusError:   true,
}

func (s UpdateStatus) String() string {
	return string(s)
}

const EventTypeTargetStatusChanged = "target.status_changed"

// StatusChangedEvent is raised when a target's update status changes.
type StatusChangedEvent struct {
	events.BaseEvent
	ControllerID string       `json:"controller_id"`
	From         UpdateStatus `json:"from"`
	To           UpdateStatus `json:"to"`
}

// AutoConfirmation is present while the target confirms new actions on its own.
type AutoConfirmation struct {
	Initiator   string
	Remark      string
	ActivatedAt time.Time
}

// Target is a managed device.
type Target struct {
	id                         uint
	tenant                     string
	controllerID               string
	name                       string
	updateStatus               UpdateStatus
	assignedDistributionSetID  *uint
	installedDistributionSetID *uint
	installedAt                *time.Time
	autoConfirmation           *AutoConfirmation
	version                    int
	createdAt                  time.Time
	updatedAt                  time.Time

	events.Recorder
}

// NewTarget registers a device.
func NewTarget(tenant, controllerID, name string, now time.Time) (*Target, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	if controllerID == "" {
		return nil, fmt.Errorf("controller ID is required")
	}
	if name == "" {
		name = controllerID
	}
	return &Target{
		tenant:       tenant,
		controllerID: controllerID,
		name:         name,
		updateStatus: UpdateStatusUnknown,
		version:      1,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// TargetReconstructParams carries persisted target state.
type TargetReconstructParams struct {
	ID                         uint
	Tenant                     string
	ControllerID               string
	Name                       string
	UpdateStatus               UpdateStatus
	AssignedDistributionSetID  *uint
	InstalledDistributionSetID *uint
	InstalledAt                *time.Time
	AutoConfirmation           *AutoConfirmation
	Version                    int
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// ReconstructTargetWithParams rebuilds a target from persistence.
func ReconstructTargetWithParams(p TargetReconstructParams) (*Target, error) {
	if p.ID == 0 {
		return nil, fmt.Errorf("target ID cannot be zero")
	}
	if !ValidUpdateStatuses[p.UpdateStatus] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidUpdateStatus, p.UpdateStatus)
	}
	return &Target{
		id:                         p.ID,
		tenant:                     p.Tenant,
		controllerID:               p.ControllerID,
		name:                       p.Name,
		updateStatus:               p.UpdateStatus,
		assignedDistributionSetID:  p.AssignedDistributionSetID,
		installedDistributionSetID: p.InstalledDistributionSetID,
		installedAt:                p.InstalledAt,
		autoConfirmation:           p.AutoConfirmation,
		version:                    p.Version,
		createdAt:                  p.CreatedAt,
		updatedAt:                  p.UpdatedAt,
	}, nil
}

// Getters
func (t *Target) ID() uint                            { return t.id }
func (t *Target) Tenant() string                      { return t.tenant }
func (t *Target) ControllerID() string                { return t.controllerID }
func (t *Target) Name() string                        { return t.name }
func (t *Target) UpdateStatus() UpdateStatus          { return t.updateStatus }
func (t *Target) AssignedDistributionSetID() *uint    { return t.assignedDistributionSetID }
func (t *Target) InstalledDistributionSetID() *uint   { return t.installedDistributionSetID }
func (t *Target) InstalledAt() *time.Time             { return t.installedAt }
func (t *Target) AutoConfirmation() *AutoConfirmation { return t.autoConfirmation }
func (t *Target) Version() int                        { return t.version }
func (t *Target) CreatedAt() time.Time                { return t.createdAt }
func (t *Target) UpdatedAt() time.Time                { return t.updatedAt }

// SetID sets the target ID (only for persistence layer use)
func (t *Target) SetID(id uint) error {
	if t.id != 0 {
		return fmt.Errorf("target ID is already set")
	}
	if id == 0 {
		return fmt.Errorf("target ID cannot be zero")
	}
	t.id = id
	return nil
}

// SyncVersion stores the version written by the repository.
func (t *Target) SyncVersion(version int) {
	t.version = version
}

// IsAutoConfirmationActive reports whether new actions skip the confirmation step.
func (t *Target) IsAutoConfirmationActive() bool {
	return t.autoConfirmation != nil
}

// RequiresConfirmation decides the starting state of a new action for this
// target: confirmation is needed only when the tenant flow is on, the
// assignment asks for it, and the target does not confirm on its own.
func (t *Target) RequiresConfirmation(confirmationFlowEnabled, assignmentRequiresConfirmation bool) bool {
	return confirmationFlowEnabled && assignmentRequiresConfirmation && !t.IsAutoConfirmationActive()
}

// ActivateAutoConfirmation turns on automatic confirmation.
func (t *Target) ActivateAutoConfirmation(initiator, remark string, now time.Time) error {
	if t.autoConfirmation != nil {
		return ErrAutoConfirmationAlreadyActive
	}
	t.autoConfirmation = &AutoConfirmation{
		Initiator:   initiator,
		Remark:      remark,
		ActivatedAt: now,
	}
	t.updatedAt = now
	return nil
}

// DeactivateAutoConfirmation turns automatic confirmation off. It reports
// whether anything changed.
func (t *Target) DeactivateAutoConfirmation(now time.Time) bool {
	if t.autoConfirmation == nil {
		return false
	}
	t.autoConfirmation = nil
	t.updatedAt = now
	return true
}

// AssignDistributionSet records a new assignment in progress.
func (t *Target) AssignDistributionSet(distributionSetID uint, now time.Time) {
	id := distributionSetID
	t.assignedDistributionSetID = &id
	t.setUpdateStatus(UpdateStatusPending, now)
}

// MarkPending flags the target as having work in flight.
func (t *Target) MarkPending(now time.Time) {
	t.setUpdateStatus(UpdateStatusPending, now)
}

// MarkError flags a failed deployment.
func (t *Target) MarkError(now time.Time) {
	t.setUpdateStatus(UpdateStatusError, now)
}

// MarkInstalled records a successful installation. With other active
// actions left the target stays pending.
func (t *Target) MarkInstalled(distributionSetID uint, otherActiveActions bool, now time.Time) {
	id := distributionSetID
	t.installedDistributionSetID = &id
	installedAt := now
	t.installedAt = &installedAt
	if otherActiveActions {
		t.setUpdateStatus(UpdateStatusPending, now)
		return
	}
	assigned := id
	t.assignedDistributionSetID = &assigned
	t.setUpdateStatus(UpdateStatusInSync, now)
}

// RestoreAfterCancel recalculates the assignment after an action was canceled.
// nextAssigned is the set of the remaining active action, nil when none is left.
func (t *Target) RestoreAfterCancel(nextAssigned *uint, now time.Time) {
	if nextAssigned != nil {
		id := *nextAssigned
		t.assignedDistributionSetID = &id
		t.setUpdateStatus(UpdateStatusPending, now)
		return
	}
	if t.installedDistributionSetID != nil {
		id := *t.installedDistributionSetID
		t.assignedDistributionSetID = &id
	} else {
		t.assignedDistributionSetID = nil
	}
	t.setUpdateStatus(UpdateStatusInSync, now)
}

// CompleteWithoutInstall closes a download-only deployment.
func (t *Target) CompleteWithoutInstall(otherActiveActions bool, now time.Time) {
	if otherActiveActions {
		t.setUpdateStatus(UpdateStatusPending, now)
		return
	}
	t.RestoreAfterCancel(nil, now)
}

func (t *Target) setUpdateStatus(next UpdateStatus, now time.Time) {
	t.updatedAt = now
	if t.updateStatus == next {
		return
	}
	prev := t.updateStatus
	t.updateStatus = next
	if t.id != 0 {
		t.Record(&StatusChangedEvent{
			BaseEvent:    events.NewBaseEvent(t.tenant, t.id, EventTypeTargetStatusChanged, now),
			ControllerID: t.controllerID,
			From:         prev,
			To:           next,
		})
	}
}

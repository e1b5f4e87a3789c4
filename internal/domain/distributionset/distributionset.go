// Package distributionset holds the deployable package aggregate and the
// value objects describing its invalidation.
package distributionset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
)

var (
	ErrDistributionSetNotFound = errors.New("distribution set not found")
	ErrIncomplete              = errors.New("distribution set is incomplete")
	ErrAlreadyInvalid          = errors.New("distribution set is already invalid")
	ErrLocked                  = errors.New("distribution set is locked")
)

const EventTypeDistributionSetInvalidated = "distribution_set.invalidated"

// InvalidatedEvent is raised once a set has been withdrawn.
type InvalidatedEvent struct {
	events.BaseEvent
	CancelationType string `json:"cancelation_type"`
	StopRollouts    bool   `json:"stop_rollouts"`
}

// DistributionSet is a versioned deployable package.
type DistributionSet struct {
	id        uint
	tenant    string
	name      string
	dsVersion string
	complete  bool
	valid     bool
	locked    bool
	version   int
	createdAt time.Time
	updatedAt time.Time

	events.Recorder
}

// NewDistributionSet creates a valid, unlocked set.
func NewDistributionSet(tenant, name, dsVersion string, complete bool, now time.Time) (*DistributionSet, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant is required")
	}
	if name == "" || dsVersion == "" {
		return nil, fmt.Errorf("name and version are required")
	}
	return &DistributionSet{
		tenant:    tenant,
		name:      name,
		dsVersion: dsVersion,
		complete:  complete,
		valid:     true,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructDistributionSet rebuilds a set from persistence.
func ReconstructDistributionSet(
	id uint,
	tenant, name, dsVersion string,
	complete, valid, locked bool,
	version int,
	createdAt, updatedAt time.Time,
) *DistributionSet {
	return &DistributionSet{
		id:        id,
		tenant:    tenant,
		name:      name,
		dsVersion: dsVersion,
		complete:  complete,
		valid:     valid,
		locked:    locked,
		version:   version,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

func (d *DistributionSet) ID() uint             { return d.id }
func (d *DistributionSet) Tenant() string       { return d.tenant }
func (d *DistributionSet) Name() string         { return d.name }
func (d *DistributionSet) DSVersion() string    { return d.dsVersion }
func (d *DistributionSet) IsComplete() bool     { return d.complete }
func (d *DistributionSet) IsValid() bool        { return d.valid }
func (d *DistributionSet) IsLocked() bool       { return d.locked }
func (d *DistributionSet) Version() int         { return d.version }
func (d *DistributionSet) CreatedAt() time.Time { return d.createdAt }
func (d *DistributionSet) UpdatedAt() time.Time { return d.updatedAt }

// SetID sets the set ID (only for persistence layer use)
func (d *DistributionSet) SetID(id uint) {
	d.id = id
}

// SyncVersion stores the version written by the repository.
func (d *DistributionSet) SyncVersion(version int) {
	d.version = version
}

// CheckAssignable verifies the set can be deployed.
func (d *DistributionSet) CheckAssignable() error {
	if !d.complete {
		return fmt.Errorf("%w: %d", ErrIncomplete, d.id)
	}
	if !d.valid {
		return fmt.Errorf("%w: %d", ErrAlreadyInvalid, d.id)
	}
	return nil
}

// Lock freezes the set once it is referenced by an action. It reports
// whether the flag changed.
func (d *DistributionSet) Lock(now time.Time) bool {
	if d.locked {
		return false
	}
	d.locked = true
	d.updatedAt = now
	return true
}

// Complete marks the set as having all required modules. Locked sets cannot change.
func (d *DistributionSet) Complete(now time.Time) error {
	if d.locked {
		return ErrLocked
	}
	d.complete = true
	d.updatedAt = now
	return nil
}

// Invalidate withdraws the set irreversibly.
func (d *DistributionSet) Invalidate(inv Invalidation, now time.Time) error {
	if !d.complete {
		return fmt.Errorf("%w: %d", ErrIncomplete, d.id)
	}
	if !d.valid {
		return fmt.Errorf("%w: %d", ErrAlreadyInvalid, d.id)
	}
	d.valid = false
	d.updatedAt = now
	d.Record(&InvalidatedEvent{
		BaseEvent:       events.NewBaseEvent(d.tenant, d.id, EventTypeDistributionSetInvalidated, now),
		CancelationType: inv.CancelationType.String(),
		StopRollouts:    inv.StopRollouts,
	})
	return nil
}

// Repository persists distribution sets.
type Repository interface {
	Create(ctx context.Context, d *DistributionSet) error
	Update(ctx context.Context, d *DistributionSet) error
	GetByID(ctx context.Context, tenant string, id uint) (*DistributionSet, error)
}

// Package targetfilter holds stored target filter queries, their optional
// auto-assignment and the filter query grammar.
package targetfilter

import (
	"context"
	"errors"
	"fmt"
	"time"

	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

var ErrTargetFilterNotFound = errors.New("target filter query not found")

// TargetFilterQuery is a named filter that can auto-assign a set to matching targets.
type TargetFilterQuery struct {
	id                             uint
	tenant                         string
	name                           string
	query                          string
	autoAssignDistributionSetID    *uint
	autoAssignActionType           actionvo.ActionType
	autoAssignConfirmationRequired bool
	autoAssignInitiatedBy          string
	version                        int
	createdAt                      time.Time
	updatedAt                      time.Time
}

// NewTargetFilterQuery creates a filter after checking its syntax.
func NewTargetFilterQuery(tenant, name, query string, now time.Time) (*TargetFilterQuery, error) {
	if tenant == "" || name == "" {
		return nil, fmt.Errorf("tenant and name are required")
	}
	if _, err := ParseQuery(query); err != nil {
		return nil, err
	}
	return &TargetFilterQuery{
		tenant:    tenant,
		name:      name,
		query:     query,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructTargetFilterQuery rebuilds a filter from persistence.
func ReconstructTargetFilterQuery(
	id uint,
	tenant, name, query string,
	autoAssignDistributionSetID *uint,
	autoAssignActionType actionvo.ActionType,
	autoAssignConfirmationRequired bool,
	autoAssignInitiatedBy string,
	version int,
	createdAt, updatedAt time.Time,
) *TargetFilterQuery {
	return &TargetFilterQuery{
		id:                             id,
		tenant:                         tenant,
		name:                           name,
		query:                          query,
		autoAssignDistributionSetID:    autoAssignDistributionSetID,
		autoAssignActionType:           autoAssignActionType,
		autoAssignConfirmationRequired: autoAssignConfirmationRequired,
		autoAssignInitiatedBy:          autoAssignInitiatedBy,
		version:                        version,
		createdAt:                      createdAt,
		updatedAt:                      updatedAt,
	}
}

func (f *TargetFilterQuery) ID() uint                                  { return f.id }
func (f *TargetFilterQuery) Tenant() string                            { return f.tenant }
func (f *TargetFilterQuery) Name() string                              { return f.name }
func (f *TargetFilterQuery) Query() string                             { return f.query }
func (f *TargetFilterQuery) AutoAssignDistributionSetID() *uint        { return f.autoAssignDistributionSetID }
func (f *TargetFilterQuery) AutoAssignActionType() actionvo.ActionType { return f.autoAssignActionType }
func (f *TargetFilterQuery) AutoAssignConfirmationRequired() bool      { return f.autoAssignConfirmationRequired }
func (f *TargetFilterQuery) AutoAssignInitiatedBy() string             { return f.autoAssignInitiatedBy }
func (f *TargetFilterQuery) Version() int                              { return f.version }
func (f *TargetFilterQuery) CreatedAt() time.Time                      { return f.createdAt }
func (f *TargetFilterQuery) UpdatedAt() time.Time                      { return f.updatedAt }

// SetID sets the filter ID (only for persistence layer use)
func (f *TargetFilterQuery) SetID(id uint) {
	f.id = id
}

// SyncVersion stores the version written by the repository.
func (f *TargetFilterQuery) SyncVersion(version int) {
	f.version = version
}

// HasAutoAssignment reports whether a set is auto-assigned to matching targets.
func (f *TargetFilterQuery) HasAutoAssignment() bool {
	return f.autoAssignDistributionSetID != nil
}

// SetAutoAssignment configures the set that matching targets receive.
func (f *TargetFilterQuery) SetAutoAssignment(distributionSetID uint, actionType actionvo.ActionType, confirmationRequired bool, initiatedBy string, now time.Time) error {
	if distributionSetID == 0 {
		return fmt.Errorf("distribution set ID is required")
	}
	if actionType == "" {
		actionType = actionvo.ActionTypeForced
	}
	if !actionType.IsValid() || actionType == actionvo.ActionTypeTimeForced {
		return fmt.Errorf("action type %s cannot be auto-assigned", actionType)
	}
	id := distributionSetID
	f.autoAssignDistributionSetID = &id
	f.autoAssignActionType = actionType
	f.autoAssignConfirmationRequired = confirmationRequired
	f.autoAssignInitiatedBy = initiatedBy
	f.updatedAt = now
	return nil
}

// ClearAutoAssignment removes the auto-assigned set. It reports whether anything changed.
func (f *TargetFilterQuery) ClearAutoAssignment(now time.Time) bool {
	if f.autoAssignDistributionSetID == nil {
		return false
	}
	f.autoAssignDistributionSetID = nil
	f.autoAssignActionType = ""
	f.autoAssignConfirmationRequired = false
	f.autoAssignInitiatedBy = ""
	f.updatedAt = now
	return true
}

// Repository persists target filter queries.
type Repository interface {
	Create(ctx context.Context, f *TargetFilterQuery) error
	Update(ctx context.Context, f *TargetFilterQuery) error
	GetByID(ctx context.Context, tenant string, id uint) (*TargetFilterQuery, error)
	// ListWithAutoAssignment returns filters of every tenant that carry an auto-assigned set.
	ListWithAutoAssignment(ctx context.Context) ([]*TargetFilterQuery, error)
	ListByAutoAssignDistributionSet(ctx context.Context, tenant string, distributionSetID uint) ([]*TargetFilterQuery, error)
	CountByAutoAssignDistributionSet(ctx context.Context, tenant string, distributionSetID uint) (int64, error)
}

package services

import (
	"context"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// AssignParams describes a direct assignment.
type AssignParams struct {
	ActionType           actionvo.ActionType
	ForcedTime           *time.Time
	Weight               *int
	ConfirmationRequired bool
	InitiatedBy          string
}

// AssignResult summarises one assignment batch.
type AssignResult struct {
	ActionIDs       []uint
	AlreadyAssigned int
	CanceledPending int
	StartStats
}

// Assigner creates and starts actions outside of rollouts.
type Assigner struct {
	actionRepo action.Repository
	dsRepo     distributionset.Repository
	settings   tenantconfig.Provider
	starter    *ActionStarter
	logger     logger.Interface
}

// NewAssigner creates a new Assigner.
func NewAssigner(
	actionRepo action.Repository,
	dsRepo distributionset.Repository,
	settings tenantconfig.Provider,
	starter *ActionStarter,
	logger logger.Interface,
) *Assigner {
	return &Assigner{
		actionRepo: actionRepo,
		dsRepo:     dsRepo,
		settings:   settings,
		starter:    starter,
		logger:     logger,
	}
}

// Assign deploys ds to targets. Targets that already run an active action
// for ds are skipped. Must run inside a transaction.
func (s *Assigner) Assign(ctx context.Context, ds *distributionset.DistributionSet, targets []*target.Target, p AssignParams, now time.Time) (*AssignResult, error) {
	result := &AssignResult{}
	multi := s.settings.Get(ctx, ds.Tenant()).MultiAssignmentsEnabled

	created := make([]*action.Action, 0, len(targets))
	for _, t := range targets {
		existing, err := s.actionRepo.FindActiveByTargetAndDistributionSet(ctx, ds.Tenant(), t.ID(), ds.ID())
		if err != nil {
			return nil, err
		}
		if existing != nil {
			result.AlreadyAssigned++
			continue
		}

		if !multi {
			n, err := s.starter.CancelUnstarted(ctx, ds.Tenant(), t.ID(), now)
			if err != nil {
				return nil, err
			}
			result.CanceledPending += n
		}

		a, err := action.NewAction(action.NewActionParams{
			Tenant:            ds.Tenant(),
			TargetID:          t.ID(),
			ControllerID:      t.ControllerID(),
			DistributionSetID: ds.ID(),
			ActionType:        p.ActionType,
			ForcedTime:        p.ForcedTime,
			Weight:            p.Weight,
			InitiatedBy:       p.InitiatedBy,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := s.actionRepo.Create(ctx, a); err != nil {
			return nil, err
		}
		created = append(created, a)
	}

	stats, err := s.starter.Start(ctx, ds.Tenant(), created, p.ConfirmationRequired, now)
	if err != nil {
		return nil, err
	}
	result.StartStats = stats
	for _, a := range created {
		result.ActionIDs = append(result.ActionIDs, a.ID())
	}

	if len(created) > 0 && ds.Lock(now) {
		if err := s.dsRepo.Update(ctx, ds); err != nil {
			return nil, err
		}
		common.RecordEvents(ctx, ds)
	}
	return result, nil
}

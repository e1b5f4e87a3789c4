package services

import (
	"context"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/domain/tenantconfig"
	apperrors "github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// StartStats counts how started actions came out of the confirmation gate.
type StartStats struct {
	Running                int
	WaitingForConfirmation int
	Overridden             int
}

// ActionStarter activates scheduled actions. It applies the confirmation
// gate, supersedes older actions of the target and marks the target pending.
// Callers run it inside their transaction.
type ActionStarter struct {
	actionRepo action.Repository
	statusRepo action.StatusRepository
	targetRepo target.Repository
	settings   tenantconfig.Provider
	canceler   *ActionCanceler
	logger     logger.Interface
}

// NewActionStarter creates a new ActionStarter.
func NewActionStarter(
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	targetRepo target.Repository,
	settings tenantconfig.Provider,
	canceler *ActionCanceler,
	logger logger.Interface,
) *ActionStarter {
	return &ActionStarter{
		actionRepo: actionRepo,
		statusRepo: statusRepo,
		targetRepo: targetRepo,
		settings:   settings,
		canceler:   canceler,
		logger:     logger,
	}
}

// Start activates the given scheduled actions of one tenant.
func (s *ActionStarter) Start(ctx context.Context, tenant string, actions []*action.Action, confirmationRequired bool, now time.Time) (StartStats, error) {
	var stats StartStats
	if len(actions) == 0 {
		return stats, nil
	}

	settings := s.settings.Get(ctx, tenant)
	targets := make(map[uint]*target.Target, len(actions))

	for _, a := range actions {
		t, ok := targets[a.TargetID()]
		if !ok {
			var err error
			t, err = s.targetRepo.GetByID(ctx, tenant, a.TargetID())
			if err != nil {
				return stats, fmt.Errorf("failed to get target: %w", err)
			}
			if t == nil {
				return stats, apperrors.NewNotFoundError("target not found", fmt.Sprintf("target %d", a.TargetID())).
					WithCause(target.ErrTargetNotFound)
			}
			targets[a.TargetID()] = t
		}

		overridden, err := s.supersede(ctx, a, settings.MultiAssignmentsEnabled, now)
		if err != nil {
			return stats, err
		}
		stats.Overridden += overridden

		requires := t.RequiresConfirmation(settings.UserConfirmationEnabled, confirmationRequired)
		if err := a.Start(requires, now); err != nil {
			return stats, MapActionError(err)
		}
		if err := s.actionRepo.Update(ctx, a); err != nil {
			return stats, err
		}

		message := "assignment started"
		if requires {
			message = "waiting for confirmation"
			stats.WaitingForConfirmation++
		} else {
			stats.Running++
		}
		entry, err := action.NewActionStatusEntry(tenant, a.ID(), a.Status(), []string{message}, nil, now)
		if err != nil {
			return stats, err
		}
		if err := s.statusRepo.Create(ctx, entry); err != nil {
			return stats, err
		}

		t.AssignDistributionSet(a.DistributionSetID(), now)
		if err := s.targetRepo.Update(ctx, t); err != nil {
			return stats, err
		}
		common.RecordEvents(ctx, a, t)
	}

	return stats, nil
}

// supersede cancels the older active actions of the target that the new
// action replaces. An active action for the same set is always replaced,
// others only when multi-assignment is off.
func (s *ActionStarter) supersede(ctx context.Context, a *action.Action, multiAssignments bool, now time.Time) (int, error) {
	others, err := s.actionRepo.ListActiveByTarget(ctx, a.Tenant(), a.TargetID())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range others {
		if o.ID() == a.ID() {
			continue
		}
		sameSet := o.DistributionSetID() == a.DistributionSetID()
		if !sameSet && (multiAssignments || o.IsCanceling()) {
			continue
		}
		if err := s.canceler.Override(ctx, o, sameSet, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// CancelUnstarted closes the scheduled actions of a target that were never
// started, so a direct assignment takes precedence over pending rollouts.
func (s *ActionStarter) CancelUnstarted(ctx context.Context, tenant string, targetID uint, now time.Time) (int, error) {
	scheduled, err := s.actionRepo.ListScheduledByTarget(ctx, tenant, targetID)
	if err != nil {
		return 0, err
	}
	for _, a := range scheduled {
		if err := s.canceler.Override(ctx, a, false, now); err != nil {
			return 0, err
		}
	}
	return len(scheduled), nil
}

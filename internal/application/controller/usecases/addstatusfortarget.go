package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type AddStatusForTargetCommand struct {
	Tenant            string
	ControllerID      string
	DistributionSetID uint
	Status            actionvo.Status
	Messages          []string
	Code              *int
	OccurredAt        *time.Time
}

// AddStatusForTargetUseCase resolves the active action of a target for a
// distribution set and applies the feedback to it.
type AddStatusForTargetUseCase struct {
	targetRepo target.Repository
	actionRepo action.Repository
	addStatus  *AddActionStatusUseCase
	logger     logger.Interface
}

func NewAddStatusForTargetUseCase(
	targetRepo target.Repository,
	actionRepo action.Repository,
	addStatus *AddActionStatusUseCase,
	logger logger.Interface,
) *AddStatusForTargetUseCase {
	return &AddStatusForTargetUseCase{
		targetRepo: targetRepo,
		actionRepo: actionRepo,
		addStatus:  addStatus,
		logger:     logger,
	}
}

func (uc *AddStatusForTargetUseCase) Execute(ctx context.Context, cmd AddStatusForTargetCommand) (*AddActionStatusResult, error) {
	if cmd.Tenant == "" || cmd.ControllerID == "" || cmd.DistributionSetID == 0 {
		return nil, errors.NewValidationError("tenant, controller id and distribution set id are required")
	}

	t, err := uc.targetRepo.GetByControllerID(ctx, cmd.Tenant, cmd.ControllerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	if t == nil {
		return nil, errors.NewNotFoundError("target not found", cmd.ControllerID).WithCause(target.ErrTargetNotFound)
	}

	a, err := uc.actionRepo.FindActiveByTargetAndDistributionSet(ctx, cmd.Tenant, t.ID(), cmd.DistributionSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active action: %w", err)
	}
	if a == nil {
		uc.logger.Warnw("no active action for feedback",
			"controller_id", cmd.ControllerID,
			"distribution_set_id", cmd.DistributionSetID,
			"status", cmd.Status,
		)
		return nil, errors.NewNotFoundError("no active action for target and distribution set",
			fmt.Sprintf("%s/%d", cmd.ControllerID, cmd.DistributionSetID)).WithCause(action.ErrActionNotFound)
	}

	return uc.addStatus.Execute(ctx, AddActionStatusCommand{
		Tenant:     cmd.Tenant,
		ActionID:   a.ID(),
		Status:     cmd.Status,
		Messages:   cmd.Messages,
		Code:       cmd.Code,
		OccurredAt: cmd.OccurredAt,
	})
}

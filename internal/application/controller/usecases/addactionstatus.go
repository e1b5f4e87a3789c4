package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type AddActionStatusCommand struct {
	Tenant   string
	ActionID uint
	Status   actionvo.Status
	Messages []string
	Code     *int
	// OccurredAt defaults to now.
	OccurredAt *time.Time
}

type AddActionStatusResult struct {
	ActionID uint            `json:"action_id"`
	Status   actionvo.Status `json:"status"`
	Outcome  string          `json:"outcome"`
	// Rejected is set when feedback for a closed action was dropped.
	Rejected bool `json:"rejected"`
}

// AddActionStatusUseCase applies device feedback to an action and keeps
// the target's update status in line with it.
type AddActionStatusUseCase struct {
	actionRepo action.Repository
	statusRepo action.StatusRepository
	targetRepo target.Repository
	canceler   *services.ActionCanceler
	txMgr      db.Transactor
	publisher  events.EventPublisher
	metrics    common.MetricsRecorder
	logger     logger.Interface

	rejectClosed bool
}

func NewAddActionStatusUseCase(
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	targetRepo target.Repository,
	canceler *services.ActionCanceler,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	metrics common.MetricsRecorder,
	rejectClosed bool,
	logger logger.Interface,
) *AddActionStatusUseCase {
	return &AddActionStatusUseCase{
		actionRepo:   actionRepo,
		statusRepo:   statusRepo,
		targetRepo:   targetRepo,
		canceler:     canceler,
		txMgr:        txMgr,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		rejectClosed: rejectClosed,
	}
}

func (uc *AddActionStatusUseCase) Execute(ctx context.Context, cmd AddActionStatusCommand) (*AddActionStatusResult, error) {
	uc.logger.Debugw("executing add action status use case",
		"tenant", cmd.Tenant,
		"action_id", cmd.ActionID,
		"status", cmd.Status,
	)

	if cmd.Tenant == "" || cmd.ActionID == 0 {
		return nil, errors.NewValidationError("tenant and action id are required")
	}
	if !cmd.Status.IsValid() {
		return nil, errors.NewValidationError("invalid action status", string(cmd.Status))
	}

	now := biztime.NowUTC()
	occurredAt := now
	if cmd.OccurredAt != nil {
		occurredAt = cmd.OccurredAt.UTC()
	}

	ctx, buf := common.WithEventBuffer(ctx)

	var (
		result   *AddActionStatusResult
		rejected *action.FeedbackRejectedEvent
	)
	err := uc.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
		a, err := uc.actionRepo.GetByID(txCtx, cmd.Tenant, cmd.ActionID)
		if err != nil {
			return fmt.Errorf("failed to get action: %w", err)
		}
		if a == nil {
			return errors.NewNotFoundError("action not found", fmt.Sprintf("action %d", cmd.ActionID)).
				WithCause(action.ErrActionNotFound)
		}

		if a.IsTerminal() {
			result = &AddActionStatusResult{ActionID: a.ID(), Status: a.Status(), Outcome: action.OutcomeUnchanged.String()}
			if uc.rejectClosed {
				result.Rejected = true
				rejected = action.NewFeedbackRejectedEvent(a, cmd.Status, now)
				return nil
			}
			// Audit only: the closed action and its target stay as they are.
			return uc.appendStatus(txCtx, a, cmd, occurredAt)
		}

		outcome, err := a.ApplyDeviceStatus(cmd.Status, now)
		if err != nil {
			return services.MapActionError(err)
		}
		if outcome != action.OutcomeUnchanged {
			if err := uc.actionRepo.Update(txCtx, a); err != nil {
				return err
			}
		}
		if err := uc.appendStatus(txCtx, a, cmd, occurredAt); err != nil {
			return err
		}
		if err := uc.applyToTarget(txCtx, a, outcome, now); err != nil {
			return err
		}
		common.RecordEvents(txCtx, a)

		result = &AddActionStatusResult{ActionID: a.ID(), Status: a.Status(), Outcome: outcome.String()}
		return nil
	})
	if err != nil {
		buf.Discard()
		uc.logger.Errorw("failed to add action status",
			"error", err,
			"action_id", cmd.ActionID,
			"status", cmd.Status,
		)
		return nil, err
	}
	buf.Flush(uc.publisher, uc.logger)

	if rejected != nil {
		uc.logger.Warnw("dropped feedback for closed action",
			"action_id", cmd.ActionID,
			"action_status", result.Status,
			"reported_status", cmd.Status,
		)
		if err := uc.publisher.Publish(rejected); err != nil {
			uc.logger.Warnw("failed to publish feedback rejected event", "error", err, "action_id", cmd.ActionID)
		}
	}

	uc.metrics.ActionStatusReported(string(cmd.Status), result.Outcome)
	return result, nil
}

func (uc *AddActionStatusUseCase) appendStatus(ctx context.Context, a *action.Action, cmd AddActionStatusCommand, occurredAt time.Time) error {
	entry, err := action.NewActionStatusEntry(a.Tenant(), a.ID(), cmd.Status, cmd.Messages, cmd.Code, occurredAt)
	if err != nil {
		return errors.NewValidationError(err.Error())
	}
	return uc.statusRepo.Create(ctx, entry)
}

func (uc *AddActionStatusUseCase) applyToTarget(ctx context.Context, a *action.Action, outcome action.Outcome, now time.Time) error {
	switch outcome {
	case action.OutcomeCanceled:
		return uc.canceler.RestoreTarget(ctx, a, now)
	case action.OutcomeFinished, action.OutcomeError, action.OutcomeDownloaded:
	default:
		return nil
	}

	t, err := uc.targetRepo.GetByID(ctx, a.Tenant(), a.TargetID())
	if err != nil {
		return fmt.Errorf("failed to get target: %w", err)
	}
	if t == nil {
		return errors.NewNotFoundError("target not found").WithCause(target.ErrTargetNotFound)
	}

	switch outcome {
	case action.OutcomeError:
		t.MarkError(now)
	default:
		others, err := uc.actionRepo.ListActiveByTarget(ctx, a.Tenant(), t.ID())
		if err != nil {
			return err
		}
		otherActive := false
		for _, o := range others {
			if o.ID() != a.ID() {
				otherActive = true
				break
			}
		}
		if outcome == action.OutcomeFinished {
			t.MarkInstalled(a.DistributionSetID(), otherActive, now)
		} else {
			t.CompleteWithoutInstall(otherActive, now)
		}
	}

	if err := uc.targetRepo.Update(ctx, t); err != nil {
		return err
	}
	common.RecordEvents(ctx, t)
	return nil
}

// Package services holds the assignment, start and cancellation logic shared
// by direct assignments, rollouts and invalidations.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	apperrors "github.com/orris-inc/rolloutd/internal/shared/errors"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// ActionCanceler withdraws actions and restores the affected targets.
// Callers run it inside their transaction.
type ActionCanceler struct {
	actionRepo action.Repository
	statusRepo action.StatusRepository
	targetRepo target.Repository
	logger     logger.Interface
}

// NewActionCanceler creates a new ActionCanceler.
func NewActionCanceler(
	actionRepo action.Repository,
	statusRepo action.StatusRepository,
	targetRepo target.Repository,
	logger logger.Interface,
) *ActionCanceler {
	return &ActionCanceler{
		actionRepo: actionRepo,
		statusRepo: statusRepo,
		targetRepo: targetRepo,
		logger:     logger,
	}
}

// Cancel withdraws an action. A soft cancel asks the device to acknowledge,
// except for actions that are effectively forced, which are canceled at once.
// The target is restored whenever the action closed.
func (c *ActionCanceler) Cancel(ctx context.Context, a *action.Action, mode actionvo.CancelationType, now time.Time) (action.CancelOutcome, error) {
	return c.cancel(ctx, a, mode, true, now)
}

// Override cancels an action superseded by a newer assignment of the same
// target. The target is left alone since the new assignment updates it.
func (c *ActionCanceler) Override(ctx context.Context, a *action.Action, force bool, now time.Time) error {
	mode := actionvo.CancelationSoft
	if force {
		mode = actionvo.CancelationForce
	}
	_, err := c.cancel(ctx, a, mode, false, now)
	if errors.Is(err, action.ErrAlreadyCanceling) {
		return nil
	}
	return err
}

// ForceQuit closes an action that is stuck waiting for a cancel acknowledgement.
func (c *ActionCanceler) ForceQuit(ctx context.Context, a *action.Action, now time.Time) error {
	if !a.IsCanceling() {
		return apperrors.NewInvalidStateError("only a canceling action can be force quit",
			fmt.Sprintf("action %d is %s", a.ID(), a.Status()))
	}
	if err := a.ForceCancel(now); err != nil {
		return MapActionError(err)
	}
	if err := c.persist(ctx, a, []string{"action force quit"}, now); err != nil {
		return err
	}
	return c.RestoreTarget(ctx, a, now)
}

func (c *ActionCanceler) cancel(ctx context.Context, a *action.Action, mode actionvo.CancelationType, restore bool, now time.Time) (action.CancelOutcome, error) {
	var (
		outcome action.CancelOutcome
		message string
	)
	switch mode {
	case actionvo.CancelationForce:
		if err := a.ForceCancel(now); err != nil {
			return outcome, MapActionError(err)
		}
		outcome = action.CancelEscalated
		message = "action force canceled"
	case actionvo.CancelationSoft:
		out, err := a.RequestCancel(now)
		if err != nil {
			return out, MapActionError(err)
		}
		outcome = out
		switch out {
		case action.CancelRequested:
			message = "cancellation requested"
		case action.CancelClosed:
			message = "scheduled action canceled"
		case action.CancelEscalated:
			message = "forced action canceled without acknowledgement"
		}
	default:
		return outcome, apperrors.NewValidationError("invalid cancelation type", string(mode))
	}

	if err := c.persist(ctx, a, []string{message}, now); err != nil {
		return outcome, err
	}

	if restore && outcome != action.CancelRequested {
		if err := c.RestoreTarget(ctx, a, now); err != nil {
			return outcome, err
		}
	}

	c.logger.Debugw("action canceled",
		"action_id", a.ID(),
		"mode", mode,
		"status", a.Status(),
	)
	return outcome, nil
}

// RestoreTarget recomputes the assignment of a target after one of its
// actions was canceled.
func (c *ActionCanceler) RestoreTarget(ctx context.Context, a *action.Action, now time.Time) error {
	t, err := c.targetRepo.GetByID(ctx, a.Tenant(), a.TargetID())
	if err != nil {
		return fmt.Errorf("failed to get target: %w", err)
	}
	if t == nil {
		return apperrors.NewNotFoundError("target not found", fmt.Sprintf("target %d", a.TargetID())).
			WithCause(target.ErrTargetNotFound)
	}

	remaining, err := c.actionRepo.ListActiveByTarget(ctx, a.Tenant(), a.TargetID())
	if err != nil {
		return err
	}
	var next *uint
	for _, r := range remaining {
		if r.ID() == a.ID() || r.IsCanceling() {
			continue
		}
		ds := r.DistributionSetID()
		next = &ds
	}

	t.RestoreAfterCancel(next, now)
	if err := c.targetRepo.Update(ctx, t); err != nil {
		return err
	}
	common.RecordEvents(ctx, t)
	return nil
}

func (c *ActionCanceler) persist(ctx context.Context, a *action.Action, messages []string, now time.Time) error {
	if err := c.actionRepo.Update(ctx, a); err != nil {
		return err
	}
	entry, err := action.NewActionStatusEntry(a.Tenant(), a.ID(), a.Status(), messages, nil, now)
	if err != nil {
		return err
	}
	if err := c.statusRepo.Create(ctx, entry); err != nil {
		return err
	}
	common.RecordEvents(ctx, a)
	return nil
}

// MapActionError turns action state machine failures into invalid state errors.
func MapActionError(err error) error {
	switch {
	case errors.Is(err, action.ErrAlreadyCanceling),
		errors.Is(err, action.ErrActionClosed),
		errors.Is(err, action.ErrInvalidStatusTransition),
		errors.Is(err, action.ErrNotAwaitingConfirmation),
		errors.Is(err, action.ErrNotCanceling),
		errors.Is(err, action.ErrActionNotStarted),
		errors.Is(err, action.ErrAwaitingConfirmation):
		return apperrors.NewInvalidStateError(err.Error()).WithCause(err)
	default:
		return err
	}
}

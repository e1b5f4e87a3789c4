// Package services holds the rollout control loop.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/orris-inc/rolloutd/internal/application/common"
	deploysvc "github.com/orris-inc/rolloutd/internal/application/deployment/services"
	"github.com/orris-inc/rolloutd/internal/domain/action"
	actionvo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/distributionset"
	"github.com/orris-inc/rolloutd/internal/domain/rollout"
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
	"github.com/orris-inc/rolloutd/internal/domain/shared/events"
	"github.com/orris-inc/rolloutd/internal/domain/target"
	"github.com/orris-inc/rolloutd/internal/shared/biztime"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/db"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// ExecutorOptions bounds the size of the transactions a tick opens.
type ExecutorOptions struct {
	TransactionTargets int
	TransactionActions int
}

// RolloutExecutor advances one rollout by one step of its lifecycle.
type RolloutExecutor struct {
	rolloutRepo rollout.Repository
	groupRepo   rollout.GroupRepository
	actionRepo  action.Repository
	targetRepo  target.Repository
	dsRepo      distributionset.Repository
	starter     *deploysvc.ActionStarter
	canceler    *deploysvc.ActionCanceler
	txMgr       db.Transactor
	publisher   events.EventPublisher
	metrics     common.MetricsRecorder
	opts        ExecutorOptions
	logger      logger.Interface
}

func NewRolloutExecutor(
	rolloutRepo rollout.Repository,
	groupRepo rollout.GroupRepository,
	actionRepo action.Repository,
	targetRepo target.Repository,
	dsRepo distributionset.Repository,
	starter *deploysvc.ActionStarter,
	canceler *deploysvc.ActionCanceler,
	txMgr db.Transactor,
	publisher events.EventPublisher,
	metrics common.MetricsRecorder,
	opts ExecutorOptions,
	logger logger.Interface,
) *RolloutExecutor {
	if opts.TransactionTargets <= 0 {
		opts.TransactionTargets = constants.DefaultTransactionTargets
	}
	if opts.TransactionActions <= 0 {
		opts.TransactionActions = constants.DefaultTransactionActions
	}
	return &RolloutExecutor{
		rolloutRepo: rolloutRepo,
		groupRepo:   groupRepo,
		actionRepo:  actionRepo,
		targetRepo:  targetRepo,
		dsRepo:      dsRepo,
		starter:     starter,
		canceler:    canceler,
		txMgr:       txMgr,
		publisher:   publisher,
		metrics:     metrics,
		opts:        opts,
		logger:      logger,
	}
}

// Execute runs the handler for the rollout's current status.
func (e *RolloutExecutor) Execute(ctx context.Context, r *rollout.Rollout) error {
	var err error
	switch r.Status() {
	case vo.RolloutStatusCreating:
		err = e.handleCreating(ctx, r)
	case vo.RolloutStatusReady:
		err = e.handleReady(ctx, r)
	case vo.RolloutStatusStarting:
		err = e.handleStarting(ctx, r)
	case vo.RolloutStatusRunning:
		err = e.handleRunning(ctx, r)
	case vo.RolloutStatusStopping:
		err = e.handleStopping(ctx, r)
	case vo.RolloutStatusDeleting:
		err = e.handleDeleting(ctx, r)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("rollout %d (%s): %w", r.ID(), r.Status(), err)
	}
	return nil
}

func (e *RolloutExecutor) handleCreating(ctx context.Context, r *rollout.Rollout) error {
	now := biztime.NowUTC()

	ds, err := e.dsRepo.GetByID(ctx, r.Tenant(), r.DistributionSetID())
	if err != nil {
		return err
	}
	if ds == nil || ds.CheckAssignable() != nil {
		e.logger.Warnw("distribution set not assignable, rollout cannot be created",
			"rollout_id", r.ID(),
			"distribution_set_id", r.DistributionSetID(),
		)
		return e.transition(ctx, r, r.MarkErrorCreating)
	}

	groups, err := e.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return err
	}

	var total int64
	for _, g := range groups {
		if g.Status() == vo.GroupStatusCreating {
			if err := e.fillGroup(ctx, r, g); err != nil {
				return err
			}
		}
		total += g.TotalTargets()
	}

	return e.save(ctx, r, func(txCtx context.Context) error {
		r.SetTotalTargets(total, now)
		if total == 0 {
			e.logger.Warnw("rollout matched no targets", "rollout_id", r.ID())
			return r.MarkErrorCreating(now)
		}
		return r.MarkReady(now)
	})
}

// fillGroup assigns targets to a group in chunks. Every chunk picks only
// targets that are in no group of the rollout yet, so an interrupted run
// resumes where it stopped.
func (e *RolloutExecutor) fillGroup(ctx context.Context, r *rollout.Rollout, g *rollout.Group) error {
	assigned, err := e.groupRepo.CountMembers(ctx, r.Tenant(), g.ID())
	if err != nil {
		return err
	}

	for assigned < g.TotalTargets() {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := g.TotalTargets() - assigned
		if limit > int64(e.opts.TransactionTargets) {
			limit = int64(e.opts.TransactionTargets)
		}

		var added int
		err := e.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
			candidates, err := e.targetRepo.FindRolloutCandidates(txCtx, r.Tenant(), target.RolloutCandidates{
				RolloutID:     r.ID(),
				Query:         r.TargetFilterQuery(),
				GroupQuery:    g.TargetFilterQuery(),
				CreatedBefore: r.CreatedAt(),
			}, int(limit))
			if err != nil {
				return err
			}
			members := make([]rollout.GroupMember, 0, len(candidates))
			for _, t := range candidates {
				members = append(members, rollout.GroupMember{TargetID: t.ID(), ControllerID: t.ControllerID()})
			}
			added = len(members)
			if added == 0 {
				return nil
			}
			return e.groupRepo.AddMembers(txCtx, r.Tenant(), r.ID(), g.ID(), members)
		})
		if err != nil {
			return err
		}
		if added == 0 {
			break
		}
		assigned += int64(added)
	}

	now := biztime.NowUTC()
	if assigned != g.TotalTargets() {
		e.logger.Infow("rollout group shrank, matching targets ran out",
			"rollout_id", r.ID(),
			"group_id", g.ID(),
			"planned", g.TotalTargets(),
			"assigned", assigned,
		)
	}
	return e.saveGroup(ctx, g, func() error {
		g.SetTotalTargets(assigned, now)
		return g.MarkReady(now)
	})
}

func (e *RolloutExecutor) handleReady(ctx context.Context, r *rollout.Rollout) error {
	now := biztime.NowUTC()
	if !r.ShouldAutoStart(now) {
		return nil
	}
	if err := e.transition(ctx, r, r.Start); err != nil {
		return err
	}
	return e.handleStarting(ctx, r)
}

func (e *RolloutExecutor) handleStarting(ctx context.Context, r *rollout.Rollout) error {
	ds, err := e.dsRepo.GetByID(ctx, r.Tenant(), r.DistributionSetID())
	if err != nil {
		return err
	}
	if ds == nil || ds.CheckAssignable() != nil {
		e.logger.Warnw("distribution set not assignable, rollout cannot start",
			"rollout_id", r.ID(),
			"distribution_set_id", r.DistributionSetID(),
		)
		return e.transition(ctx, r, r.MarkErrorStarting)
	}

	groups, err := e.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return e.transition(ctx, r, r.MarkErrorStarting)
	}

	for _, g := range groups {
		if g.Status() != vo.GroupStatusReady && g.Status() != vo.GroupStatusScheduled {
			continue
		}
		if err := e.createScheduledActions(ctx, r, g); err != nil {
			return err
		}
		if err := e.saveGroup(ctx, g, func() error { return g.Schedule(biztime.NowUTC()) }); err != nil {
			return err
		}
	}

	now := biztime.NowUTC()
	if ds.Lock(now) {
		if err := e.dsRepo.Update(ctx, ds); err != nil {
			return err
		}
	}

	if first := groups[0]; first.Status() == vo.GroupStatusScheduled {
		if err := e.startGroup(ctx, r, first); err != nil {
			return err
		}
	}
	return e.transition(ctx, r, r.MarkRunning)
}

// StartNextGroup starts the first scheduled group of a running rollout
// without waiting for the running groups to meet their conditions.
func (e *RolloutExecutor) StartNextGroup(ctx context.Context, r *rollout.Rollout) (*rollout.Group, error) {
	if r.Status() != vo.RolloutStatusRunning {
		return nil, rollout.ErrInvalidTransition(r.Status(), vo.RolloutStatusRunning)
	}
	groups, err := e.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Status() == vo.GroupStatusScheduled {
			return g, e.startGroup(ctx, r, g)
		}
	}
	return nil, rollout.ErrNoScheduledGroup
}

// createScheduledActions creates the inactive placeholder actions of a group.
// Members that already have an action for the group are skipped.
func (e *RolloutExecutor) createScheduledActions(ctx context.Context, r *rollout.Rollout, g *rollout.Group) error {
	rolloutID, groupID := r.ID(), g.ID()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var created int
		err := e.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
			members, err := e.groupRepo.ListMembersWithoutAction(txCtx, r.Tenant(), g.ID(), e.opts.TransactionActions)
			if err != nil {
				return err
			}
			if len(members) == 0 {
				return nil
			}
			now := biztime.NowUTC()
			actions := make([]*action.Action, 0, len(members))
			for _, m := range members {
				a, err := action.NewScheduledAction(action.NewActionParams{
					Tenant:            r.Tenant(),
					TargetID:          m.TargetID,
					ControllerID:      m.ControllerID,
					DistributionSetID: r.DistributionSetID(),
					RolloutID:         &rolloutID,
					RolloutGroupID:    &groupID,
					ActionType:        r.ActionType(),
					ForcedTime:        r.ForcedTime(),
					Weight:            r.Weight(),
					InitiatedBy:       r.CreatedBy(),
				}, now)
				if err != nil {
					return err
				}
				actions = append(actions, a)
			}
			created = len(actions)
			return e.actionRepo.CreateBatch(txCtx, actions)
		})
		if err != nil {
			return err
		}
		if created == 0 {
			return nil
		}
		e.logger.Debugw("created scheduled actions", "rollout_id", r.ID(), "group_id", g.ID(), "count", created)
	}
}

// startGroup marks the group running and activates its scheduled actions.
func (e *RolloutExecutor) startGroup(ctx context.Context, r *rollout.Rollout, g *rollout.Group) error {
	err := e.advance(ctx, r, func(txCtx context.Context) error {
		if err := g.StartRunning(biztime.NowUTC()); err != nil {
			return err
		}
		if err := e.groupRepo.Update(txCtx, g); err != nil {
			return err
		}
		common.RecordEvents(txCtx, g)
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Infow("rollout group started",
		"rollout_id", r.ID(),
		"group_id", g.ID(),
		"position", g.Position(),
		"targets", g.TotalTargets(),
	)
	return e.activateScheduled(ctx, r, g)
}

// activateScheduled starts the remaining scheduled actions of a running group.
func (e *RolloutExecutor) activateScheduled(ctx context.Context, r *rollout.Rollout, g *rollout.Group) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var started int
		err := e.advance(ctx, r, func(txCtx context.Context) error {
			scheduled, err := e.actionRepo.ListScheduledByGroup(txCtx, r.Tenant(), g.ID(), e.opts.TransactionActions)
			if err != nil {
				return err
			}
			if len(scheduled) == 0 {
				return nil
			}
			started = len(scheduled)
			_, err = e.starter.Start(txCtx, r.Tenant(), scheduled, g.IsConfirmationRequired(), biztime.NowUTC())
			return err
		})
		if err != nil {
			return err
		}
		if started == 0 {
			return nil
		}
	}
}

func (e *RolloutExecutor) handleRunning(ctx context.Context, r *rollout.Rollout) error {
	groups, err := e.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return err
	}

	running := false
	for _, g := range groups {
		if g.Status() != vo.GroupStatusRunning {
			continue
		}
		paused, done, err := e.evaluateGroup(ctx, r, g)
		if err != nil {
			return err
		}
		if paused {
			return nil
		}
		if !done {
			running = true
		}
	}
	if running {
		return nil
	}

	for _, g := range groups {
		if g.Status() == vo.GroupStatusScheduled {
			return e.startGroup(ctx, r, g)
		}
	}

	e.logger.Infow("rollout finished", "rollout_id", r.ID())
	return e.transition(ctx, r, r.Finish)
}

// evaluateGroup applies the group's conditions. It reports whether the
// rollout was paused and whether the group left RUNNING.
func (e *RolloutExecutor) evaluateGroup(ctx context.Context, r *rollout.Rollout, g *rollout.Group) (paused, done bool, err error) {
	if err := e.activateScheduled(ctx, r, g); err != nil {
		return false, false, err
	}

	counts, err := e.actionRepo.CountGroupStatuses(ctx, r.Tenant(), g.ID())
	if err != nil {
		return false, false, err
	}
	tally := rollout.GroupCounts{
		Total:    g.TotalTargets(),
		Finished: counts.Finished,
		Error:    counts.Error,
		Closed:   counts.Closed,
	}
	verdict := g.Evaluate(tally)
	pauseOnError := g.ErrorAction() == vo.ErrorActionPause

	now := biztime.NowUTC()
	switch {
	case verdict.ErrorTriggered && pauseOnError:
		e.logger.Warnw("rollout group error threshold reached, pausing rollout",
			"rollout_id", r.ID(),
			"group_id", g.ID(),
			"errors", counts.Error,
			"error_ratio", tally.ErrorRatio(),
			"targets", g.TotalTargets(),
		)
		return true, true, e.markGroupError(ctx, r, g, true, now)
	case verdict.SuccessTriggered:
		e.logger.Infow("rollout group success threshold reached",
			"rollout_id", r.ID(),
			"group_id", g.ID(),
			"finished", counts.Finished,
			"success_ratio", tally.SuccessRatio(),
			"targets", g.TotalTargets(),
		)
		return false, true, e.saveGroup(ctx, g, func() error { return g.Finish(now) })
	case verdict.Complete:
		// Every action ended without reaching the success threshold.
		e.logger.Warnw("rollout group completed without success",
			"rollout_id", r.ID(),
			"group_id", g.ID(),
			"finished", counts.Finished,
			"success_ratio", tally.SuccessRatio(),
			"error_ratio", tally.ErrorRatio(),
			"targets", g.TotalTargets(),
		)
		return pauseOnError, true, e.markGroupError(ctx, r, g, pauseOnError, now)
	}
	return false, false, nil
}

func (e *RolloutExecutor) markGroupError(ctx context.Context, r *rollout.Rollout, g *rollout.Group, pause bool, now time.Time) error {
	err := common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
		if err := g.MarkError(now); err != nil {
			return err
		}
		if err := e.groupRepo.Update(txCtx, g); err != nil {
			return err
		}
		common.RecordEvents(txCtx, g)
		if !pause {
			return nil
		}
		if err := r.Pause(now); err != nil {
			return err
		}
		if err := e.rolloutRepo.Update(txCtx, r); err != nil {
			return err
		}
		common.RecordEvents(txCtx, r)
		return nil
	})
	if err == nil && pause {
		e.metrics.RolloutTransition(string(r.Status()))
	}
	return err
}

func (e *RolloutExecutor) handleStopping(ctx context.Context, r *rollout.Rollout) error {
	now := biztime.NowUTC()

	if _, err := e.actionRepo.DeleteScheduledByRollout(ctx, r.Tenant(), r.ID()); err != nil {
		return err
	}
	if err := e.cancelActive(ctx, r, actionvo.CancelationSoft); err != nil {
		return err
	}
	if err := e.finishGroups(ctx, r, now); err != nil {
		return err
	}

	remaining, err := e.actionRepo.CountActiveByRollout(ctx, r.Tenant(), r.ID(), actionvo.StatusCanceling)
	if err != nil {
		return err
	}
	if remaining > 0 {
		e.logger.Debugw("stopping rollout still has active actions", "rollout_id", r.ID(), "remaining", remaining)
		return nil
	}
	e.logger.Infow("rollout stopped", "rollout_id", r.ID())
	return e.transition(ctx, r, r.Finish)
}

func (e *RolloutExecutor) handleDeleting(ctx context.Context, r *rollout.Rollout) error {
	started, err := e.actionRepo.CountStartedByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return err
	}

	if started == 0 {
		err := e.txMgr.RunInTransaction(ctx, func(txCtx context.Context) error {
			if _, err := e.actionRepo.DeleteByRollout(txCtx, r.Tenant(), r.ID()); err != nil {
				return err
			}
			if err := e.groupRepo.DeleteMembersByRollout(txCtx, r.Tenant(), r.ID()); err != nil {
				return err
			}
			if err := e.groupRepo.DeleteByRollout(txCtx, r.Tenant(), r.ID()); err != nil {
				return err
			}
			return e.rolloutRepo.Delete(txCtx, r.Tenant(), r.ID())
		})
		if err != nil {
			return err
		}
		e.logger.Infow("rollout deleted", "rollout_id", r.ID())
		e.metrics.RolloutTransition(string(vo.RolloutStatusDeleted))
		return nil
	}

	now := biztime.NowUTC()
	if _, err := e.actionRepo.DeleteScheduledByRollout(ctx, r.Tenant(), r.ID()); err != nil {
		return err
	}
	if err := e.cancelActive(ctx, r, actionvo.CancelationForce); err != nil {
		return err
	}
	if err := e.finishGroups(ctx, r, now); err != nil {
		return err
	}
	e.logger.Infow("rollout soft deleted", "rollout_id", r.ID(), "started_actions", started)
	return e.transition(ctx, r, r.MarkDeleted)
}

// cancelActive cancels the active actions of a rollout chunk by chunk.
// Soft mode leaves actions that already wait for the device alone.
func (e *RolloutExecutor) cancelActive(ctx context.Context, r *rollout.Rollout, mode actionvo.CancelationType) error {
	active, err := e.actionRepo.ListActiveByRollout(ctx, r.Tenant(), r.ID(), 0)
	if err != nil {
		return err
	}
	pending := active[:0]
	for _, a := range active {
		if mode == actionvo.CancelationSoft && a.IsCanceling() {
			continue
		}
		pending = append(pending, a)
	}

	for start := 0; start < len(pending); start += e.opts.TransactionActions {
		end := min(start+e.opts.TransactionActions, len(pending))
		chunk := pending[start:end]
		err := common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
			now := biztime.NowUTC()
			for _, a := range chunk {
				if _, err := e.canceler.Cancel(txCtx, a, mode, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		e.logger.Infow("canceled rollout actions", "rollout_id", r.ID(), "count", len(pending), "mode", mode)
	}
	return nil
}

func (e *RolloutExecutor) finishGroups(ctx context.Context, r *rollout.Rollout, now time.Time) error {
	groups, err := e.groupRepo.ListByRollout(ctx, r.Tenant(), r.ID())
	if err != nil {
		return err
	}
	return common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
		for _, g := range groups {
			if !g.ForceFinish(now) {
				continue
			}
			if err := e.groupRepo.Update(txCtx, g); err != nil {
				return err
			}
			common.RecordEvents(txCtx, g)
		}
		return nil
	})
}

// transition applies a status change to the rollout and persists it.
func (e *RolloutExecutor) transition(ctx context.Context, r *rollout.Rollout, change func(now time.Time) error) error {
	return e.save(ctx, r, func(context.Context) error {
		return change(biztime.NowUTC())
	})
}

func (e *RolloutExecutor) save(ctx context.Context, r *rollout.Rollout, change func(txCtx context.Context) error) error {
	before := r.Status()
	err := common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
		if err := change(txCtx); err != nil {
			return err
		}
		if err := e.rolloutRepo.Update(txCtx, r); err != nil {
			return err
		}
		common.RecordEvents(txCtx, r)
		return nil
	})
	if err != nil {
		return err
	}
	if r.Status() != before {
		e.logger.Infow("rollout status changed", "rollout_id", r.ID(), "from", before, "to", r.Status())
		e.metrics.RolloutTransition(string(r.Status()))
	}
	return nil
}

// advance runs fn in a transaction that first rewrites the rollout row under
// the version it was loaded with. A rollout paused, stopped or deleted since
// then fails the transaction with a conflict, so no group progresses on a
// stale view.
func (e *RolloutExecutor) advance(ctx context.Context, r *rollout.Rollout, fn func(txCtx context.Context) error) error {
	switch r.Status() {
	case vo.RolloutStatusStarting, vo.RolloutStatusRunning:
	default:
		return rollout.ErrInvalidTransition(r.Status(), vo.RolloutStatusRunning)
	}
	version := r.Version()
	err := common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
		if err := e.rolloutRepo.Update(txCtx, r); err != nil {
			return err
		}
		return fn(txCtx)
	})
	if err != nil {
		r.SyncVersion(version)
	}
	return err
}

func (e *RolloutExecutor) saveGroup(ctx context.Context, g *rollout.Group, change func() error) error {
	return common.RunAndPublish(ctx, e.txMgr, e.publisher, e.logger, func(txCtx context.Context) error {
		if err := change(); err != nil {
			return err
		}
		if err := e.groupRepo.Update(txCtx, g); err != nil {
			return err
		}
		common.RecordEvents(txCtx, g)
		return nil
	})
}

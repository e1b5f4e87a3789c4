package action

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAction(t *testing.T, actionType vo.ActionType, forcedTime *time.Time) *Action {
	t.Helper()
	a, err := NewAction(NewActionParams{
		Tenant:            "default",
		TargetID:          7,
		ControllerID:      "dev-7",
		DistributionSetID: 3,
		ActionType:        actionType,
		ForcedTime:        forcedTime,
	}, baseTime)
	require.NoError(t, err)
	require.NoError(t, a.SetID(100))
	return a
}

func reconstructAction(t *testing.T, status vo.Status, active bool, actionType vo.ActionType) *Action {
	t.Helper()
	a, err := ReconstructActionWithParams(ActionReconstructParams{
		ID:                100,
		Tenant:            "default",
		TargetID:          7,
		ControllerID:      "dev-7",
		DistributionSetID: 3,
		Status:            status,
		Active:            active,
		ActionType:        actionType,
		Version:           1,
		CreatedAt:         baseTime,
		UpdatedAt:         baseTime,
	})
	require.NoError(t, err)
	return a
}

func TestNewAction_Validation(t *testing.T) {
	t.Run("defaults to forced", func(t *testing.T) {
		a, err := NewAction(NewActionParams{Tenant: "default", TargetID: 1, DistributionSetID: 2}, baseTime)
		require.NoError(t, err)
		assert.Equal(t, vo.ActionTypeForced, a.ActionType())
		assert.Equal(t, vo.StatusScheduled, a.Status())
		assert.False(t, a.IsActive())
		assert.Nil(t, a.ActiveKey())
	})

	t.Run("timeforced requires forced time", func(t *testing.T) {
		_, err := NewAction(NewActionParams{Tenant: "default", TargetID: 1, DistributionSetID: 2, ActionType: vo.ActionTypeTimeForced}, baseTime)
		assert.ErrorIs(t, err, ErrForcedTimeRequired)
	})

	t.Run("unknown action type", func(t *testing.T) {
		_, err := NewAction(NewActionParams{Tenant: "default", TargetID: 1, DistributionSetID: 2, ActionType: "later"}, baseTime)
		assert.ErrorIs(t, err, ErrInvalidActionType)
	})

	t.Run("scheduled action needs rollout", func(t *testing.T) {
		_, err := NewScheduledAction(NewActionParams{Tenant: "default", TargetID: 1, DistributionSetID: 2}, baseTime)
		assert.Error(t, err)
	})
}

func TestAction_Start(t *testing.T) {
	t.Run("runs directly without confirmation", func(t *testing.T) {
		a := newTestAction(t, vo.ActionTypeSoft, nil)
		require.NoError(t, a.Start(false, baseTime))
		assert.Equal(t, vo.StatusRunning, a.Status())
		assert.True(t, a.IsActive())
		require.NotNil(t, a.ActiveKey())
		assert.Equal(t, "7:3", *a.ActiveKey())
	})

	t.Run("waits when confirmation is required", func(t *testing.T) {
		a := newTestAction(t, vo.ActionTypeSoft, nil)
		require.NoError(t, a.Start(true, baseTime))
		assert.Equal(t, vo.StatusWaitForConfirmation, a.Status())

		require.NoError(t, a.Confirm(baseTime))
		assert.Equal(t, vo.StatusRunning, a.Status())
	})

	t.Run("cannot start twice", func(t *testing.T) {
		a := newTestAction(t, vo.ActionTypeSoft, nil)
		require.NoError(t, a.Start(false, baseTime))
		assert.ErrorIs(t, a.Start(false, baseTime), ErrInvalidStatusTransition)
	})
}

func TestAction_SetIDRecordsCreationOnlyWhenActive(t *testing.T) {
	a, err := NewAction(NewActionParams{Tenant: "default", TargetID: 1, DistributionSetID: 2}, baseTime)
	require.NoError(t, err)
	require.NoError(t, a.Start(false, baseTime))
	require.NoError(t, a.SetID(5))

	evts := a.PullEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventTypeActionCreated, evts[0].GetEventType())
	assert.Equal(t, "5", evts[0].GetAggregateID())
	assert.Empty(t, a.PullEvents())

	scheduled := newTestAction(t, vo.ActionTypeSoft, nil)
	assert.Empty(t, scheduled.PullEvents())
}

func TestAction_ConfirmAndDenyRequireWaiting(t *testing.T) {
	a := reconstructAction(t, vo.StatusRunning, true, vo.ActionTypeSoft)
	assert.ErrorIs(t, a.Confirm(baseTime), ErrNotAwaitingConfirmation)
	assert.ErrorIs(t, a.Deny(), ErrNotAwaitingConfirmation)

	w := reconstructAction(t, vo.StatusWaitForConfirmation, true, vo.ActionTypeSoft)
	require.NoError(t, w.Deny())
	assert.Equal(t, vo.StatusWaitForConfirmation, w.Status())
}

func TestAction_ApplyDeviceStatus(t *testing.T) {
	tests := []struct {
		name       string
		from       vo.Status
		active     bool
		actionType vo.ActionType
		reported   vo.Status
		want       Outcome
		wantStatus vo.Status
		wantActive bool
		wantErr    error
	}{
		{"finished closes", vo.StatusRunning, true, vo.ActionTypeForced, vo.StatusFinished, OutcomeFinished, vo.StatusFinished, false, nil},
		{"error closes", vo.StatusRunning, true, vo.ActionTypeForced, vo.StatusError, OutcomeError, vo.StatusError, false, nil},
		{"download is informational", vo.StatusRunning, true, vo.ActionTypeForced, vo.StatusDownload, OutcomeProgress, vo.StatusDownload, true, nil},
		{"warning is informational", vo.StatusRetrieved, true, vo.ActionTypeSoft, vo.StatusWarning, OutcomeProgress, vo.StatusWarning, true, nil},
		{"downloaded informational for forced", vo.StatusRunning, true, vo.ActionTypeForced, vo.StatusDownloaded, OutcomeProgress, vo.StatusDownloaded, true, nil},
		{"downloaded closes download only", vo.StatusRunning, true, vo.ActionTypeDownloadOnly, vo.StatusDownloaded, OutcomeDownloaded, vo.StatusDownloaded, false, nil},
		{"finished after informational", vo.StatusDownloaded, true, vo.ActionTypeForced, vo.StatusFinished, OutcomeFinished, vo.StatusFinished, false, nil},
		{"cancel rejected outside canceling is ignored", vo.StatusRunning, true, vo.ActionTypeSoft, vo.StatusCancelRejected, OutcomeUnchanged, vo.StatusRunning, true, nil},
		{"device cannot report scheduled", vo.StatusRunning, true, vo.ActionTypeSoft, vo.StatusScheduled, OutcomeUnchanged, vo.StatusRunning, true, ErrInvalidStatusTransition},
		{"closed action", vo.StatusFinished, false, vo.ActionTypeSoft, vo.StatusRunning, OutcomeUnchanged, vo.StatusFinished, false, ErrActionClosed},
		{"error is closed", vo.StatusError, false, vo.ActionTypeSoft, vo.StatusFinished, OutcomeUnchanged, vo.StatusError, false, ErrActionClosed},
		{"not started", vo.StatusScheduled, false, vo.ActionTypeSoft, vo.StatusRunning, OutcomeUnchanged, vo.StatusScheduled, false, ErrActionNotStarted},
		{"waiting for confirmation", vo.StatusWaitForConfirmation, true, vo.ActionTypeSoft, vo.StatusRunning, OutcomeUnchanged, vo.StatusWaitForConfirmation, true, ErrAwaitingConfirmation},
		{"cancel acknowledged", vo.StatusCanceling, true, vo.ActionTypeSoft, vo.StatusCanceled, OutcomeCanceled, vo.StatusCanceled, false, nil},
		{"finished while canceling acknowledges", vo.StatusCanceling, true, vo.ActionTypeSoft, vo.StatusFinished, OutcomeCanceled, vo.StatusCanceled, false, nil},
		{"cancel rejected resumes", vo.StatusCanceling, true, vo.ActionTypeSoft, vo.StatusCancelRejected, OutcomeCancelRejected, vo.StatusRunning, true, nil},
		{"error while canceling", vo.StatusCanceling, true, vo.ActionTypeSoft, vo.StatusError, OutcomeError, vo.StatusError, false, nil},
		{"progress while canceling", vo.StatusCanceling, true, vo.ActionTypeSoft, vo.StatusDownload, OutcomeUnchanged, vo.StatusCanceling, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := reconstructAction(t, tt.from, tt.active, tt.actionType)
			got, err := a.ApplyDeviceStatus(tt.reported, baseTime)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStatus, a.Status())
			assert.Equal(t, tt.wantActive, a.IsActive())
		})
	}
}

func TestAction_IsForcedIsMonotonic(t *testing.T) {
	now := time.Now()
	forcedAt := now.Add(1000 * time.Millisecond)
	a := newTestAction(t, vo.ActionTypeTimeForced, &forcedAt)

	assert.False(t, a.IsForced(time.Now()))
	assert.Equal(t, vo.ActionTypeSoft, a.EffectiveType(time.Now()))

	time.Sleep(time.Until(forcedAt) + 50*time.Millisecond)
	assert.True(t, a.IsForced(time.Now()))

	// a clock reading from before the deadline does not undo the switch
	assert.True(t, a.IsForced(now))
	assert.Equal(t, vo.ActionTypeForced, a.EffectiveType(now))
}

func TestAction_EffectiveType(t *testing.T) {
	forcedAt := baseTime.Add(time.Hour)
	tests := []struct {
		name       string
		actionType vo.ActionType
		at         time.Time
		want       vo.ActionType
	}{
		{"forced", vo.ActionTypeForced, baseTime, vo.ActionTypeForced},
		{"soft", vo.ActionTypeSoft, baseTime, vo.ActionTypeSoft},
		{"download only", vo.ActionTypeDownloadOnly, baseTime, vo.ActionTypeDownloadOnly},
		{"timeforced before deadline", vo.ActionTypeTimeForced, baseTime, vo.ActionTypeSoft},
		{"timeforced at deadline", vo.ActionTypeTimeForced, forcedAt, vo.ActionTypeForced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft *time.Time
			if tt.actionType == vo.ActionTypeTimeForced {
				ft = &forcedAt
			}
			a := newTestAction(t, tt.actionType, ft)
			assert.Equal(t, tt.want, a.EffectiveType(tt.at))
		})
	}
}

func TestAction_RequestCancel(t *testing.T) {
	t.Run("soft running action waits for device", func(t *testing.T) {
		a := reconstructAction(t, vo.StatusRunning, true, vo.ActionTypeSoft)
		outcome, err := a.RequestCancel(baseTime)
		require.NoError(t, err)
		assert.Equal(t, CancelRequested, outcome)
		assert.Equal(t, vo.StatusCanceling, a.Status())
		assert.True(t, a.IsActive())
	})

	t.Run("forced action escalates", func(t *testing.T) {
		a := reconstructAction(t, vo.StatusRunning, true, vo.ActionTypeForced)
		outcome, err := a.RequestCancel(baseTime)
		require.NoError(t, err)
		assert.Equal(t, CancelEscalated, outcome)
		assert.Equal(t, vo.StatusCanceled, a.Status())
		assert.False(t, a.IsActive())
	})

	t.Run("scheduled action closes directly", func(t *testing.T) {
		a := reconstructAction(t, vo.StatusScheduled, false, vo.ActionTypeSoft)
		outcome, err := a.RequestCancel(baseTime)
		require.NoError(t, err)
		assert.Equal(t, CancelClosed, outcome)
		assert.Equal(t, vo.StatusCanceled, a.Status())
	})

	t.Run("already canceling", func(t *testing.T) {
		a := reconstructAction(t, vo.StatusCanceling, true, vo.ActionTypeSoft)
		_, err := a.RequestCancel(baseTime)
		assert.ErrorIs(t, err, ErrAlreadyCanceling)
	})

	t.Run("closed action", func(t *testing.T) {
		a := reconstructAction(t, vo.StatusFinished, false, vo.ActionTypeSoft)
		_, err := a.RequestCancel(baseTime)
		assert.ErrorIs(t, err, ErrActionClosed)
	})
}

func TestAction_ForceCancel(t *testing.T) {
	a := reconstructAction(t, vo.StatusCanceling, true, vo.ActionTypeSoft)
	require.NoError(t, a.ForceCancel(baseTime))
	assert.Equal(t, vo.StatusCanceled, a.Status())
	assert.False(t, a.IsActive())
	assert.True(t, a.IsTerminal())

	evts := a.PullEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventTypeActionFinished, evts[0].GetEventType())

	assert.ErrorIs(t, a.ForceCancel(baseTime), ErrAlreadyCanceling)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, vo.StatusScheduled.CanTransitionTo(vo.StatusWaitForConfirmation))
	assert.True(t, vo.StatusWaitForConfirmation.CanTransitionTo(vo.StatusRunning))
	assert.True(t, vo.StatusRunning.CanTransitionTo(vo.StatusCanceling))
	assert.True(t, vo.StatusCanceling.CanTransitionTo(vo.StatusError))
	assert.False(t, vo.StatusFinished.CanTransitionTo(vo.StatusRunning))
	assert.False(t, vo.StatusCanceled.CanTransitionTo(vo.StatusRunning))
	assert.False(t, vo.StatusCanceling.CanTransitionTo(vo.StatusFinished))
}

func TestAction_TransitionsFollowStatusGraph(t *testing.T) {
	// A row left active while still scheduled cannot jump to a final state.
	a := reconstructAction(t, vo.StatusScheduled, true, vo.ActionTypeSoft)
	out, err := a.ApplyDeviceStatus(vo.StatusFinished, baseTime)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, OutcomeUnchanged, out)
	assert.Equal(t, vo.StatusScheduled, a.Status())
	assert.True(t, a.IsActive())
	assert.Empty(t, a.PullEvents())

	out, err = a.ApplyDeviceStatus(vo.StatusDownload, baseTime)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, OutcomeUnchanged, out)

	// The same row can still be withdrawn.
	_, err = a.RequestCancel(baseTime)
	require.NoError(t, err)
	assert.Equal(t, vo.StatusCanceling, a.Status())
}

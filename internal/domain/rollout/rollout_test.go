package rollout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func threshold(t *testing.T, pct int) vo.Condition {
	t.Helper()
	c, err := vo.NewThresholdCondition(pct)
	require.NoError(t, err)
	return c
}

func newTestRollout(t *testing.T) *Rollout {
	t.Helper()
	r, err := NewRollout(NewRolloutParams{
		Tenant:            "default",
		Name:              "fw-2.1",
		DistributionSetID: 4,
		TargetFilterQuery: "controllerid==dev-*",
		TotalTargets:      10,
		SuccessCondition:  threshold(t, 80),
		ErrorCondition:    threshold(t, 20),
	}, now)
	require.NoError(t, err)
	require.NoError(t, r.SetID(1))
	r.PullEvents()
	return r
}

func TestNewRollout_Defaults(t *testing.T) {
	r := newTestRollout(t)
	assert.Equal(t, vo.RolloutStatusCreating, r.Status())
	assert.Equal(t, vo.ErrorActionPause, r.ErrorAction())
	assert.EqualValues(t, 10, r.TotalTargets())

	_, err := NewRollout(NewRolloutParams{Tenant: "default", Name: "x", DistributionSetID: 1}, now)
	assert.Error(t, err, "filter is required")

	_, err = NewRollout(NewRolloutParams{
		Tenant: "default", Name: "x", DistributionSetID: 1, TargetFilterQuery: "name==a",
		SuccessCondition: vo.Condition{Type: vo.ConditionThreshold, Threshold: 120},
	}, now)
	assert.Error(t, err)
}

func TestRollout_Lifecycle(t *testing.T) {
	r := newTestRollout(t)

	require.NoError(t, r.MarkReady(now))
	assert.True(t, r.ShouldAutoStart(now))

	require.NoError(t, r.Start(now))
	require.NotNil(t, r.StartAt())
	assert.Equal(t, now, *r.StartAt())

	require.NoError(t, r.MarkRunning(now))
	require.NoError(t, r.Pause(now))
	assert.Equal(t, vo.RolloutStatusPaused, r.Status())
	assert.ErrorIs(t, r.Pause(now), ErrInvalidStatusTransition)

	require.NoError(t, r.Resume(now))
	require.NoError(t, r.Finish(now))
	assert.True(t, r.Status().IsTerminal())

	evts := r.PullEvents()
	require.NotEmpty(t, evts)
	assert.Equal(t, EventTypeRolloutFinished, evts[len(evts)-1].GetEventType())
}

func TestRollout_ShouldAutoStartHonoursStartAt(t *testing.T) {
	later := now.Add(time.Hour)
	r, err := NewRollout(NewRolloutParams{
		Tenant: "default", Name: "later", DistributionSetID: 1, TargetFilterQuery: "name==a",
		StartAt: &later, SuccessCondition: vo.NoCondition(), ErrorCondition: vo.NoCondition(),
	}, now)
	require.NoError(t, err)
	require.NoError(t, r.MarkReady(now))

	assert.False(t, r.ShouldAutoStart(now))
	assert.True(t, r.ShouldAutoStart(later))
}

func TestRollout_InvalidTransitions(t *testing.T) {
	r := newTestRollout(t)
	assert.ErrorIs(t, r.MarkRunning(now), ErrInvalidStatusTransition)
	assert.ErrorIs(t, r.Resume(now), ErrInvalidStatusTransition)

	require.NoError(t, r.MarkErrorCreating(now))
	assert.ErrorIs(t, r.MarkReady(now), ErrInvalidStatusTransition)

	require.NoError(t, r.MarkDeleting(now))
	require.NoError(t, r.MarkDeleted(now))
	assert.True(t, r.IsDeleted())
	assert.ErrorIs(t, r.MarkDeleting(now), ErrRolloutDeleted)
}

func TestGroup_InheritsRolloutDefaults(t *testing.T) {
	r := newTestRollout(t)
	override := threshold(t, 50)
	yes := true

	g, err := NewGroup(r, NewGroupParams{Position: 0, TargetPercentage: 20}, now)
	require.NoError(t, err)
	assert.Equal(t, "group-1", g.Name())
	assert.Equal(t, r.SuccessCondition(), g.SuccessCondition())
	assert.Equal(t, vo.ErrorActionPause, g.ErrorAction())
	assert.EqualValues(t, 1, g.RolloutID())

	g2, err := NewGroup(r, NewGroupParams{Position: 1, TargetPercentage: 100, SuccessCondition: &override, ConfirmationRequired: &yes}, now)
	require.NoError(t, err)
	assert.Equal(t, 50, g2.SuccessCondition().Threshold)
	assert.True(t, g2.IsConfirmationRequired())

	_, err = NewGroup(r, NewGroupParams{Position: 2, TargetPercentage: 0}, now)
	assert.ErrorIs(t, err, ErrInvalidGroupPercentage)
}

func TestGroup_Transitions(t *testing.T) {
	r := newTestRollout(t)
	g, err := NewGroup(r, NewGroupParams{TargetPercentage: 100, TotalTargets: 4}, now)
	require.NoError(t, err)
	require.NoError(t, g.SetID(9))

	assert.ErrorIs(t, g.StartRunning(now), ErrInvalidStatusTransition)
	require.NoError(t, g.MarkReady(now))
	require.NoError(t, g.Schedule(now))
	require.NoError(t, g.StartRunning(now))
	require.NoError(t, g.Finish(now))
	// idempotent
	require.NoError(t, g.Finish(now))
	assert.False(t, g.ForceFinish(now))

	finished := 0
	for _, e := range g.PullEvents() {
		if e.GetEventType() == EventTypeGroupFinished {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
}

func TestEvaluateGroup(t *testing.T) {
	success := vo.Condition{Type: vo.ConditionThreshold, Threshold: 80}
	failure := vo.Condition{Type: vo.ConditionThreshold, Threshold: 20}

	tests := []struct {
		name    string
		counts  GroupCounts
		success vo.Condition
		failure vo.Condition
		want    Verdict
	}{
		{"empty group succeeds", GroupCounts{}, success, failure, Verdict{SuccessTriggered: true, Complete: true}},
		{"nothing reported", GroupCounts{Total: 10}, success, failure, Verdict{}},
		{"below success", GroupCounts{Total: 10, Finished: 7, Closed: 7}, success, failure, Verdict{}},
		{"exactly success", GroupCounts{Total: 10, Finished: 8, Closed: 8}, success, failure, Verdict{SuccessTriggered: true}},
		{"error threshold", GroupCounts{Total: 10, Error: 2, Closed: 2}, success, failure, Verdict{ErrorTriggered: true}},
		{"error below threshold", GroupCounts{Total: 10, Error: 1, Closed: 1}, success, failure, Verdict{}},
		{"zero error threshold needs a failure", GroupCounts{Total: 10, Finished: 3, Closed: 3}, success, vo.Condition{Type: vo.ConditionThreshold}, Verdict{}},
		{"zero error threshold fires on first failure", GroupCounts{Total: 10, Error: 1, Closed: 1}, success, vo.Condition{Type: vo.ConditionThreshold}, Verdict{ErrorTriggered: true}},
		{"none never succeeds", GroupCounts{Total: 2, Finished: 2, Closed: 2}, vo.NoCondition(), failure, Verdict{Complete: true}},
		{"none never errors", GroupCounts{Total: 2, Error: 2, Closed: 2}, success, vo.NoCondition(), Verdict{Complete: true}},
		{"complete with mixed results", GroupCounts{Total: 10, Finished: 9, Error: 1, Closed: 10}, success, failure, Verdict{SuccessTriggered: true, Complete: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateGroup(tt.counts, tt.success, tt.failure))
		})
	}
}

func TestEvaluateGroup_ReevaluationIsStable(t *testing.T) {
	c := GroupCounts{Total: 3, Finished: 3, Closed: 3}
	s := vo.Condition{Type: vo.ConditionThreshold, Threshold: 100}
	first := EvaluateGroup(c, s, vo.NoCondition())
	second := EvaluateGroup(c, s, vo.NoCondition())
	assert.Equal(t, first, second)
	assert.InDelta(t, 100.0, c.SuccessRatio(), 0.0001)
}

func TestPlanGroupSizes(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		percents []float64
		want     []int64
	}{
		{"single group", 10, []float64{100}, []int64{10}},
		{"percent of remaining", 100, []float64{10, 50, 100}, []int64{10, 45, 45}},
		{"last takes remainder", 10, []float64{50, 10}, []int64{5, 5}},
		{"rounding", 3, []float64{50, 50, 50}, []int64{2, 1, 0}},
		{"empty population", 0, []float64{20, 100}, []int64{0, 0}},
		{"equal split", 9, EqualPercentages(3), []int64{3, 3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanGroupSizes(tt.total, tt.percents)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			var sum int64
			for _, n := range got {
				sum += n
			}
			assert.Equal(t, tt.total, sum)
		})
	}

	_, err := PlanGroupSizes(10, nil)
	assert.ErrorIs(t, err, ErrNoGroups)
	_, err = PlanGroupSizes(10, []float64{120})
	assert.ErrorIs(t, err, ErrInvalidGroupPercentage)
}

func TestGroupCounts_Ratios(t *testing.T) {
	c := GroupCounts{Total: 4, Finished: 3, Error: 1, Closed: 4}
	assert.InDelta(t, 75.0, c.SuccessRatio(), 0.0001)
	assert.InDelta(t, 25.0, c.ErrorRatio(), 0.0001)

	empty := GroupCounts{}
	assert.InDelta(t, 100.0, empty.SuccessRatio(), 0.0001)
	assert.Zero(t, empty.ErrorRatio())
}

package rollout

import (
	vo "github.com/orris-inc/rolloutd/internal/domain/rollout/valueobjects"
)

// GroupCounts is the action tally of one group at evaluation time.
type GroupCounts struct {
	// Total is the group's target count.
	Total    int64
	Finished int64
	Error    int64
	// Closed counts all actions of the group that have ended.
	Closed int64
}

// Verdict is the result of evaluating a running group.
type Verdict struct {
	ErrorTriggered   bool
	SuccessTriggered bool
	// Complete is set once every target of the group has a closed action.
	Complete bool
}

// EvaluateGroup applies the success and error conditions to the counts.
// The error condition only fires once at least one action failed. A group
// without targets succeeds immediately.
func EvaluateGroup(c GroupCounts, success, failure vo.Condition) Verdict {
	if c.Total <= 0 {
		return Verdict{SuccessTriggered: true, Complete: true}
	}
	return Verdict{
		ErrorTriggered:   c.Error > 0 && failure.Reached(c.Error, c.Total),
		SuccessTriggered: success.Reached(c.Finished, c.Total),
		Complete:         c.Closed >= c.Total,
	}
}

// SuccessRatio returns finished/total as a percentage.
func (c GroupCounts) SuccessRatio() float64 {
	if c.Total <= 0 {
		return 100
	}
	return float64(c.Finished) * 100 / float64(c.Total)
}

// ErrorRatio returns error/total as a percentage.
func (c GroupCounts) ErrorRatio() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Error) * 100 / float64(c.Total)
}

package valueobjects

import "fmt"

// ConditionType selects how a group condition is evaluated.
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionNone      ConditionType = "none"
)

// Condition is a success or error criterion of a rollout group.
type Condition struct {
	Type ConditionType `json:"type"`
	// Threshold is a percentage of the group's targets, 0 to 100.
	Threshold int `json:"threshold"`
}

// NewThresholdCondition builds a percentage condition.
func NewThresholdCondition(percent int) (Condition, error) {
	if percent < 0 || percent > 100 {
		return Condition{}, fmt.Errorf("threshold must be between 0 and 100, got %d", percent)
	}
	return Condition{Type: ConditionThreshold, Threshold: percent}, nil
}

// NoCondition never triggers.
func NoCondition() Condition {
	return Condition{Type: ConditionNone}
}

// Validate checks the condition is well formed.
func (c Condition) Validate() error {
	switch c.Type {
	case ConditionNone:
		return nil
	case ConditionThreshold:
		if c.Threshold < 0 || c.Threshold > 100 {
			return fmt.Errorf("threshold must be between 0 and 100, got %d", c.Threshold)
		}
		return nil
	default:
		return fmt.Errorf("invalid condition type: %s", c.Type)
	}
}

// Reached reports whether count out of total meets the threshold.
func (c Condition) Reached(count, total int64) bool {
	if c.Type != ConditionThreshold {
		return false
	}
	return count*100 >= int64(c.Threshold)*total
}

func (c Condition) String() string {
	if c.Type == ConditionThreshold {
		return fmt.Sprintf("threshold(%d%%)", c.Threshold)
	}
	return string(c.Type)
}

// ErrorAction is executed when a group's error condition triggers.
type ErrorAction string

const (
	ErrorActionPause ErrorAction = "pause"
	ErrorActionNone  ErrorAction = "none"
)

func (a ErrorAction) IsValid() bool {
	return a == ErrorActionPause || a == ErrorActionNone
}

// SuccessAction is executed when a group's success condition triggers.
type SuccessAction string

const (
	SuccessActionNextGroup SuccessAction = "nextgroup"
)

func (a SuccessAction) IsValid() bool {
	return a == SuccessActionNextGroup
}

package valueobjects

import "fmt"

// ActionType controls how urgently a device must apply an assignment.
type ActionType string

const (
	ActionTypeForced       ActionType = "forced"
	ActionTypeSoft         ActionType = "soft"
	ActionTypeTimeForced   ActionType = "timeforced"
	ActionTypeDownloadOnly ActionType = "download_only"
)

var ValidActionTypes = map[ActionType]bool{
	ActionTypeForced:       true,
	ActionTypeSoft:         true,
	ActionTypeTimeForced:   true,
	ActionTypeDownloadOnly: true,
}

func (t ActionType) String() string {
	return string(t)
}

func (t ActionType) IsValid() bool {
	return ValidActionTypes[t]
}

// ParseActionType converts a raw value into an ActionType. Empty means forced.
func ParseActionType(raw string) (ActionType, error) {
	if raw == "" {
		return ActionTypeForced, nil
	}
	t := ActionType(raw)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid action type: %s", raw)
	}
	return t, nil
}

// CancelationType selects how active actions are withdrawn.
type CancelationType string

const (
	CancelationNone  CancelationType = "none"
	CancelationSoft  CancelationType = "soft"
	CancelationForce CancelationType = "force"
)

var ValidCancelationTypes = map[CancelationType]bool{
	CancelationNone:  true,
	CancelationSoft:  true,
	CancelationForce: true,
}

func (c CancelationType) String() string {
	return string(c)
}

func (c CancelationType) IsValid() bool {
	return ValidCancelationTypes[c]
}

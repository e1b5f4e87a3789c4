package valueobjects

import "fmt"

// Status is the lifecycle state of a deployment action, and also the
// status a device reports for it.
type Status string

const (
	StatusScheduled           Status = "scheduled"
	StatusWaitForConfirmation Status = "wait_for_confirmation"
	StatusRunning             Status = "running"
	StatusWarning             Status = "warning"
	StatusDownload            Status = "download"
	StatusRetrieved           Status = "retrieved"
	StatusDownloaded          Status = "downloaded"
	StatusFinished            Status = "finished"
	StatusError               Status = "error"
	StatusCanceling           Status = "canceling"
	StatusCanceled            Status = "canceled"
	// StatusCancelRejected is only ever reported by a device. It is never
	// the stored status of an action.
	StatusCancelRejected Status = "cancel_rejected"
)

var ValidStatuses = map[Status]bool{
	StatusScheduled:           true,
	StatusWaitForConfirmation: true,
	StatusRunning:             true,
	StatusWarning:             true,
	StatusDownload:            true,
	StatusRetrieved:           true,
	StatusDownloaded:          true,
	StatusFinished:            true,
	StatusError:               true,
	StatusCanceling:           true,
	StatusCanceled:            true,
	StatusCancelRejected:      true,
}

// informational statuses keep the action in its active life.
var informationalStatuses = map[Status]bool{
	StatusRunning:    true,
	StatusWarning:    true,
	StatusDownload:   true,
	StatusRetrieved:  true,
	StatusDownloaded: true,
}

var inProgressTransitions = []Status{
	StatusRunning, StatusWarning, StatusDownload, StatusRetrieved, StatusDownloaded,
	StatusFinished, StatusError, StatusCanceling, StatusCanceled,
}

var statusTransitions = map[Status][]Status{
	StatusScheduled:           {StatusWaitForConfirmation, StatusRunning, StatusCanceling, StatusCanceled},
	StatusWaitForConfirmation: {StatusRunning, StatusCanceling, StatusCanceled},
	StatusRunning:             inProgressTransitions,
	StatusWarning:             inProgressTransitions,
	StatusDownload:            inProgressTransitions,
	StatusRetrieved:           inProgressTransitions,
	StatusDownloaded:          inProgressTransitions,
	StatusCanceling:           {StatusCanceled, StatusError, StatusRunning},
	StatusFinished:            {},
	StatusError:               {},
	StatusCanceled:            {},
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// IsInformational reports whether s describes progress without ending the action.
func (s Status) IsInformational() bool {
	return informationalStatuses[s]
}

// CanTransitionTo checks the stored action status graph.
func (s Status) CanTransitionTo(target Status) bool {
	allowed, exists := statusTransitions[s]
	if !exists {
		return false
	}
	for _, st := range allowed {
		if st == target {
			return true
		}
	}
	return false
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid action status: %s", raw)
	}
	return s, nil
}

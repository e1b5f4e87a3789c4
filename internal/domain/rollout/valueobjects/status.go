package valueobjects

// RolloutStatus is the lifecycle state of a rollout.
type RolloutStatus string

const (
	RolloutStatusCreating      RolloutStatus = "creating"
	RolloutStatusReady         RolloutStatus = "ready"
	RolloutStatusStarting      RolloutStatus = "starting"
	RolloutStatusRunning       RolloutStatus = "running"
	RolloutStatusPaused        RolloutStatus = "paused"
	RolloutStatusStopping      RolloutStatus = "stopping"
	RolloutStatusFinished      RolloutStatus = "finished"
	RolloutStatusErrorCreating RolloutStatus = "error_creating"
	RolloutStatusErrorStarting RolloutStatus = "error_starting"
	RolloutStatusDeleting      RolloutStatus = "deleting"
	RolloutStatusDeleted       RolloutStatus = "deleted"
)

var ValidRolloutStatuses = map[RolloutStatus]bool{
	RolloutStatusCreating:      true,
	RolloutStatusReady:         true,
	RolloutStatusStarting:      true,
	RolloutStatusRunning:       true,
	RolloutStatusPaused:        true,
	RolloutStatusStopping:      true,
	RolloutStatusFinished:      true,
	RolloutStatusErrorCreating: true,
	RolloutStatusErrorStarting: true,
	RolloutStatusDeleting:      true,
	RolloutStatusDeleted:       true,
}

var rolloutTransitions = map[RolloutStatus][]RolloutStatus{
	RolloutStatusCreating:      {RolloutStatusReady, RolloutStatusErrorCreating, RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusReady:         {RolloutStatusStarting, RolloutStatusErrorStarting, RolloutStatusStopping, RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusStarting:      {RolloutStatusRunning, RolloutStatusErrorStarting, RolloutStatusStopping, RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusRunning:       {RolloutStatusPaused, RolloutStatusStopping, RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusPaused:        {RolloutStatusRunning, RolloutStatusStopping, RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusStopping:      {RolloutStatusFinished, RolloutStatusDeleting},
	RolloutStatusFinished:      {RolloutStatusDeleting},
	RolloutStatusErrorCreating: {RolloutStatusDeleting},
	RolloutStatusErrorStarting: {RolloutStatusDeleting},
	RolloutStatusDeleting:      {RolloutStatusDeleted},
	RolloutStatusDeleted:       {},
}

func (s RolloutStatus) String() string {
	return string(s)
}

func (s RolloutStatus) IsValid() bool {
	return ValidRolloutStatuses[s]
}

func (s RolloutStatus) CanTransitionTo(target RolloutStatus) bool {
	for _, st := range rolloutTransitions[s] {
		if st == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the control loop no longer drives the rollout.
func (s RolloutStatus) IsTerminal() bool {
	switch s {
	case RolloutStatusFinished, RolloutStatusErrorCreating, RolloutStatusErrorStarting, RolloutStatusDeleted:
		return true
	}
	return false
}

// IsStoppable reports whether an invalidation may still stop the rollout.
func (s RolloutStatus) IsStoppable() bool {
	return !s.IsTerminal() && s != RolloutStatusDeleting
}

// TickStatuses lists the statuses the control loop acts on.
var TickStatuses = []RolloutStatus{
	RolloutStatusCreating,
	RolloutStatusReady,
	RolloutStatusStarting,
	RolloutStatusRunning,
	RolloutStatusStopping,
	RolloutStatusDeleting,
}

// StoppableStatuses lists the statuses that an invalidation stops.
var StoppableStatuses = []RolloutStatus{
	RolloutStatusCreating,
	RolloutStatusReady,
	RolloutStatusStarting,
	RolloutStatusRunning,
	RolloutStatusPaused,
	RolloutStatusStopping,
}

// GroupStatus is the lifecycle state of a rollout group.
type GroupStatus string

const (
	GroupStatusCreating  GroupStatus = "creating"
	GroupStatusReady     GroupStatus = "ready"
	GroupStatusScheduled GroupStatus = "scheduled"
	GroupStatusRunning   GroupStatus = "running"
	GroupStatusFinished  GroupStatus = "finished"
	GroupStatusError     GroupStatus = "error"
)

var ValidGroupStatuses = map[GroupStatus]bool{
	GroupStatusCreating:  true,
	GroupStatusReady:     true,
	GroupStatusScheduled: true,
	GroupStatusRunning:   true,
	GroupStatusFinished:  true,
	GroupStatusError:     true,
}

var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupStatusCreating:  {GroupStatusReady},
	GroupStatusReady:     {GroupStatusScheduled},
	GroupStatusScheduled: {GroupStatusRunning},
	GroupStatusRunning:   {GroupStatusFinished, GroupStatusError},
	GroupStatusFinished:  {},
	GroupStatusError:     {},
}

func (s GroupStatus) String() string {
	return string(s)
}

func (s GroupStatus) IsValid() bool {
	return ValidGroupStatuses[s]
}

func (s GroupStatus) CanTransitionTo(target GroupStatus) bool {
	for _, st := range groupTransitions[s] {
		if st == target {
			return true
		}
	}
	return false
}

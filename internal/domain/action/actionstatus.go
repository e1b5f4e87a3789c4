package action

import (
	"fmt"
	"time"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

// ActionStatusEntry is one immutable record of the action status log.
type ActionStatusEntry struct {
	id         uint
	tenant     string
	actionID   uint
	status     vo.Status
	messages   []string
	code       *int
	occurredAt time.Time
}

// NewActionStatusEntry creates a log record for an action.
func NewActionStatusEntry(tenant string, actionID uint, status vo.Status, messages []string, code *int, occurredAt time.Time) (*ActionStatusEntry, error) {
	if actionID == 0 {
		return nil, fmt.Errorf("action ID is required")
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid action status: %s", status)
	}
	msgs := make([]string, len(messages))
	copy(msgs, messages)
	return &ActionStatusEntry{
		tenant:     tenant,
		actionID:   actionID,
		status:     status,
		messages:   msgs,
		code:       code,
		occurredAt: occurredAt,
	}, nil
}

// ReconstructActionStatusEntry rebuilds a log record from persistence.
func ReconstructActionStatusEntry(id uint, tenant string, actionID uint, status vo.Status, messages []string, code *int, occurredAt time.Time) *ActionStatusEntry {
	return &ActionStatusEntry{
		id:         id,
		tenant:     tenant,
		actionID:   actionID,
		status:     status,
		messages:   messages,
		code:       code,
		occurredAt: occurredAt,
	}
}

func (e *ActionStatusEntry) ID() uint              { return e.id }
func (e *ActionStatusEntry) Tenant() string        { return e.tenant }
func (e *ActionStatusEntry) ActionID() uint        { return e.actionID }
func (e *ActionStatusEntry) Status() vo.Status     { return e.status }
func (e *ActionStatusEntry) Code() *int            { return e.code }
func (e *ActionStatusEntry) OccurredAt() time.Time { return e.occurredAt }

// Messages returns a copy of the attached messages.
func (e *ActionStatusEntry) Messages() []string {
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}

// SetID sets the entry ID (only for persistence layer use).
func (e *ActionStatusEntry) SetID(id uint) error {
	if e.id != 0 {
		return fmt.Errorf("action status ID is already set")
	}
	e.id = id
	return nil
}

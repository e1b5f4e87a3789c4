package action

import (
	"errors"
	"fmt"

	vo "github.com/orris-inc/rolloutd/internal/domain/action/valueobjects"
)

var (
	ErrActionNotFound          = errors.New("action not found")
	ErrInvalidStatusTransition = errors.New("invalid action status transition")
	ErrActionClosed            = errors.New("action is closed")
	ErrActionNotStarted        = errors.New("action has not been started")
	ErrAwaitingConfirmation    = errors.New("action is awaiting confirmation")
	ErrNotAwaitingConfirmation = errors.New("action is not awaiting confirmation")
	ErrAlreadyCanceling        = errors.New("action is already canceling or canceled")
	ErrNotCanceling            = errors.New("action is not canceling")
	ErrForcedRequiresForceMode = errors.New("forced action cannot be canceled softly")
	ErrInvalidActionType       = errors.New("invalid action type")
	ErrForcedTimeRequired      = errors.New("timeforced action requires a forced time")
	ErrActiveActionExists      = errors.New("an active action already exists for target and distribution set")
)

func ErrInvalidTransition(from, to vo.Status) error {
	return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, from, to)
}

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

// ErrInvalidTransition matches every *TransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports a rejected transition. Nothing was written and
// nothing was published.
type TransitionError struct {
	EventID uuid.UUID
	Op      string
	From    domain.EventStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s event %s (status %s): %s", e.Op, e.EventID, e.From, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

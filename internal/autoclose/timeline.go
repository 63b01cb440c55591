package autoclose

import (
	"fmt"
	"time"
)

// ValidateTimeline enforces created ≤ filled ≤ closed, and closed ⇒ filled.
func ValidateTimeline(created time.Time, filled, closed *time.Time) error {
	if closed != nil && filled == nil {
		return fmt.Errorf("%w: closed_at %s without filled_at", ErrTimelineViolation, closed.Format(time.RFC3339))
	}
	if filled != nil && filled.Before(created) {
		return fmt.Errorf("%w: filled_at %s before created_at %s", ErrTimelineViolation,
			filled.Format(time.RFC3339), created.Format(time.RFC3339))
	}
	if filled != nil && closed != nil && closed.Before(*filled) {
		return fmt.Errorf("%w: closed_at %s before filled_at %s", ErrTimelineViolation,
			closed.Format(time.RFC3339), filled.Format(time.RFC3339))
	}
	return nil
}

func validateCancel(created, cancelled time.Time) error {
	if cancelled.Before(created) {
		return fmt.Errorf("%w: cancelled_at %s before created_at %s", ErrTimelineViolation,
			cancelled.Format(time.RFC3339), created.Format(time.RFC3339))
	}
	return nil
}

package availability

import (
	"context"

	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/slots"
)

// Store is the slice of the appointment store the checker needs.
type Store interface {
	TakenTimes(ctx context.Context, specialistID, date, excludeID string) ([]string, error)
}

// Checker computes which calendar slots are already occupied for a
// specialist on a date. It runs twice in the booking path: a soft check to
// render availability (may be stale) and a hard check immediately before
// the insert. Neither is the correctness guarantee; the storage unique
// index is.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// TakenSlots returns the set of slot labels occupied on specialistID+date.
// Stored times are floored to slot granularity.
func (c *Checker) TakenSlots(ctx context.Context, specialistID, date string) (map[string]struct{}, error) {
	return c.TakenSlotsExcluding(ctx, specialistID, date, "")
}

// TakenSlotsExcluding is TakenSlots with one appointment left out, used when
// re-checking the target slot of a reschedule.
func (c *Checker) TakenSlotsExcluding(ctx context.Context, specialistID, date, excludeID string) (map[string]struct{}, error) {
	times, err := c.store.TakenTimes(ctx, specialistID, date, excludeID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(times))
	for _, t := range times {
		label, ok := slots.Normalize(t)
		if !ok {
			continue
		}
		taken[label] = struct{}{}
	}
	return taken, nil
}

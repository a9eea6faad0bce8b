package availability

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	times map[string][]string // key: specialistID+"|"+date
	err   error
	calls []string
}

func (f *fakeStore) TakenTimes(_ context.Context, specialistID, date, excludeID string) ([]string, error) {
	f.calls = append(f.calls, excludeID)
	if f.err != nil {
		return nil, f.err
	}
	return f.times[specialistID+"|"+date], nil
}

func TestTakenSlots_Empty(t *testing.T) {
	c := NewChecker(&fakeStore{times: map[string][]string{}})
	taken, err := c.TakenSlots(context.Background(), "dr-x", "2025-12-10")
	if err != nil {
		t.Fatalf("TakenSlots failed: %v", err)
	}
	if len(taken) != 0 {
		t.Fatalf("expected empty taken set, got %v", taken)
	}
}

func TestTakenSlots_NormalizesToSlotGranularity(t *testing.T) {
	c := NewChecker(&fakeStore{times: map[string][]string{
		"dr-x|2025-12-10": {"09:00", "09:15", "13:00", "bogus"},
	}})
	taken, err := c.TakenSlots(context.Background(), "dr-x", "2025-12-10")
	if err != nil {
		t.Fatalf("TakenSlots failed: %v", err)
	}
	if len(taken) != 2 {
		t.Fatalf("expected 2 taken slots, got %v", taken)
	}
	for _, want := range []string{"09:00", "13:00"} {
		if _, ok := taken[want]; !ok {
			t.Fatalf("expected %s in taken set %v", want, taken)
		}
	}
}

func TestTakenSlots_StoreError(t *testing.T) {
	boom := errors.New("db down")
	c := NewChecker(&fakeStore{err: boom})
	if _, err := c.TakenSlots(context.Background(), "dr-x", "2025-12-10"); !errors.Is(err, boom) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

func TestTakenSlotsExcluding_PassesExcludeID(t *testing.T) {
	fs := &fakeStore{times: map[string][]string{}}
	c := NewChecker(fs)
	if _, err := c.TakenSlotsExcluding(context.Background(), "dr-x", "2025-12-10", "appt-1"); err != nil {
		t.Fatalf("TakenSlotsExcluding failed: %v", err)
	}
	if len(fs.calls) != 1 || fs.calls[0] != "appt-1" {
		t.Fatalf("expected exclude id forwarded to store, got %v", fs.calls)
	}
}

package model

import (
	"testing"
	"time"
)

func TestStatusVocabulary(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
		blocking bool
	}{
		{StatusPending, false, true},
		{StatusConfirmed, false, true},
		{StatusRejected, true, false},
		{StatusCancelled, true, false},
		{StatusCompleted, true, true},
		{StatusNoShow, true, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("%s.Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.Blocking(); got != tc.blocking {
			t.Fatalf("%s.Blocking() = %v, want %v", tc.status, got, tc.blocking)
		}
	}
}

func TestStartTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	got, err := StartTime("2025-12-10", "09:00", loc)
	if err != nil {
		t.Fatalf("StartTime: %v", err)
	}
	want := time.Date(2025, 12, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("StartTime = %v, want %v", got, want)
	}
}

func TestParseDateRejectsOtherLayouts(t *testing.T) {
	for _, s := range []string{"10/12/2025", "2025-12-10T09:00:00Z", "2025-13-40"} {
		if _, err := ParseDate(s); err == nil {
			t.Fatalf("ParseDate(%q) accepted", s)
		}
	}
}

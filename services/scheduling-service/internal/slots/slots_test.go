package slots

import (
	"reflect"
	"testing"
)

func TestLabels_WorkingBlocks(t *testing.T) {
	labels := Labels()
	if len(labels) != 16 {
		t.Fatalf("expected 16 labels, got %d: %v", len(labels), labels)
	}
	if labels[0] != "08:00" {
		t.Fatalf("expected first label 08:00, got %s", labels[0])
	}
	if labels[11] != "13:30" {
		t.Fatalf("expected morning block to end at 13:30, got %s", labels[11])
	}
	if labels[12] != "15:00" {
		t.Fatalf("expected afternoon block to start at 15:00, got %s", labels[12])
	}
	if labels[len(labels)-1] != "16:30" {
		t.Fatalf("expected last label 16:30, got %s", labels[len(labels)-1])
	}
	for _, skipped := range []string{"14:00", "14:30", "17:00"} {
		for _, l := range labels {
			if l == skipped {
				t.Fatalf("label %s must not be bookable", skipped)
			}
		}
	}
}

func TestLabels_Deterministic(t *testing.T) {
	if !reflect.DeepEqual(Labels(), Labels()) {
		t.Fatal("Labels must return the same sequence on every call")
	}
}

func TestIsLabel(t *testing.T) {
	for _, l := range Labels() {
		if !IsLabel(l) {
			t.Fatalf("IsLabel(%q) = false, want true", l)
		}
	}
	for _, s := range []string{"14:00", "08:15", "7:30", "nonsense", ""} {
		if IsLabel(s) {
			t.Fatalf("IsLabel(%q) = true, want false", s)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"09:00", "09:00", true},
		{"09:15", "09:00", true},
		{"09:45", "09:30", true},
		{"16:59", "16:30", true},
		{"25:00", "", false},
		{"garbage", "", false},
	}
	for _, c := range cases {
		got, ok := Normalize(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("Normalize(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

package artifacts

import (
	"testing"

	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
)

func TestPublicURL(t *testing.T) {
	r := NewResolver("https://files.citasalud.example/")

	cases := []struct {
		ref  string
		want string
	}{
		{"consents/abc123", "https://files.citasalud.example/consents/abc123"},
		{"receipts/pago enero.pdf", "https://files.citasalud.example/receipts/pago%20enero.pdf"},
		{"  consents/x  ", "https://files.citasalud.example/consents/x"},
	}
	for _, tc := range cases {
		got, err := r.PublicURL(tc.ref)
		if err != nil {
			t.Fatalf("PublicURL(%q): %v", tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("PublicURL(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestPublicURLEmptyRef(t *testing.T) {
	r := NewResolver("https://files.citasalud.example")

	for _, ref := range []string{"", "   "} {
		if _, err := r.PublicURL(ref); !faults.IsValidation(err) {
			t.Fatalf("PublicURL(%q): err = %v, want validation error", ref, err)
		}
	}
}

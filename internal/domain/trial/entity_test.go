package trial

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Alice@Example.com ", "alice@example.com"},
		{"a.l.i.c.e+promo@gmail.com", "alice@gmail.com"},
		{"Alice.B@GoogleMail.com", "aliceb@gmail.com"},
		{"bob+tag@example.com", "bob+tag@example.com"},
		{"b.o.b@example.com", "b.o.b@example.com"},
		{"not-an-email", "not-an-email"},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package phone

import "testing"

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"9876543210", true},
		{"+1 202-555-0173", true},
		{"(020) 7946 0958", false},
		{"12345", false},
		{"0123456789", false},
		{"1234567890123456", false},
		{"919876543210", true},
		{"", false},
		{"phone", false},
	}

	for _, tc := range cases {
		if got := Valid(tc.in); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatForDispatch(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"9876543210", "+919876543210"},
		{"+1 202-555-0173", "+12025550173"},
		{"++44 20 7946 0958", "+442079460958"},
		{"919876543210", "+919876543210"},
		{" 98765 43210 ", "+919876543210"},
	}

	for _, tc := range cases {
		if got := FormatForDispatch(tc.in, ""); got != tc.want {
			t.Errorf("FormatForDispatch(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatForDispatchCustomCountryCode(t *testing.T) {
	if got := FormatForDispatch("2025550173", "+1"); got != "+12025550173" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestShortNumberRejectedBeforeFormatting(t *testing.T) {
	if Valid("12345") {
		t.Fatalf("expected 5-digit number to fail validation")
	}
}

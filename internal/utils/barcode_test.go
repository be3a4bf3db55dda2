package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateCardBarcode(t *testing.T) {
	code := GenerateCardBarcode()
	t.Logf("Generated barcode: %s", code)

	if !IsCardBarcode(code) {
		t.Fatalf("Generated barcode %q does not match the expected format", code)
	}

	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(parts))
	}
	if parts[0] != CardBarcodePrefix {
		t.Errorf("Prefix mismatch: got %s, want %s", parts[0], CardBarcodePrefix)
	}
	if parts[1] != time.Now().UTC().Format("20060102") {
		t.Errorf("Date segment mismatch: got %s", parts[1])
	}
	for _, c := range parts[2] {
		if c == 'O' || c == 'I' || c == 'L' {
			t.Errorf("Suffix contains confusable character %q", c)
		}
	}
}

func TestGenerateCardBarcodeUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		code := GenerateCardBarcode()
		if seen[code] {
			t.Fatalf("Duplicate barcode after %d generations: %s", i, code)
		}
		seen[code] = true
	}
}

func TestIsCardBarcode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"PF-20260830-A3K9X2", true},
		{"PF-20260830-a3k9x2", false},
		{"BOX-000001", false},
		{"PF-2026083-A3K9X2", false},
		{"PF-20260830-A3K9X", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsCardBarcode(c.code); got != c.want {
			t.Errorf("IsCardBarcode(%q) = %v, want %v", c.code, got, c.want)
		}
	}
}

package access

import "testing"

func TestNormalizePlate(t *testing.T) {
	cases := map[string]string{
		"abc-123":  "ABC123",
		"ABC 123":  "ABC123",
		" aBc123 ": "ABC123",
		"ÑÚ-42":    "NU42",
		"12·34":    "1234",
		"":         "",
		"---":      "",
	}
	for input, want := range cases {
		if got := NormalizePlate(input); got != want {
			t.Fatalf("NormalizePlate(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestEventValid(t *testing.T) {
	if !EventEntry.Valid() || !EventExit.Valid() {
		t.Fatal("expected known events valid")
	}
	if Event("teletransporte").Valid() {
		t.Fatal("unexpected valid event")
	}
}

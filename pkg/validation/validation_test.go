package validation

import (
	"strings"
	"testing"
)

func TestValidateRoomID(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "general", false},
		{"with separators", "team-1.voice:eu", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"spaces inside", "general chat", true},
		{"control characters", "room\n1", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRoomID(tc.id)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q, got nil", tc.id)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected %q to be valid, got: %v", tc.id, err)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	if err := ValidateDisplayName("Ada Lovelace"); err != nil {
		t.Fatalf("expected name to be valid, got: %v", err)
	}
	if err := ValidateDisplayName(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := ValidateDisplayName(strings.Repeat("x", 65)); err == nil {
		t.Fatal("expected error for overlong name")
	}
	// Rune count, not byte count.
	if err := ValidateDisplayName(strings.Repeat("я", 64)); err != nil {
		t.Fatalf("expected 64-rune name to be valid, got: %v", err)
	}
}

func TestValidateDeviceID(t *testing.T) {
	if err := ValidateDeviceID("alsa:hw:0,0 (USB Microphone)"); err != nil {
		t.Fatalf("expected driver-shaped id to be valid, got: %v", err)
	}
	if err := ValidateDeviceID(""); err == nil {
		t.Fatal("expected error for empty device id")
	}
	if err := ValidateDeviceID(strings.Repeat("d", 257)); err == nil {
		t.Fatal("expected error for overlong device id")
	}
}

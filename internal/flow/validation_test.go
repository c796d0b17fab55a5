package flow

import (
	"errors"
	"testing"

	"github.com/CareBridge/CarePath/internal/models"
)

func TestValidateUKPhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"mobile leading zero", "07123456789", "+447123456789", false},
		{"mobile e164", "+447123456789", "+447123456789", false},
		{"mobile country code no plus", "447123456789", "+447123456789", false},
		{"mobile with spaces", "07123 456 789", "+447123456789", false},
		{"mobile with dashes", "07123-456-789", "+447123456789", false},
		{"mobile with parens", "(07123) 456789", "+447123456789", false},
		{"london landline", "02071234567", "+442071234567", false},
		{"too short", "1234", "", true},
		{"empty", "", "", true},
		{"words", "call me maybe", "", true},
		{"us number", "+15551234567", "", true},
		{"mobile too long", "071234567890", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUKPhone(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateUKPhone(%q) = %q, want error", tt.input, got)
				}
				if !errors.Is(err, models.ErrInvalidPhone) {
					t.Errorf("error should wrap ErrInvalidPhone, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateUKPhone(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateUKPhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	got, err := ValidateEmail("  Alice.Smith@Example.COM ")
	if err != nil {
		t.Fatalf("ValidateEmail failed: %v", err)
	}
	if got != "alice.smith@example.com" {
		t.Errorf("ValidateEmail = %q, want lowercased address", got)
	}

	for _, bad := range []string{"", "no-at-sign", "a@b", "a b@example.com", "@example.com"} {
		if _, err := ValidateEmail(bad); err == nil {
			t.Errorf("ValidateEmail(%q) should fail", bad)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"sarah", "Sarah", false},
		{"SARAH", "Sarah", false},
		{"o'brien", "O'brien", false},
		{"anne-marie", "Anne-Marie", false},
		{"a", "", true},
		{"", "", true},
		{"yes", "", true},
		{"ok", "", true},
		{"thanks", "", true},
		{"s4rah", "", true},
	}

	for _, tt := range tests {
		got, err := ValidateName(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateName(%q) = %q, want error", tt.input, got)
			} else if !errors.Is(err, models.ErrInvalidName) {
				t.Errorf("ValidateName(%q) error should wrap ErrInvalidName, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateName(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestExtractNameToken(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"my name is Sarah", "Sarah"},
		{"I'm Dave", "Dave"},
		{"it's Priya.", "Priya"},
		{"call me Jo", "Jo"},
		{"Sarah Smith", "Sarah"},
		{"Sarah", "Sarah"},
		{"  Sarah!  ", "Sarah"},
	}

	for _, tt := range tests {
		if got := ExtractNameToken(tt.input); got != tt.want {
			t.Errorf("ExtractNameToken(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

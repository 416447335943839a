package validation

import (
	"errors"
	"testing"
)

func TestParseCityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr error
	}{
		{"plain", "1248991", 1248991, nil},
		{"trimmed", "  2643743 ", 2643743, nil},
		{"zero", "0", 0, nil},
		{"negative", "-5", -5, nil},
		{"leading plus", "+7", 7, nil},
		{"empty", "", 0, ErrCityIDEmpty},
		{"whitespace", "   ", 0, ErrCityIDEmpty},
		{"name", "Colombo", 0, ErrCityIDNotInteger},
		{"decimal", "12.5", 0, ErrCityIDNotInteger},
		{"hex", "0x1F", 0, ErrCityIDNotInteger},
		{"overflow", "99999999999999999999", 0, ErrCityIDNotInteger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCityID(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseCityID(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCityID(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseCityID(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

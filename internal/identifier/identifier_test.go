package identifier

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantID   string
		wantURL  string
		wantFail bool
	}{
		{
			name:    "bare identifier",
			input:   "commute_by_bike",
			wantID:  "commute_by_bike",
			wantURL: "https://archive.org/metadata/commute_by_bike",
		},
		{
			name:    "details URL",
			input:   "https://archive.org/details/commute_by_bike",
			wantID:  "commute_by_bike",
			wantURL: "https://archive.org/metadata/commute_by_bike",
		},
		{
			name:    "metadata URL",
			input:   "https://archive.org/metadata/commute_by_bike",
			wantID:  "commute_by_bike",
			wantURL: "https://archive.org/metadata/commute_by_bike",
		},
		{
			name:    "details URL with trailing file path",
			input:   "https://archive.org/details/nasa/apollo11.mpeg",
			wantID:  "nasa",
			wantURL: "https://archive.org/metadata/nasa",
		},
		{
			name:    "subdomain host",
			input:   "https://web.archive.org/details/nasa",
			wantID:  "nasa",
			wantURL: "https://archive.org/metadata/nasa",
		},
		{
			name:    "http scheme accepted",
			input:   "http://archive.org/details/nasa",
			wantID:  "nasa",
			wantURL: "https://archive.org/metadata/nasa",
		},
		{
			name:    "surrounding whitespace",
			input:   "  nasa  ",
			wantID:  "nasa",
			wantURL: "https://archive.org/metadata/nasa",
		},
		{name: "empty input", input: "", wantFail: true},
		{name: "whitespace only", input: "   ", wantFail: true},
		{name: "wrong host", input: "https://example.com/details/nasa", wantFail: true},
		{name: "archive URL without identifier", input: "https://archive.org/details/", wantFail: true},
		{name: "archive URL with unknown path", input: "https://archive.org/about/team", wantFail: true},
		{name: "bare input with slash", input: "nasa/apollo", wantFail: true},
		{name: "bare input with dot", input: "archive.org", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantFail {
				if err == nil {
					t.Fatalf("Normalize(%q) = %+v, want error", tt.input, got)
				}
				var invalid *InvalidIdentifierError
				if !errors.As(err, &invalid) {
					t.Errorf("Normalize(%q) error type = %T, want *InvalidIdentifierError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.input, err)
			}
			if got.Identifier != tt.wantID {
				t.Errorf("Identifier = %q, want %q", got.Identifier, tt.wantID)
			}
			if got.MetadataURL != tt.wantURL {
				t.Errorf("MetadataURL = %q, want %q", got.MetadataURL, tt.wantURL)
			}
		})
	}
}

// Normalizing an already-normalized identifier must be a no-op.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"nasa",
		"https://archive.org/details/commute_by_bike",
		"https://archive.org/metadata/some-item_2024",
	}
	for _, input := range inputs {
		first, err := Normalize(input)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", input, err)
		}
		second, err := Normalize(first.Identifier)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", first.Identifier, err)
		}
		if *first != *second {
			t.Errorf("Normalize not idempotent for %q: %+v vs %+v", input, first, second)
		}
	}
}

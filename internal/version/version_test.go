package version

import (
	"errors"
	"testing"
)

func TestParseBanner(t *testing.T) {
	tests := []struct {
		name    string
		banner  string
		want    string
		wantErr error
	}{
		{name: "release", banner: "Python 3.12.1", want: "3.12.1"},
		{name: "trailing newline", banner: "Python 3.11.9\r\n", want: "3.11.9"},
		{name: "release candidate", banner: "Python 3.13.0rc1", want: "3.13.0-rc1"},
		{name: "alpha", banner: "Python 3.14.0a2", want: "3.14.0-a2"},
		{name: "two components", banner: "Python 3.9", want: "3.9.0"},
		{name: "empty", banner: "  ", wantErr: ErrEmptyBanner},
		{name: "no version", banner: "command not found", wantErr: ErrNoVersionInBanner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBanner(tt.banner)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseBanner(%q) error = %v, want %v", tt.banner, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBanner(%q) unexpected error: %v", tt.banner, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseBanner(%q) = %s, want %s", tt.banner, got, tt.want)
			}
		})
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		wantErr    bool
	}{
		{"empty constraint", "3.8.10", "", false},
		{"meets minimum", "3.11.4", ">= 3.9", false},
		{"below minimum", "3.8.10", ">= 3.9", true},
		{"range", "3.12.0", ">= 3.9, < 3.13", false},
		{"above range", "3.13.1", ">= 3.9, < 3.13", true},
		{"pre-release of allowed cycle", "3.13.0-rc1", ">= 3.13", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.version)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.version, err)
			}
			err = Satisfies(v, tt.constraint)
			if tt.wantErr {
				if !errors.Is(err, ErrConstraintUnmet) {
					t.Errorf("Satisfies(%s, %q) error = %v, want ErrConstraintUnmet", tt.version, tt.constraint, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Satisfies(%s, %q) unexpected error: %v", tt.version, tt.constraint, err)
			}
		})
	}
}

func TestSatisfies_InvalidConstraint(t *testing.T) {
	v, _ := Parse("3.12.0")
	err := Satisfies(v, ">>> three")
	var parseErr ErrVersionParseFailed
	if !errors.As(err, &parseErr) {
		t.Fatalf("Satisfies() error = %v, want ErrVersionParseFailed", err)
	}
	if parseErr.Op != OpParseConstraint {
		t.Errorf("Op = %q, want %q", parseErr.Op, OpParseConstraint)
	}
}

func TestExtractPattern(t *testing.T) {
	v, _ := Parse("3.12.4")

	got, err := ExtractPattern(v, PatternMajorMinor)
	if err != nil || got != "3.12" {
		t.Errorf("ExtractPattern(major_minor) = %q, %v", got, err)
	}
	got, err = ExtractPattern(v, PatternMajor)
	if err != nil || got != "3" {
		t.Errorf("ExtractPattern(major) = %q, %v", got, err)
	}
	_, err = ExtractPattern(v, VersionPattern("patch"))
	if !errors.Is(err, ErrPatternValidation{}) {
		t.Errorf("ExtractPattern(patch) error = %v, want ErrPatternValidation", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.1", -1},
		{"v1.2.0", "1.2.0", 0},
		{"2.0.0", "1.9.9", 1},
	}
	for _, tt := range tests {
		got, err := Compare(tt.v1, tt.v2)
		if err != nil {
			t.Errorf("Compare(%q, %q) error = %v", tt.v1, tt.v2, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
		}
	}

	if _, err := Compare("not-a-version", "1.0.0"); err == nil {
		t.Error("Compare() error = nil for invalid version")
	}
}

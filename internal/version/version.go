// Package version provides semantic version parsing for interpreter
// banners and constraint checks.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// String constants for version patterns
const (
	PatternMajorString      = "major"
	PatternMajorMinorString = "major_minor"
)

// String constants for operations (used in ErrVersionParseFailed)
const (
	OpParseBanner     = "parse_banner"
	OpParseVersion    = "parse_version"
	OpParseConstraint = "parse_constraint"
	OpExtractPattern  = "extract_pattern"
	OpValidatePattern = "validate_pattern"
)

// VersionPattern defines how much of a version identifies a release cycle
type VersionPattern string

const (
	PatternMajor      VersionPattern = PatternMajorString      // e.g. "3"
	PatternMajorMinor VersionPattern = PatternMajorMinorString // e.g. "3.12", the Python cycle name
)

var (
	ErrInvalidVersion    = errors.New("invalid version format")
	ErrEmptyBanner       = errors.New("version banner is empty")
	ErrConstraintUnmet   = errors.New("version does not satisfy constraint")
	ErrNoVersionInBanner = errors.New("no version found in banner")
)

// ErrVersionParseFailed represents a version parsing error
type ErrVersionParseFailed struct {
	Version string
	Op      string
	Cause   error
}

func (e ErrVersionParseFailed) Error() string {
	return fmt.Sprintf("failed to parse version %s in operation %s: %v", e.Version, e.Op, e.Cause)
}

func (e ErrVersionParseFailed) Unwrap() error {
	return e.Cause
}

func (e ErrVersionParseFailed) Is(target error) bool {
	var parseErr ErrVersionParseFailed
	return errors.As(target, &parseErr)
}

// ErrPatternValidation represents a pattern validation error
type ErrPatternValidation struct {
	Pattern VersionPattern
	Op      string
}

func (e ErrPatternValidation) Error() string {
	return fmt.Sprintf("invalid pattern %s in operation %s", e.Pattern, e.Op)
}

func (e ErrPatternValidation) Is(target error) bool {
	var patternErr ErrPatternValidation
	return errors.As(target, &patternErr)
}

// bannerVersion matches the version token of "Python 3.12.1" style output,
// including pre-release suffixes such as 3.13.0rc1 or 3.14.0a2.
var bannerVersion = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)([a-z]+\d*)?`)

// ParseBanner extracts the version from interpreter output such as
// "Python 3.12.1". Pre-release tags are converted to semver form
// (3.13.0rc1 becomes 3.13.0-rc1).
func ParseBanner(banner string) (*semver.Version, error) {
	banner = strings.TrimSpace(banner)
	if banner == "" {
		return nil, ErrEmptyBanner
	}
	m := bannerVersion.FindStringSubmatch(banner)
	if m == nil {
		return nil, ErrVersionParseFailed{Version: banner, Op: OpParseBanner, Cause: ErrNoVersionInBanner}
	}
	raw := m[1]
	if m[2] != "" {
		raw += "-" + m[2]
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, ErrVersionParseFailed{Version: raw, Op: OpParseBanner, Cause: err}
	}
	return v, nil
}

// Parse parses a plain version string.
func Parse(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return nil, ErrVersionParseFailed{Version: version, Op: OpParseVersion, Cause: err}
	}
	return v, nil
}

// Satisfies checks v against a constraint such as ">= 3.9, < 4".
// An empty constraint accepts every version.
func Satisfies(v *semver.Version, constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return ErrVersionParseFailed{Version: constraint, Op: OpParseConstraint, Cause: err}
	}
	// Pre-releases are checked as their release triple.
	release, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	if err != nil {
		return ErrVersionParseFailed{Version: v.String(), Op: OpParseConstraint, Cause: err}
	}
	if ok, errs := c.Validate(release); !ok {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("%w: %s %s (%s)", ErrConstraintUnmet, v, constraint, strings.Join(msgs, "; "))
	}
	return nil
}

// ExtractPattern returns the release cycle of v according to pattern.
func ExtractPattern(v *semver.Version, pattern VersionPattern) (string, error) {
	switch pattern {
	case PatternMajor:
		return fmt.Sprintf("%d", v.Major()), nil
	case PatternMajorMinor:
		return fmt.Sprintf("%d.%d", v.Major(), v.Minor()), nil
	default:
		return "", ErrPatternValidation{Pattern: pattern, Op: OpExtractPattern}
	}
}

// Compare compares two version strings (-1 if v1 < v2, 0 if equal, 1 if v1 > v2).
func Compare(v1, v2 string) (int, error) {
	ver1, err := Parse(v1)
	if err != nil {
		return 0, err
	}
	ver2, err := Parse(v2)
	if err != nil {
		return 0, err
	}
	return ver1.Compare(ver2), nil
}

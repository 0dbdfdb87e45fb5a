package sbom

import (
	"log/slog"

	"github.com/Masterminds/semver/v3"
)

// parseVersion parses a SemVer string, retrying once with a leading
// v/V stripped.
func parseVersion(s string) (*semver.Version, bool) {
	if v, err := semver.StrictNewVersion(s); err == nil {
		return v, true
	}
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') {
		if v, err := semver.StrictNewVersion(s[1:]); err == nil {
			return v, true
		}
	}
	return nil, false
}

// IsAffected reports whether version falls into any of the ranges.
// An empty ranges list never matches. Non-SemVer versions (and ranges
// with non-SemVer bounds) conservatively do not match: in this codepath
// a false negative is preferred over a false positive, because an
// isolation action may hang off the result.
func IsAffected(version string, ranges []VersionRange) bool {
	if len(ranges) == 0 {
		return false
	}
	v, ok := parseVersion(version)
	if !ok {
		slog.Warn("non-SemVer version, conservatively not matching",
			slog.String("version", version))
		return false
	}
	for _, r := range ranges {
		if inRange(v, r) {
			return true
		}
	}
	return false
}

func inRange(v *semver.Version, r VersionRange) bool {
	if r.Introduced != "" {
		intro, err := semver.StrictNewVersion(r.Introduced)
		if err != nil {
			slog.Warn("non-SemVer introduced bound, range ignored",
				slog.String("introduced", r.Introduced))
			return false
		}
		if v.LessThan(intro) {
			return false
		}
	}
	if r.Fixed != "" {
		fixed, err := semver.StrictNewVersion(r.Fixed)
		if err != nil {
			slog.Warn("non-SemVer fixed bound, range ignored",
				slog.String("fixed", r.Fixed))
			return false
		}
		if !v.LessThan(fixed) {
			return false
		}
	}
	return true
}

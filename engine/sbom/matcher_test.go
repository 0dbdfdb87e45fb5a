package sbom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rng(introduced, fixed string) VersionRange {
	return VersionRange{Introduced: introduced, Fixed: fixed}
}

func TestIsAffectedInRange(t *testing.T) {
	ranges := []VersionRange{rng("1.0.0", "1.0.5")}
	assert.True(t, IsAffected("1.0.0", ranges))
	assert.True(t, IsAffected("1.0.3", ranges))
	assert.True(t, IsAffected("1.0.4", ranges))
	assert.False(t, IsAffected("0.9.0", ranges))
	assert.False(t, IsAffected("1.0.5", ranges))
	assert.False(t, IsAffected("1.1.0", ranges))
}

func TestIsAffectedOpenBounds(t *testing.T) {
	noFix := []VersionRange{rng("1.0.0", "")}
	assert.True(t, IsAffected("99.99.99", noFix))
	assert.False(t, IsAffected("0.1.0", noFix))

	noIntro := []VersionRange{rng("", "1.0.5")}
	assert.True(t, IsAffected("0.1.0", noIntro))
	assert.False(t, IsAffected("1.0.5", noIntro))

	unbounded := []VersionRange{rng("", "")}
	assert.True(t, IsAffected("0.0.1", unbounded))
}

func TestIsAffectedEmptyRangesNeverMatches(t *testing.T) {
	assert.False(t, IsAffected("1.0.0", nil))
	assert.False(t, IsAffected("1.0.0", []VersionRange{}))
}

func TestIsAffectedMultipleRanges(t *testing.T) {
	ranges := []VersionRange{rng("1.0.0", "1.1.0"), rng("2.0.0", "2.1.0")}
	assert.True(t, IsAffected("1.0.5", ranges))
	assert.False(t, IsAffected("1.5.0", ranges))
	assert.True(t, IsAffected("2.0.5", ranges))
}

func TestIsAffectedNonSemVerConservative(t *testing.T) {
	ranges := []VersionRange{rng("1.0.0", "2.0.0")}
	assert.False(t, IsAffected("not-a-version", ranges))
	assert.False(t, IsAffected("", ranges))
	assert.False(t, IsAffected("1.5", ranges)) // partial versions are not SemVer
}

func TestIsAffectedNonSemVerBoundsIgnored(t *testing.T) {
	assert.False(t, IsAffected("1.0.0", []VersionRange{rng("*", "")}))
	assert.False(t, IsAffected("1.0.0", []VersionRange{rng("abc", "def")}))
}

func TestIsAffectedLeadingV(t *testing.T) {
	ranges := []VersionRange{rng("1.0.0", "1.0.5")}
	assert.True(t, IsAffected("v1.0.3", ranges))
	assert.True(t, IsAffected("V1.0.3", ranges))
}

func TestIsAffectedPrereleaseAndBuild(t *testing.T) {
	ranges := []VersionRange{rng("1.0.0", "1.0.5")}
	assert.True(t, IsAffected("1.0.3-alpha", ranges))
	assert.True(t, IsAffected("1.0.3+20240101", ranges))
}

func TestVulnDBLookup(t *testing.T) {
	db := NewVulnDB([]DBEntry{
		{CVEID: "CVE-1", Package: "serde", Ecosystem: "cargo"},
		{CVEID: "CVE-2", Package: "serde", Ecosystem: "cargo"},
		{CVEID: "CVE-3", Package: "serde", Ecosystem: "npm"},
	})
	assert.Len(t, db.Lookup("serde", "cargo"), 2)
	assert.Len(t, db.Lookup("serde", "npm"), 1)
	assert.Empty(t, db.Lookup("serde", "pip"))
	assert.Empty(t, db.Lookup("lodash", "npm"))
	assert.Equal(t, 3, db.Len())
}

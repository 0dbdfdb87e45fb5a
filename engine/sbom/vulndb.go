package sbom

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// VersionRange is a half-open affected interval [introduced, fixed).
// An empty bound means unbounded on that side.
type VersionRange struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
}

// DBEntry is one vulnerability database record.
type DBEntry struct {
	CVEID          string           `json:"cve_id"`
	Package        string           `json:"package"`
	Ecosystem      models.Ecosystem `json:"ecosystem"`
	AffectedRanges []VersionRange   `json:"affected_ranges"`
	FixedVersion   string           `json:"fixed_version,omitempty"`
	Severity       models.Severity  `json:"severity"`
	Description    string           `json:"description"`
	Published      time.Time        `json:"published,omitempty"`
}

// VulnDB indexes vulnerability entries by (package name, ecosystem).
type VulnDB struct {
	index map[vulnKey][]DBEntry
	size  int
}

type vulnKey struct {
	pkg string
	eco models.Ecosystem
}

// NewVulnDB builds the index from a list of entries.
func NewVulnDB(entries []DBEntry) *VulnDB {
	db := &VulnDB{index: make(map[vulnKey][]DBEntry), size: len(entries)}
	for _, e := range entries {
		k := vulnKey{pkg: e.Package, eco: e.Ecosystem}
		db.index[k] = append(db.index[k], e)
	}
	return db
}

// LoadVulnDB reads a JSON array of entries from path.
func LoadVulnDB(path string) (*VulnDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sbomErr(path, "read: "+err.Error())
	}
	var entries []DBEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, sbomErr(path, "JSON parse error: "+err.Error())
	}
	return NewVulnDB(entries), nil
}

// Lookup returns every entry recorded for the package in its ecosystem.
func (db *VulnDB) Lookup(pkg string, eco models.Ecosystem) []DBEntry {
	return db.index[vulnKey{pkg: pkg, eco: eco}]
}

// Len returns the number of indexed entries.
func (db *VulnDB) Len() int { return db.size }

package models

import (
	"fmt"
	"time"
)

// Ecosystem tags the package manager a lockfile belongs to.
type Ecosystem string

const (
	EcosystemCargo Ecosystem = "cargo"
	EcosystemNpm   Ecosystem = "npm"
	EcosystemGo    Ecosystem = "go"
	EcosystemPip   Ecosystem = "pip"
)

// Package is one entry of a parsed lockfile.
type Package struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Ecosystem Ecosystem `json:"ecosystem"`
	// PURL is the canonical package URL, pkg:<type>/<name>@<version>.
	PURL string `json:"purl"`
	// Hash is the content hash as recorded by the lockfile, if any.
	Hash *PackageHash `json:"hash,omitempty"`
	// Dependencies lists direct dependency names.
	Dependencies []string `json:"dependencies,omitempty"`
}

// PackageHash is an (algorithm, value) content hash pair.
type PackageHash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// NewPURL builds the canonical package URL string.
func NewPURL(eco Ecosystem, name, version string) string {
	return fmt.Sprintf("pkg:%s/%s@%s", eco, name, version)
}

// PackageGraph is the observed dependency graph of one lockfile. Names in
// Dependencies may refer to packages outside the graph; the graph records
// what the lockfile says, it is not a verified closure.
type PackageGraph struct {
	SourcePath string    `json:"source_path"`
	Ecosystem  Ecosystem `json:"ecosystem"`
	Packages   []Package `json:"packages"`
	Roots      []string  `json:"roots,omitempty"`
}

// Finding pairs a package with one vulnerability affecting it.
type Finding struct {
	Package       Package       `json:"package"`
	Vulnerability Vulnerability `json:"vulnerability"`
}

// ScanResult is the outcome of scanning one lockfile.
type ScanResult struct {
	ScanID        string    `json:"scan_id"`
	SourceFile    string    `json:"source_file"`
	Ecosystem     Ecosystem `json:"ecosystem"`
	TotalPackages int       `json:"total_packages"`
	Findings      []Finding `json:"findings"`
	// SBOMDocument holds the generated SBOM JSON, when generation succeeded.
	SBOMDocument []byte    `json:"sbom_document,omitempty"`
	ScannedAt    time.Time `json:"scanned_at"`
}

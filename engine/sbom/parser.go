// Package sbom implements the SBOM scanner: lockfile discovery and
// parsing, SBOM document generation, and vulnerability matching.
package sbom

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// maxLockfileSize bounds one lockfile; larger files are rejected.
const maxLockfileSize = 10 * 1024 * 1024

// LockfileParser parses one ecosystem's lockfile format into a package
// graph.
type LockfileParser interface {
	Ecosystem() models.Ecosystem
	// CanParse reports whether the file at path belongs to this parser,
	// judged by file name.
	CanParse(path string) bool
	Parse(content []byte, sourcePath string) (models.PackageGraph, error)
}

// DefaultParsers returns the built-in parser set.
func DefaultParsers() []LockfileParser {
	return []LockfileParser{
		NewCargoParser(),
		NewNpmParser(),
		NewGoSumParser(),
		NewPipfileParser(),
	}
}

// sbomErr wraps into the root taxonomy under the sbom kind.
func sbomErr(subject, reason string) error {
	return models.NewError(models.ErrKindSbom, subject, reason)
}

// checkSize rejects oversized lockfiles before parsing.
func checkSize(content []byte, sourcePath string) error {
	if len(content) > maxLockfileSize {
		return sbomErr(sourcePath, fmt.Sprintf("file too big: %d bytes (max %d)", len(content), maxLockfileSize))
	}
	return nil
}

// parseChecksum splits a lockfile checksum into (algorithm, value). NPM
// integrity strings are dash-delimited ("sha512-<b64>"); other
// ecosystems record bare SHA-256 digests.
func parseChecksum(checksum string, eco models.Ecosystem) models.PackageHash {
	if eco == models.EcosystemNpm {
		if dash := strings.IndexByte(checksum, '-'); dash > 0 {
			alg := checksum[:dash]
			value := checksum[dash+1:]
			switch alg {
			case "sha512":
				return models.PackageHash{Algorithm: "SHA-512", Value: value}
			case "sha384":
				return models.PackageHash{Algorithm: "SHA-384", Value: value}
			case "sha256":
				return models.PackageHash{Algorithm: "SHA-256", Value: value}
			case "sha1":
				return models.PackageHash{Algorithm: "SHA-1", Value: value}
			}
			return models.PackageHash{Algorithm: "SHA-256", Value: value}
		}
	}
	return models.PackageHash{Algorithm: "SHA-256", Value: checksum}
}

// DetectLockfiles walks root and returns every file a parser claims, in
// walk order.
func DetectLockfiles(root string, parsers []LockfileParser) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtree: skip it, keep walking
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		for _, p := range parsers {
			if p.CanParse(path) {
				found = append(found, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, sbomErr(root, "walk: "+err.Error())
	}
	return found, nil
}

// ParserFor returns the parser claiming path, or nil.
func ParserFor(path string, parsers []LockfileParser) LockfileParser {
	for _, p := range parsers {
		if p.CanParse(path) {
			return p
		}
	}
	return nil
}

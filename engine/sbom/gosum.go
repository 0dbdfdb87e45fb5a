package sbom

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// GoSumParser parses go.sum files. Each module@version pair becomes one
// package; the "/go.mod" hash lines are skipped and add no entry.
type GoSumParser struct{}

func NewGoSumParser() *GoSumParser { return &GoSumParser{} }

func (p *GoSumParser) Ecosystem() models.Ecosystem { return models.EcosystemGo }

func (p *GoSumParser) CanParse(path string) bool {
	return filepath.Base(path) == "go.sum"
}

func (p *GoSumParser) Parse(content []byte, sourcePath string) (models.PackageGraph, error) {
	if err := checkSize(content, sourcePath); err != nil {
		return models.PackageGraph{}, err
	}
	graph := models.PackageGraph{
		SourcePath: sourcePath,
		Ecosystem:  models.EcosystemGo,
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return models.PackageGraph{}, sbomErr(sourcePath, "malformed go.sum line: "+line)
		}
		module, version, hash := fields[0], fields[1], fields[2]
		// "/go.mod" lines hash the module file, not the module zip
		if strings.HasSuffix(version, "/go.mod") {
			continue
		}
		key := module + "@" + version
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		pkg := models.Package{
			Name:      module,
			Version:   version,
			Ecosystem: models.EcosystemGo,
			PURL:      models.NewPURL(models.EcosystemGo, module, version),
		}
		// h1: is the dirhash SHA-256 form
		if value, ok := strings.CutPrefix(hash, "h1:"); ok {
			pkg.Hash = &models.PackageHash{Algorithm: "SHA-256", Value: value}
		}
		graph.Packages = append(graph.Packages, pkg)
	}
	if err := scanner.Err(); err != nil {
		return models.PackageGraph{}, sbomErr(sourcePath, "read: "+err.Error())
	}
	return graph, nil
}

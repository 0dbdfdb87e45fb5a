package sbom

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// PipfileParser parses Pipfile.lock files. Both the default and develop
// sections contribute packages.
type PipfileParser struct{}

func NewPipfileParser() *PipfileParser { return &PipfileParser{} }

func (p *PipfileParser) Ecosystem() models.Ecosystem { return models.EcosystemPip }

func (p *PipfileParser) CanParse(path string) bool {
	return filepath.Base(path) == "Pipfile.lock"
}

type pipfileLock struct {
	Default map[string]pipfileEntry `json:"default"`
	Develop map[string]pipfileEntry `json:"develop"`
}

type pipfileEntry struct {
	Version string   `json:"version"`
	Hashes  []string `json:"hashes"`
}

func (p *PipfileParser) Parse(content []byte, sourcePath string) (models.PackageGraph, error) {
	if err := checkSize(content, sourcePath); err != nil {
		return models.PackageGraph{}, err
	}
	var lock pipfileLock
	if err := json.Unmarshal(content, &lock); err != nil {
		return models.PackageGraph{}, sbomErr(sourcePath, "JSON parse error: "+err.Error())
	}

	graph := models.PackageGraph{
		SourcePath: sourcePath,
		Ecosystem:  models.EcosystemPip,
	}
	seen := make(map[string]struct{})
	for _, section := range []map[string]pipfileEntry{lock.Default, lock.Develop} {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entry := section[name]
			version := strings.TrimPrefix(entry.Version, "==")
			if version == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}

			pkg := models.Package{
				Name:      name,
				Version:   version,
				Ecosystem: models.EcosystemPip,
				PURL:      models.NewPURL(models.EcosystemPip, name, version),
			}
			if len(entry.Hashes) > 0 {
				// pipfile hashes are "sha256:<hex>"
				if alg, value, found := strings.Cut(entry.Hashes[0], ":"); found {
					pkg.Hash = &models.PackageHash{
						Algorithm: strings.ToUpper(strings.Replace(alg, "sha", "SHA-", 1)),
						Value:     value,
					}
				}
			}
			graph.Packages = append(graph.Packages, pkg)
		}
	}
	return graph, nil
}

package sbom

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// NpmParser parses package-lock.json (lockfile v2/v3).
type NpmParser struct{}

func NewNpmParser() *NpmParser { return &NpmParser{} }

func (p *NpmParser) Ecosystem() models.Ecosystem { return models.EcosystemNpm }

func (p *NpmParser) CanParse(path string) bool {
	return filepath.Base(path) == "package-lock.json"
}

type npmLock struct {
	Name     string                  `json:"name"`
	Packages map[string]npmLockEntry `json:"packages"`
}

type npmLockEntry struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Integrity    string            `json:"integrity"`
	Dependencies map[string]string `json:"dependencies"`
}

func (p *NpmParser) Parse(content []byte, sourcePath string) (models.PackageGraph, error) {
	if err := checkSize(content, sourcePath); err != nil {
		return models.PackageGraph{}, err
	}
	var lock npmLock
	if err := json.Unmarshal(content, &lock); err != nil {
		return models.PackageGraph{}, sbomErr(sourcePath, "JSON parse error: "+err.Error())
	}

	graph := models.PackageGraph{
		SourcePath: sourcePath,
		Ecosystem:  models.EcosystemNpm,
	}

	keys := make([]string, 0, len(lock.Packages))
	for k := range lock.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := lock.Packages[key]
		if key == "" {
			// the empty key is the root project
			if entry.Name != "" {
				graph.Roots = append(graph.Roots, entry.Name)
			}
			continue
		}
		if entry.Version == "" {
			continue
		}
		name := npmPackageName(key)
		pkg := models.Package{
			Name:      name,
			Version:   entry.Version,
			Ecosystem: models.EcosystemNpm,
			PURL:      models.NewPURL(models.EcosystemNpm, name, entry.Version),
		}
		if entry.Integrity != "" {
			h := parseChecksum(entry.Integrity, models.EcosystemNpm)
			pkg.Hash = &h
		}
		if len(entry.Dependencies) > 0 {
			deps := make([]string, 0, len(entry.Dependencies))
			for dep := range entry.Dependencies {
				deps = append(deps, dep)
			}
			sort.Strings(deps)
			pkg.Dependencies = deps
		}
		graph.Packages = append(graph.Packages, pkg)
	}
	return graph, nil
}

// npmPackageName recovers the package name from a lockfile entry key,
// stripping every leading "node_modules/" segment so nested and scoped
// packages (e.g. "node_modules/@scope/name") resolve correctly.
func npmPackageName(key string) string {
	const marker = "node_modules/"
	name := key
	for {
		idx := strings.LastIndex(name, marker)
		if idx < 0 {
			break
		}
		name = name[idx+len(marker):]
	}
	return name
}

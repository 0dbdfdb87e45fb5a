package sbom

import (
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// CargoParser parses Cargo.lock files.
type CargoParser struct{}

func NewCargoParser() *CargoParser { return &CargoParser{} }

func (p *CargoParser) Ecosystem() models.Ecosystem { return models.EcosystemCargo }

func (p *CargoParser) CanParse(path string) bool {
	return filepath.Base(path) == "Cargo.lock"
}

type cargoLock struct {
	Package []cargoPackage `toml:"package"`
}

type cargoPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
}

func (p *CargoParser) Parse(content []byte, sourcePath string) (models.PackageGraph, error) {
	if err := checkSize(content, sourcePath); err != nil {
		return models.PackageGraph{}, err
	}
	var lock cargoLock
	if err := toml.Unmarshal(content, &lock); err != nil {
		return models.PackageGraph{}, sbomErr(sourcePath, "TOML parse error: "+err.Error())
	}

	graph := models.PackageGraph{
		SourcePath: sourcePath,
		Ecosystem:  models.EcosystemCargo,
	}
	dependedOn := make(map[string]struct{})
	for _, cp := range lock.Package {
		if cp.Name == "" || cp.Version == "" {
			continue
		}
		pkg := models.Package{
			Name:      cp.Name,
			Version:   cp.Version,
			Ecosystem: models.EcosystemCargo,
			PURL:      models.NewPURL(models.EcosystemCargo, cp.Name, cp.Version),
		}
		if cp.Checksum != "" {
			h := parseChecksum(cp.Checksum, models.EcosystemCargo)
			pkg.Hash = &h
		}
		for _, dep := range cp.Dependencies {
			// dependency entries may be "name" or "name version"
			name := dep
			if space := strings.IndexByte(dep, ' '); space > 0 {
				name = dep[:space]
			}
			pkg.Dependencies = append(pkg.Dependencies, name)
			dependedOn[name] = struct{}{}
		}
		graph.Packages = append(graph.Packages, pkg)
	}
	// roots: packages nothing else depends on
	for _, pkg := range graph.Packages {
		if _, ok := dependedOn[pkg.Name]; !ok {
			graph.Roots = append(graph.Roots, pkg.Name)
		}
	}
	return graph, nil
}

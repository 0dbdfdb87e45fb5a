package sbom

import (
	"bytes"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// toolName identifies the generator in SBOM metadata.
const toolName = "ironpost"

// toolVersion is stamped into generated documents.
const toolVersion = "0.1.0"

// Generator renders a package graph into one SBOM output format.
type Generator interface {
	Format() string
	Generate(graph *models.PackageGraph) ([]byte, error)
}

// NewGenerator returns the generator for a configured output format.
func NewGenerator(format string) (Generator, error) {
	switch format {
	case "cyclonedx":
		return &CycloneDXGenerator{}, nil
	case "spdx":
		return &SPDXGenerator{}, nil
	default:
		return nil, sbomErr(format, "unknown SBOM output format")
	}
}

// CycloneDXGenerator emits CycloneDX 1.5 JSON.
type CycloneDXGenerator struct{}

func (g *CycloneDXGenerator) Format() string { return "cyclonedx" }

func (g *CycloneDXGenerator) Generate(graph *models.PackageGraph) ([]byte, error) {
	bom := cdx.NewBOM()
	bom.SpecVersion = cdx.SpecVersion1_5
	bom.Metadata = &cdx.Metadata{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Tools: &cdx.ToolsChoice{
			Components: &[]cdx.Component{{
				Type:    cdx.ComponentTypeApplication,
				Name:    toolName,
				Version: toolVersion,
			}},
		},
	}

	components := make([]cdx.Component, 0, len(graph.Packages))
	for _, pkg := range graph.Packages {
		comp := cdx.Component{
			BOMRef:     pkg.PURL,
			Type:       cdx.ComponentTypeLibrary,
			Name:       pkg.Name,
			Version:    pkg.Version,
			PackageURL: pkg.PURL,
		}
		if pkg.Hash != nil && pkg.Hash.Value != "" {
			comp.Hashes = &[]cdx.Hash{{
				Algorithm: cdx.HashAlgorithm(pkg.Hash.Algorithm),
				Value:     pkg.Hash.Value,
			}}
		}
		components = append(components, comp)
	}
	bom.Components = &components

	var buf bytes.Buffer
	encoder := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	encoder.SetPretty(true)
	if err := encoder.EncodeVersion(bom, cdx.SpecVersion1_5); err != nil {
		return nil, sbomErr(graph.SourcePath, "CycloneDX encode: "+err.Error())
	}
	return buf.Bytes(), nil
}

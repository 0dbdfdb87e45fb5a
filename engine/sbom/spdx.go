package sbom

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx"
	"github.com/spdx/tools-golang/spdx/v2/common"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// SPDXGenerator emits SPDX 2.3 JSON.
type SPDXGenerator struct{}

func (g *SPDXGenerator) Format() string { return "spdx" }

func (g *SPDXGenerator) Generate(graph *models.PackageGraph) ([]byte, error) {
	doc := &spdx.Document{
		SPDXVersion:    spdx.Version,
		DataLicense:    spdx.DataLicense,
		SPDXIdentifier: common.ElementID("DOCUMENT"),
		DocumentName:   graph.SourcePath,
		// a fresh namespace per generation keeps documents distinct
		DocumentNamespace: "https://ironpost.dev/spdxdocs/" + uuid.NewString(),
		CreationInfo: &spdx.CreationInfo{
			Created: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
			Creators: []common.Creator{
				{CreatorType: "Tool", Creator: toolName + "-" + toolVersion},
			},
		},
	}

	for _, pkg := range graph.Packages {
		id := "Package-" + sanitizeID(pkg.Name) + "-" + sanitizeID(pkg.Version)
		doc.Packages = append(doc.Packages, &spdx.Package{
			PackageName:             pkg.Name,
			PackageSPDXIdentifier:   common.ElementID(id),
			PackageVersion:          pkg.Version,
			PackageDownloadLocation: "NOASSERTION",
			PackageExternalReferences: []*spdx.PackageExternalReference{{
				Category: "PACKAGE-MANAGER",
				RefType:  "purl",
				Locator:  pkg.PURL,
			}},
		})
	}

	var buf bytes.Buffer
	if err := spdxjson.Write(doc, &buf); err != nil {
		return nil, sbomErr(graph.SourcePath, "SPDX encode: "+err.Error())
	}
	return buf.Bytes(), nil
}

// sanitizeID maps every non-alphanumeric rune to '-' so package names
// form valid SPDX identifiers.
func sanitizeID(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

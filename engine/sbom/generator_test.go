package sbom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

func sampleGraph() models.PackageGraph {
	hash := models.PackageHash{Algorithm: "SHA-256", Value: "f5d1c6ed"}
	return models.PackageGraph{
		SourcePath: "/src/Cargo.lock",
		Ecosystem:  models.EcosystemCargo,
		Packages: []models.Package{
			{Name: "serde", Version: "1.0.100", Ecosystem: models.EcosystemCargo,
				PURL: "pkg:cargo/serde@1.0.100", Hash: &hash},
			{Name: "tokio", Version: "1.35.0", Ecosystem: models.EcosystemCargo,
				PURL: "pkg:cargo/tokio@1.35.0"},
		},
		Roots: []string{"serde"},
	}
}

func TestCycloneDXGenerate(t *testing.T) {
	graph := sampleGraph()
	out, err := (&CycloneDXGenerator{}).Generate(&graph)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc), "output must be valid JSON")
	assert.Equal(t, "CycloneDX", doc["bomFormat"])
	assert.Equal(t, "1.5", doc["specVersion"])

	components, ok := doc["components"].([]any)
	require.True(t, ok)
	require.Len(t, components, len(graph.Packages), "every package appears as a component")

	first := components[0].(map[string]any)
	assert.Equal(t, "library", first["type"])
	assert.Equal(t, "serde", first["name"])
	assert.Equal(t, "1.0.100", first["version"])
	assert.Equal(t, "pkg:cargo/serde@1.0.100", first["purl"])

	hashes := first["hashes"].([]any)
	h := hashes[0].(map[string]any)
	assert.Equal(t, "SHA-256", h["alg"])

	meta := doc["metadata"].(map[string]any)
	assert.NotEmpty(t, meta["timestamp"])
}

func TestSPDXGenerate(t *testing.T) {
	graph := sampleGraph()
	out, err := (&SPDXGenerator{}).Generate(&graph)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc), "output must be valid JSON")
	assert.Equal(t, "SPDX-2.3", doc["spdxVersion"])
	assert.Equal(t, "SPDXRef-DOCUMENT", doc["SPDXID"])
	assert.Equal(t, "CC0-1.0", doc["dataLicense"])
	assert.Contains(t, doc["documentNamespace"], "spdxdocs")

	packages := doc["packages"].([]any)
	require.Len(t, packages, len(graph.Packages))

	first := packages[0].(map[string]any)
	assert.Equal(t, "serde", first["name"])
	assert.Equal(t, "SPDXRef-Package-serde-1-0-100", first["SPDXID"])

	refs := first["externalRefs"].([]any)
	ref := refs[0].(map[string]any)
	assert.Equal(t, "PACKAGE-MANAGER", ref["referenceCategory"])
	assert.Equal(t, "purl", ref["referenceType"])
	assert.Equal(t, "pkg:cargo/serde@1.0.100", ref["referenceLocator"])
}

func TestSPDXNamespaceUniquePerGeneration(t *testing.T) {
	graph := sampleGraph()
	g := &SPDXGenerator{}
	a, err := g.Generate(&graph)
	require.NoError(t, err)
	b, err := g.Generate(&graph)
	require.NoError(t, err)

	var docA, docB map[string]any
	require.NoError(t, json.Unmarshal(a, &docA))
	require.NoError(t, json.Unmarshal(b, &docB))
	assert.NotEqual(t, docA["documentNamespace"], docB["documentNamespace"])
}

func TestCycloneDXRoundTripThroughNpm(t *testing.T) {
	// parse a lockfile, emit CycloneDX, re-read: component count and
	// purls survive
	graph, err := NewNpmParser().Parse([]byte(npmLockFixture), "package-lock.json")
	require.NoError(t, err)
	out, err := (&CycloneDXGenerator{}).Generate(&graph)
	require.NoError(t, err)

	var doc struct {
		Components []struct {
			PURL string `json:"purl"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Components, len(graph.Packages))
	purls := make(map[string]bool)
	for _, c := range doc.Components {
		purls[c.PURL] = true
	}
	for _, pkg := range graph.Packages {
		assert.True(t, purls[pkg.PURL], pkg.PURL)
	}
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator("cyclonedx")
	require.NoError(t, err)
	assert.Equal(t, "cyclonedx", g.Format())

	g, err = NewGenerator("spdx")
	require.NoError(t, err)
	assert.Equal(t, "spdx", g.Format())

	_, err = NewGenerator("xlsx")
	assert.Error(t, err)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "serde-1-0-100", sanitizeID("serde")+"-"+sanitizeID("1.0.100"))
	assert.Equal(t, "-scope-pkg", sanitizeID("@scope/pkg"))
}

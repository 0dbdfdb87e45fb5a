package sbom

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

const cargoLockFixture = `
version = 3

[[package]]
name = "serde"
version = "1.0.100"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "f5d1c6ed6d1c6915aa64749b809fc1bafff49d160f5d927463658a1d10ff1a25"
dependencies = [
 "serde_derive",
]

[[package]]
name = "serde_derive"
version = "1.0.100"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "de2a91fc1c8a9daf06e5a293f36b2f0b08d22fdb28dfbd09ab76d0a12f92a6c4"
`

func TestCargoParser(t *testing.T) {
	p := NewCargoParser()
	assert.True(t, p.CanParse("/src/Cargo.lock"))
	assert.False(t, p.CanParse("/src/cargo.toml"))

	graph, err := p.Parse([]byte(cargoLockFixture), "/src/Cargo.lock")
	require.NoError(t, err)
	assert.Equal(t, models.EcosystemCargo, graph.Ecosystem)
	require.Len(t, graph.Packages, 2)

	serde := graph.Packages[0]
	assert.Equal(t, "serde", serde.Name)
	assert.Equal(t, "1.0.100", serde.Version)
	assert.Equal(t, "pkg:cargo/serde@1.0.100", serde.PURL)
	require.NotNil(t, serde.Hash)
	assert.Equal(t, "SHA-256", serde.Hash.Algorithm)
	assert.Equal(t, []string{"serde_derive"}, serde.Dependencies)

	// serde is depended on by nothing: it is a root
	assert.Equal(t, []string{"serde"}, graph.Roots)
}

const npmLockFixture = `{
  "name": "my-app",
  "lockfileVersion": 3,
  "packages": {
    "": { "name": "my-app", "version": "1.0.0" },
    "node_modules/lodash": {
      "version": "4.17.21",
      "integrity": "sha512-v2kDEe57lecTulaDIuNTPy3Ry4gLGJ6Z1O3vE1krgXZNrsQ+LFTGHVxVjcXPs17LhbZVGedAJv8XZ1tvj5FvSg==",
      "dependencies": { "ms": "^2.1.1" }
    },
    "node_modules/@scope/pkg": { "version": "2.0.0" },
    "node_modules/a/node_modules/b": { "version": "3.0.0" }
  }
}`

func TestNpmParser(t *testing.T) {
	p := NewNpmParser()
	assert.True(t, p.CanParse("/app/package-lock.json"))

	graph, err := p.Parse([]byte(npmLockFixture), "/app/package-lock.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"my-app"}, graph.Roots)
	require.Len(t, graph.Packages, 3)

	byName := map[string]models.Package{}
	for _, pkg := range graph.Packages {
		byName[pkg.Name] = pkg
	}

	lodash := byName["lodash"]
	assert.Equal(t, "4.17.21", lodash.Version)
	assert.Equal(t, "pkg:npm/lodash@4.17.21", lodash.PURL)
	require.NotNil(t, lodash.Hash)
	assert.Equal(t, "SHA-512", lodash.Hash.Algorithm)
	assert.NotContains(t, lodash.Hash.Value, "sha512-")
	assert.Equal(t, []string{"ms"}, lodash.Dependencies)

	scoped, ok := byName["@scope/pkg"]
	require.True(t, ok, "scoped package name must be recovered")
	assert.Equal(t, "pkg:npm/@scope/pkg@2.0.0", scoped.PURL)

	// nested entries resolve to the innermost package name
	_, ok = byName["b"]
	assert.True(t, ok)
}

const goSumFixture = `github.com/stretchr/testify v1.11.1 h1:abc123=
github.com/stretchr/testify v1.11.1/go.mod h1:def456=
golang.org/x/sys v0.36.0 h1:xyz789=
`

func TestGoSumParser(t *testing.T) {
	p := NewGoSumParser()
	assert.True(t, p.CanParse("/repo/go.sum"))

	graph, err := p.Parse([]byte(goSumFixture), "/repo/go.sum")
	require.NoError(t, err)
	require.Len(t, graph.Packages, 2)
	assert.Equal(t, "github.com/stretchr/testify", graph.Packages[0].Name)
	assert.Equal(t, "v1.11.1", graph.Packages[0].Version)
	require.NotNil(t, graph.Packages[0].Hash)
	assert.Equal(t, "abc123=", graph.Packages[0].Hash.Value)
}

func TestGoSumParserRejectsMalformed(t *testing.T) {
	_, err := NewGoSumParser().Parse([]byte("only-two fields\n"), "go.sum")
	assert.Error(t, err)
}

const pipfileLockFixture = `{
  "default": {
    "requests": {
      "version": "==2.31.0",
      "hashes": ["sha256:deadbeef"]
    }
  },
  "develop": {
    "pytest": { "version": "==8.0.0" }
  }
}`

func TestPipfileParser(t *testing.T) {
	p := NewPipfileParser()
	assert.True(t, p.CanParse("/app/Pipfile.lock"))

	graph, err := p.Parse([]byte(pipfileLockFixture), "/app/Pipfile.lock")
	require.NoError(t, err)
	require.Len(t, graph.Packages, 2)

	byName := map[string]models.Package{}
	for _, pkg := range graph.Packages {
		byName[pkg.Name] = pkg
	}
	requests := byName["requests"]
	assert.Equal(t, "2.31.0", requests.Version)
	assert.Equal(t, "pkg:pip/requests@2.31.0", requests.PURL)
	require.NotNil(t, requests.Hash)
	assert.Equal(t, "SHA-256", requests.Hash.Algorithm)
	assert.Equal(t, "deadbeef", requests.Hash.Value)

	pytest := byName["pytest"]
	assert.Equal(t, "8.0.0", pytest.Version)
	assert.Nil(t, pytest.Hash)
}

func TestParsersRejectOversizedFiles(t *testing.T) {
	huge := bytes.Repeat([]byte("x"), maxLockfileSize+1)
	for _, p := range DefaultParsers() {
		_, err := p.Parse(huge, "big")
		assert.Error(t, err, string(p.Ecosystem()))
	}
}

func TestDetectLockfiles(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "services", "api")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.lock"), []byte(cargoLockFixture), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "package-lock.json"), []byte(npmLockFixture), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "README.md"), []byte("# x"), 0o600))

	found, err := DetectLockfiles(root, DefaultParsers())
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestNpmPackageName(t *testing.T) {
	assert.Equal(t, "lodash", npmPackageName("node_modules/lodash"))
	assert.Equal(t, "@scope/pkg", npmPackageName("node_modules/@scope/pkg"))
	assert.Equal(t, "b", npmPackageName("node_modules/a/node_modules/b"))
	assert.Equal(t, "plain", npmPackageName("plain"))
}

package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "index.json", `{
		"indexables": {
			"cloud_cover": {"json_path": "properties.eo:cloud_cover", "storage_type": "DOUBLE"}
		},
		"queryables": {
			"cloud_cover": {"collections": ["*"]}
		},
		"sortables": {
			"cloud_cover": {"collections": ["*"]}
		},
		"fixes_to_apply": []
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "DOUBLE", cfg.Indexables["cloud_cover"].StorageType)
	assert.Equal(t, []string{"*"}, cfg.Queryables["cloud_cover"].Collections)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "index.yaml", `
indexables:
  cloud_cover:
    json_path: properties.eo:cloud_cover
    storage_type: DOUBLE
  gsd:
    json_path: properties/gsd
    storage_type: DOUBLE
queryables:
  cloud_cover:
    collections: ["*"]
sortables:
  gsd:
    collections: ["*"]
fixes_to_apply: []
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "properties.eo:cloud_cover", cfg.Indexables["cloud_cover"].JSONPath)
	assert.Contains(t, cfg.Sortables, "gsd")
}

func TestLoadConfigRejectsBrokenReferences(t *testing.T) {
	path := writeConfigFile(t, "index.json", `{
		"indexables": {},
		"queryables": {"phantom": {"collections": ["*"]}}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phantom")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigBadSyntax(t *testing.T) {
	path := writeConfigFile(t, "index.yaml", "indexables: [not: a: map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

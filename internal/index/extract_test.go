package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPath(t *testing.T) {
	dict := map[string]interface{}{
		"properties": map[string]interface{}{
			"gsd":         10.0,
			"eo:cloud_cover": 42.5,
			"nullable":    nil,
			"nested":      map[string]interface{}{"deep": "v"},
		},
	}

	assert.Equal(t, 10.0, ExtractPath(dict, "properties.gsd"))
	assert.Equal(t, 10.0, ExtractPath(dict, "properties/gsd"))
	assert.Equal(t, "v", ExtractPath(dict, "properties.nested.deep"))
	assert.Nil(t, ExtractPath(dict, "properties.missing"))
	assert.Nil(t, ExtractPath(dict, "properties.gsd.deeper"))

	// Fallbacks take the first non-null alternative.
	assert.Equal(t, 42.5, ExtractPath(dict, "properties.missing|properties.eo:cloud_cover"))
	assert.Nil(t, ExtractPath(dict, "properties.nullable|properties.also_missing"))
}

func TestColumnName(t *testing.T) {
	cfg := &Config{Indexables: map[string]IndexableConfig{
		"cloud_cover": {JSONPath: "properties.eo:cloud_cover|properties.cloud_cover", StorageType: "DOUBLE"},
		"gsd":         {JSONPath: "properties/gsd", StorageType: "DOUBLE"},
	}}

	// Only the first alternative names the column.
	assert.Equal(t, "i_properties_eo_cloud_cover", cfg.ColumnName("cloud_cover"))
	assert.Equal(t, "i_properties_gsd", cfg.ColumnName("gsd"))
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{
		Indexables: map[string]IndexableConfig{
			"gsd": {JSONPath: "properties.gsd", StorageType: "DOUBLE"},
		},
		Queryables: map[string]QueryableConfig{
			"gsd": {Collections: []string{"c1"}},
		},
		Sortables: map[string]SortableConfig{
			"gsd": {},
		},
		FixesToApply: []string{"extension-uri"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Queryables["other"] = QueryableConfig{}
	assert.Error(t, cfg.Validate())
	delete(cfg.Queryables, "other")

	cfg.Sortables["other"] = SortableConfig{}
	assert.Error(t, cfg.Validate())
	delete(cfg.Sortables, "other")

	cfg.FixesToApply = []string{"no-such-fix"}
	assert.Error(t, cfg.Validate())
}

func TestStorageTypePredicates(t *testing.T) {
	assert.True(t, IsGeometryType("GEOMETRY"))
	assert.True(t, IsGeometryType("geometry"))
	assert.False(t, IsGeometryType("VARCHAR"))

	assert.True(t, IsTemporalType("TIMESTAMPTZ"))
	assert.True(t, IsTemporalType("timestamp with time zone"))
	assert.False(t, IsTemporalType("TIMESTAMP"))
}

package index

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stacdex/stacdex/internal/stac"
)

// IndexableConfig declares one field extracted from items into its own column.
type IndexableConfig struct {
	// JSONPath is a slash-or-dot-delimited path into the item dict, with
	// |-separated fallbacks (first non-null wins), e.g. "properties.gsd".
	JSONPath    string `json:"json_path" yaml:"json_path"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// StorageType is the DuckDB column type, e.g. DOUBLE or VARCHAR.
	StorageType string `json:"storage_type" yaml:"storage_type"`
}

// QueryableConfig exposes an indexable through the filter API.
type QueryableConfig struct {
	JSONSchema  map[string]interface{} `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
	Collections []string               `json:"collections" yaml:"collections"`
}

// SortableConfig allows an indexable in ORDER BY.
type SortableConfig struct {
	Collections []string `json:"collections" yaml:"collections"`
}

// Config is the index configuration controlling extraction and exposure.
type Config struct {
	Indexables   map[string]IndexableConfig `json:"indexables" yaml:"indexables"`
	Queryables   map[string]QueryableConfig `json:"queryables" yaml:"queryables"`
	Sortables    map[string]SortableConfig  `json:"sortables" yaml:"sortables"`
	FixesToApply []string                   `json:"fixes_to_apply" yaml:"fixes_to_apply"`
}

// LoadConfig reads and validates an index configuration file. JSON is the
// native form; .yaml/.yml files are accepted too.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index config: %w", err)
	}
	var cfg Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse index config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-references the data contract requires.
func (c *Config) Validate() error {
	for name := range c.Queryables {
		if _, ok := c.Indexables[name]; !ok {
			return fmt.Errorf("queryable %q does not exist in indexables", name)
		}
	}
	for name := range c.Sortables {
		if _, ok := c.Indexables[name]; !ok {
			return fmt.Errorf("sortable %q does not exist in indexables", name)
		}
	}
	for _, fix := range c.FixesToApply {
		if _, ok := stac.LookupFixer(fix); !ok {
			return fmt.Errorf("fix %q is not a registered fixer", fix)
		}
	}
	return nil
}

// ColumnName returns the items-table column for an indexable.
func (c *Config) ColumnName(name string) string {
	return "i_" + sanitizePath(c.Indexables[name].JSONPath)
}

// sanitizePath turns a JSON path into a column-safe suffix.
func sanitizePath(jsonPath string) string {
	// Only the first path alternative names the column.
	if i := strings.Index(jsonPath, "|"); i >= 0 {
		jsonPath = jsonPath[:i]
	}
	var b strings.Builder
	for _, r := range jsonPath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// IsGeometryType reports whether a storage type holds geometries.
func IsGeometryType(storageType string) bool {
	return strings.EqualFold(storageType, "GEOMETRY")
}

// IsTemporalType reports whether a storage type is a timestamp-with-timezone kind.
func IsTemporalType(storageType string) bool {
	t := strings.ToUpper(storageType)
	return t == "TIMESTAMPTZ" || t == "TIMESTAMP WITH TIME ZONE"
}

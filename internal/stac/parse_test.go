package stac

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemDict(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var dict map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &dict))
	return dict
}

const validItem = `{
	"type": "Feature",
	"stac_version": "1.0.0",
	"id": "item-1",
	"collection": "sentinel",
	"geometry": {"type": "Point", "coordinates": [5.0, 52.0]},
	"properties": {"datetime": "2023-06-01T12:00:00Z"}
}`

func TestParseItemValid(t *testing.T) {
	item, errs := ParseItem(itemDict(t, validItem), "s3://b/item.json", "fallback", nil)
	require.Empty(t, errs)
	require.NotNil(t, item)

	assert.Equal(t, "item-1", item.ID)
	// The embedded collection wins over the crawl context.
	assert.Equal(t, "sentinel", item.Collection)
	assert.Equal(t, orb.Point{5, 52}, item.Geometry)
	require.NotNil(t, item.Datetime)
	assert.Equal(t, time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC), item.Datetime.UTC())
	assert.Equal(t, NoFixes, item.AppliedFixesColumn())
}

func TestParseItemRangedDatetime(t *testing.T) {
	dict := itemDict(t, validItem)
	dict["properties"] = map[string]interface{}{
		"start_datetime": "2023-06-01T00:00:00Z",
		"end_datetime":   "2023-06-02T00:00:00Z",
	}
	item, errs := ParseItem(dict, "s3://b/item.json", "", nil)
	require.Empty(t, errs)
	assert.Nil(t, item.Datetime)
	require.NotNil(t, item.Start)
	require.NotNil(t, item.End)
}

func TestParseItemTemporalRule(t *testing.T) {
	// Both forms set is a violation, as is neither.
	for _, props := range []map[string]interface{}{
		{
			"datetime":       "2023-06-01T00:00:00Z",
			"start_datetime": "2023-06-01T00:00:00Z",
			"end_datetime":   "2023-06-02T00:00:00Z",
		},
		{},
		{"start_datetime": "2023-06-01T00:00:00Z"},
	} {
		dict := itemDict(t, validItem)
		dict["properties"] = props
		item, errs := ParseItem(dict, "s3://b/item.json", "", nil)
		assert.Nil(t, item)
		require.NotEmpty(t, errs)
		assert.Equal(t, SubtypeInvalidDatetime, errs[0].Subtype)
	}
}

func TestParseItemMissingFields(t *testing.T) {
	dict := itemDict(t, `{"type": "Thing", "properties": {"datetime": "2023-06-01T00:00:00Z"}}`)
	item, errs := ParseItem(dict, "s3://b/item.json", "", nil)
	assert.Nil(t, item)

	subtypes := map[string]int{}
	for _, e := range errs {
		subtypes[e.Subtype]++
	}
	assert.Equal(t, 1, subtypes[SubtypeInvalidType])
	// stac_version, id, geometry.
	assert.Equal(t, 3, subtypes[SubtypeMissingField])
}

func TestParseItemInvalidGeometry(t *testing.T) {
	dict := itemDict(t, validItem)
	dict["geometry"] = map[string]interface{}{"type": "Nonagon", "coordinates": []interface{}{}}
	item, errs := ParseItem(dict, "s3://b/item.json", "", nil)
	assert.Nil(t, item)
	require.Len(t, errs, 1)
	assert.Equal(t, SubtypeInvalidGeometry, errs[0].Subtype)
}

func TestParseItemAppliesFixes(t *testing.T) {
	dict := itemDict(t, validItem)
	dict["stac_extensions"] = []interface{}{"eo"}

	item, errs := ParseItem(dict, "s3://b/item.json", "", []string{"extension-uri"})
	require.Empty(t, errs)
	assert.Equal(t, []string{"extension-uri"}, item.AppliedFixes)
	assert.Equal(t, "extension-uri", item.AppliedFixesColumn())

	exts := item.Raw["stac_extensions"].([]interface{})
	assert.NotContains(t, exts, "eo")
}

func TestParseItemFixNotNeeded(t *testing.T) {
	item, errs := ParseItem(itemDict(t, validItem), "s3://b/item.json", "", []string{"extension-uri"})
	require.Empty(t, errs)
	assert.Empty(t, item.AppliedFixes)
	assert.Equal(t, NoFixes, item.AppliedFixesColumn())
}

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog(`{"type": "Catalog", "id": "root", "links": [
		{"rel": "child", "href": "./child/catalog.json"}
	]}`, "s3://b/catalog.json")
	require.NoError(t, err)
	assert.Equal(t, "root", cat.ID)
	assert.Equal(t, []string{"s3://b/child/catalog.json"}, cat.ChildHrefs())

	_, err = ParseCatalog(`{"type": "Feature", "id": "x"}`, "s3://b/catalog.json")
	assert.Error(t, err)

	_, err = ParseCatalog(`{"type": "Catalog"}`, "s3://b/catalog.json")
	assert.Error(t, err)
}

func TestViolationsCarryPossibleFixes(t *testing.T) {
	// An unparseable extension reference is what the extension-uri fixer
	// repairs; the violation should advertise it.
	v := &Violation{Subtype: SubtypeInvalidType, Location: "stac_extensions", Description: "bad extension ref"}
	fixer, ok := LookupFixer("extension-uri")
	require.True(t, ok)
	if fixer.Check(v) {
		assert.Contains(t, RegisteredFixers(), "extension-uri")
	}
}

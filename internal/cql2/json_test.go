package cql2

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONComparison(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "<=",
		"args": [{"property": "cloud_cover"}, 10]
	}`))
	require.NoError(t, err)

	cmp := expr.(*ComparisonExpr)
	assert.Equal(t, "<=", cmp.Op)
	assert.Equal(t, &PropertyRef{Name: "cloud_cover"}, cmp.Left)
	assert.Equal(t, &Literal{Value: 10.0}, cmp.Right)
}

func TestParseJSONLogicalNesting(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "and",
		"args": [
			{"op": "=", "args": [{"property": "platform"}, "landsat-8"]},
			{"op": "not", "args": [{"op": "isNull", "args": [{"property": "gsd"}]}]}
		]
	}`))
	require.NoError(t, err)

	and := expr.(*LogicalExpr)
	assert.Equal(t, "AND", and.Op)
	require.Len(t, and.Args, 2)
	_, ok := and.Args[1].(*NotExpr)
	assert.True(t, ok)
}

func TestParseJSONSpatialGeoJSON(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "s_intersects",
		"args": [
			{"property": "geometry"},
			{"type": "Point", "coordinates": [5.0, 52.0]}
		]
	}`))
	require.NoError(t, err)

	spatial := expr.(*SpatialExpr)
	assert.Equal(t, SpatialIntersects, spatial.Op)
	geom := spatial.Right.(*GeometryLiteral)
	assert.Equal(t, orb.Point{5, 52}, geom.Geometry)
}

func TestParseJSONTemporal(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "t_overlaps",
		"args": [
			{"property": "datetime"},
			{"interval": ["2023-01-01T00:00:00Z", ".."]}
		]
	}`))
	require.NoError(t, err)

	temporal := expr.(*TemporalExpr)
	assert.Equal(t, TemporalOverlaps, temporal.Op)
	interval := temporal.Right.(*IntervalLiteral)
	require.NotNil(t, interval.Start)
	assert.Nil(t, interval.End)
}

func TestParseJSONIn(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "in",
		"args": [{"property": "platform"}, ["a", "b", "c"]]
	}`))
	require.NoError(t, err)

	in := expr.(*InExpr)
	require.Len(t, in.Values, 3)
	assert.False(t, in.Not)
}

func TestParseJSONUnknownOpBecomesFunction(t *testing.T) {
	expr, err := ParseJSON(json.RawMessage(`{
		"op": "casei",
		"args": [{"property": "platform"}]
	}`))
	require.NoError(t, err)
	fn := expr.(*FunctionExpr)
	assert.Equal(t, "casei", fn.Name)
}

func TestParseJSONBadInputs(t *testing.T) {
	for _, input := range []string{
		`{"op": "and", "args": [{"op": "=", "args": [1, 2]}]}`,
		`{"op": "=", "args": [1]}`,
		`{"interval": ["..", ".."]}`,
		`{"bbox": [1, 2, 3]}`,
		`not even json`,
	} {
		_, err := ParseJSON(json.RawMessage(input))
		assert.Error(t, err, "input %s", input)
	}
}

func TestParseLegacyJSON(t *testing.T) {
	expr, err := ParseLegacyJSON(json.RawMessage(`{
		"and": [
			{"eq": [{"property": "platform"}, "landsat-8"]},
			{"intersects": [{"property": "geometry"}, {"type": "Point", "coordinates": [1.0, 2.0]}]}
		]
	}`))
	require.NoError(t, err)

	and := expr.(*LogicalExpr)
	require.Len(t, and.Args, 2)
	assert.IsType(t, &ComparisonExpr{}, and.Args[0])
	assert.IsType(t, &SpatialExpr{}, and.Args[1])

	_, err = ParseLegacyJSON(json.RawMessage(`{"frobnicate": []}`))
	assert.Error(t, err)
}

func TestParseLangDispatch(t *testing.T) {
	expr, err := ParseLang(LangText, json.RawMessage(`cloud_cover < 10`))
	require.NoError(t, err)
	assert.IsType(t, &ComparisonExpr{}, expr)

	expr, err = ParseLang(LangJSON, json.RawMessage(`{"op": "<", "args": [{"property": "cloud_cover"}, 10]}`))
	require.NoError(t, err)
	assert.IsType(t, &ComparisonExpr{}, expr)

	_, err = ParseLang("cql3-quantum", json.RawMessage(`{}`))
	assert.Error(t, err)
}

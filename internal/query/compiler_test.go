package query

import (
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacdex/stacdex/internal/cql2"
	apperrors "github.com/stacdex/stacdex/internal/errors"
)

const testLoadID = "2024-01-01T00.00.00.000000Z-0123456789abcdef0123456789abcdef"

func TestCompileDefaults(t *testing.T) {
	qi, err := Compile(SearchRequest{}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT id, collection_id, stac_location, applied_fixes FROM src:items:src ORDER BY "collection_id" ASC, "id" ASC`,
		qi.SQL)
	assert.Empty(t, qi.Params)
	assert.Equal(t, DefaultLimit, qi.Limit)
	assert.Equal(t, 0, qi.Offset)
	assert.Equal(t, testLoadID, qi.LoadID)
}

func TestCompileLimitCap(t *testing.T) {
	_, err := Compile(SearchRequest{Limit: MaxLimit + 1}, testFields(), testLoadID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidQueryParameter))

	qi, err := Compile(SearchRequest{Limit: MaxLimit}, testFields(), testLoadID)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, qi.Limit)
}

func TestCompileIDsAndCollections(t *testing.T) {
	qi, err := Compile(SearchRequest{
		IDs:         []string{"i1", "i2"},
		Collections: []string{"sentinel"},
	}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Contains(t, qi.SQL, `"id" IN (?, ?)`)
	assert.Contains(t, qi.SQL, `"collection_id" IN (?)`)
	assert.Equal(t, []interface{}{"i1", "i2", "sentinel"}, qi.Params)
}

func TestCompileBBox(t *testing.T) {
	qi, err := Compile(SearchRequest{BBox: []float64{0, 0, 10, 10}}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Contains(t, qi.SQL, `ST_Intersects(ST_GeomFromWKB("geometry"), ST_GeomFromText(?))`)
	require.Len(t, qi.Params, 1)
	assert.Contains(t, qi.Params[0].(string), "POLYGON")
}

func TestCompileIntersects(t *testing.T) {
	qi, err := Compile(SearchRequest{Intersects: orb.Point{5, 52}}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Contains(t, qi.SQL, `ST_Intersects(ST_GeomFromWKB("geometry"), ST_GeomFromHEXWKB(?))`)
	require.Len(t, qi.Params, 1)
	// Hex-encoded WKB survives a JSON round trip unchanged.
	_, isString := qi.Params[0].(string)
	assert.True(t, isString)
}

func TestCompileBBoxIntersectsExclusive(t *testing.T) {
	_, err := Compile(SearchRequest{
		BBox:       []float64{0, 0, 1, 1},
		Intersects: orb.Point{0, 0},
	}, testFields(), testLoadID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidQueryParameter))
}

func TestCompileDatetimeInstant(t *testing.T) {
	qi, err := Compile(SearchRequest{Datetime: "2023-06-01T00:00:00Z"}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Contains(t, qi.SQL,
		`(CASE WHEN "datetime" IS NOT NULL THEN "datetime" >= CAST(? AS TIMESTAMPTZ) AND "datetime" <= CAST(? AS TIMESTAMPTZ) ELSE "start_datetime" <= CAST(? AS TIMESTAMPTZ) AND "end_datetime" >= CAST(? AS TIMESTAMPTZ) END)`)
	assert.Equal(t, []interface{}{
		"2023-06-01T00:00:00Z", "2023-06-01T00:00:00Z",
		"2023-06-01T00:00:00Z", "2023-06-01T00:00:00Z",
	}, qi.Params)
}

func TestCompileDatetimeOpenStart(t *testing.T) {
	qi, err := Compile(SearchRequest{Datetime: "../2023-06-01T00:00:00Z"}, testFields(), testLoadID)
	require.NoError(t, err)

	// Only the end-bounded conditions remain.
	assert.Contains(t, qi.SQL,
		`(CASE WHEN "datetime" IS NOT NULL THEN "datetime" <= CAST(? AS TIMESTAMPTZ) ELSE "start_datetime" <= CAST(? AS TIMESTAMPTZ) END)`)
	assert.Equal(t, []interface{}{"2023-06-01T00:00:00Z", "2023-06-01T00:00:00Z"}, qi.Params)
}

func TestCompileDatetimeFullyOpen(t *testing.T) {
	qi, err := Compile(SearchRequest{Datetime: "../.."}, testFields(), testLoadID)
	require.NoError(t, err)

	// Matches every item: no WHERE clause, no parameters.
	assert.NotContains(t, qi.SQL, "WHERE")
	assert.Empty(t, qi.Params)
}

func TestCompileSortBy(t *testing.T) {
	qi, err := Compile(SearchRequest{
		SortBy: []SortField{{Field: "cloud_cover", Desc: true}},
	}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(qi.SQL,
		`ORDER BY "i_properties_eo_cloud_cover" DESC, "collection_id" ASC, "id" ASC`), qi.SQL)
}

func TestCompileSortByUnknownField(t *testing.T) {
	_, err := Compile(SearchRequest{
		SortBy: []SortField{{Field: "no_such_sortable"}},
	}, testFields(), testLoadID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownField))
}

func TestCompileWithFilter(t *testing.T) {
	filter, err := cql2.ParseText("cloud_cover < 10")
	require.NoError(t, err)

	qi, err := Compile(SearchRequest{
		Collections: []string{"sentinel"},
		Filter:      filter,
	}, testFields(), testLoadID)
	require.NoError(t, err)

	assert.Contains(t, qi.SQL, `"collection_id" IN (?) AND ("i_properties_eo_cloud_cover" < CAST(? AS DOUBLE))`)
	assert.Equal(t, []interface{}{"sentinel", 10.0}, qi.Params)
}

func TestCompileNoLimitInSQL(t *testing.T) {
	qi, err := Compile(SearchRequest{Limit: 50}, testFields(), testLoadID)
	require.NoError(t, err)
	assert.NotContains(t, qi.SQL, "LIMIT")
	assert.NotContains(t, qi.SQL, "OFFSET")
}

func TestParseDatetimeInterval(t *testing.T) {
	instant := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	start, end, err := ParseDatetimeInterval("2023-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, instant, *start)
	assert.Equal(t, instant, *end)

	start, end, err = ParseDatetimeInterval("2023-01-01T00:00:00Z/2023-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, start.Before(*end))

	start, end, err = ParseDatetimeInterval("../2023-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Nil(t, start)
	assert.Equal(t, instant, *end)

	start, end, err = ParseDatetimeInterval("2023-06-01T00:00:00Z/..")
	require.NoError(t, err)
	assert.Equal(t, instant, *start)
	assert.Nil(t, end)

	// A fully open interval is valid and constrains nothing.
	start, end, err = ParseDatetimeInterval("../..")
	require.NoError(t, err)
	assert.Nil(t, start)
	assert.Nil(t, end)

	for _, bad := range []string{
		"not-a-time",
		"2023-06-01T00:00:00Z/2023-01-01T00:00:00Z",
		"a/b/c",
		"..",
	} {
		_, _, err := ParseDatetimeInterval(bad)
		require.Error(t, err, "input %q", bad)
		assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidQueryParameter), "input %q", bad)
	}
}

func TestQueryInfoPaging(t *testing.T) {
	qi := QueryInfo{Limit: 10, Offset: 0}

	next := qi.NextPage()
	assert.Equal(t, 10, next.Offset)

	_, ok := qi.PreviousPage()
	assert.False(t, ok)

	prev, ok := next.PreviousPage()
	assert.True(t, ok)
	assert.Equal(t, 0, prev.Offset)

	// A token minted against an older page size clamps at zero.
	odd := QueryInfo{Limit: 10, Offset: 5}
	prev, ok = odd.PreviousPage()
	assert.True(t, ok)
	assert.Equal(t, 0, prev.Offset)
}

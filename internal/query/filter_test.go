package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacdex/stacdex/internal/cql2"
	apperrors "github.com/stacdex/stacdex/internal/errors"
)

func testFields() *Fields {
	return NewFields([]Queryable{
		{Name: "cloud_cover", CollectionID: "*", Column: "i_properties_eo_cloud_cover", ColumnType: "DOUBLE"},
		{Name: "platform", CollectionID: "*", Column: "i_properties_platform", ColumnType: "VARCHAR"},
		{Name: "datetime", CollectionID: "*", Column: "datetime", ColumnType: "TIMESTAMPTZ", IsTemporal: true},
		{Name: "geometry", CollectionID: "*", Column: "geometry", ColumnType: "GEOMETRY", IsGeometry: true},
		{Name: "special", CollectionID: "sentinel", Column: "i_special", ColumnType: "DOUBLE"},
	}, []Sortable{
		{Name: "cloud_cover", CollectionID: "*", Column: "i_properties_eo_cloud_cover"},
		{Name: "datetime", CollectionID: "*", Column: "datetime"},
	}, nil)
}

func compile(t *testing.T, filter string) (string, []interface{}) {
	t.Helper()
	expr, err := cql2.ParseText(filter)
	require.NoError(t, err)
	sql, params, err := CompileFilter(expr, testFields())
	require.NoError(t, err)
	return sql, params
}

func compileErr(t *testing.T, filter string) error {
	t.Helper()
	expr, err := cql2.ParseText(filter)
	require.NoError(t, err)
	_, _, err = CompileFilter(expr, testFields())
	require.Error(t, err)
	return err
}

func TestCompileComparison(t *testing.T) {
	sql, params := compile(t, "cloud_cover <= 10")
	assert.Equal(t, `("i_properties_eo_cloud_cover" <= CAST(? AS DOUBLE))`, sql)
	assert.Equal(t, []interface{}{10.0}, params)
}

func TestCompileLogical(t *testing.T) {
	sql, params := compile(t, "cloud_cover <= 10 AND platform = 'landsat-8'")
	assert.Equal(t,
		`(("i_properties_eo_cloud_cover" <= CAST(? AS DOUBLE)) AND ("i_properties_platform" = CAST(? AS VARCHAR)))`,
		sql)
	assert.Equal(t, []interface{}{10.0, "landsat-8"}, params)
}

func TestCompileBetweenAndIn(t *testing.T) {
	sql, params := compile(t, "cloud_cover BETWEEN 5 AND 30")
	assert.Equal(t,
		`("i_properties_eo_cloud_cover" BETWEEN CAST(? AS DOUBLE) AND CAST(? AS DOUBLE))`, sql)
	assert.Equal(t, []interface{}{5.0, 30.0}, params)

	sql, params = compile(t, "platform NOT IN ('a', 'b')")
	assert.Equal(t,
		`("i_properties_platform" NOT IN (CAST(? AS VARCHAR), CAST(? AS VARCHAR)))`, sql)
	assert.Equal(t, []interface{}{"a", "b"}, params)
}

func TestCompileLikeTranslatesWildcards(t *testing.T) {
	sql, params := compile(t, "platform LIKE 'sent*_?2'")
	assert.Equal(t, `("i_properties_platform" LIKE CAST(? AS VARCHAR) ESCAPE '\')`, sql)
	// * -> %, literal _ escaped, ? -> _.
	assert.Equal(t, []interface{}{`sent%\__2`}, params)
}

func TestCompileIsNull(t *testing.T) {
	sql, _ := compile(t, "cloud_cover IS NULL")
	assert.Equal(t, `("i_properties_eo_cloud_cover" IS NULL)`, sql)
}

func TestCompileSpatial(t *testing.T) {
	sql, params := compile(t, "S_INTERSECTS(geometry, BBOX(0, 0, 10, 10))")
	assert.Equal(t, `ST_Intersects(ST_GeomFromWKB("geometry"), ST_GeomFromText(?))`, sql)
	require.Len(t, params, 1)
	assert.Contains(t, params[0].(string), "POLYGON")

	sql, params = compile(t, "S_WITHIN(geometry, POINT(1 2))")
	assert.Equal(t, `ST_Within(ST_GeomFromWKB("geometry"), ST_GeomFromHEXWKB(?))`, sql)
	require.Len(t, params, 1)
}

func TestCompileSpatialRejectsNonGeometryField(t *testing.T) {
	err := compileErr(t, "S_INTERSECTS(cloud_cover, BBOX(0, 0, 1, 1))")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotAGeometryField))
}

func TestCompileTemporal(t *testing.T) {
	sql, params := compile(t, "T_BEFORE(datetime, TIMESTAMP('2023-06-01T00:00:00Z'))")
	assert.Equal(t, `("datetime" < CAST(? AS TIMESTAMPTZ))`, sql)
	assert.Equal(t, []interface{}{"2023-06-01T00:00:00Z"}, params)

	sql, params = compile(t, "T_OVERLAPS(datetime, INTERVAL('2023-01-01', '2023-12-31'))")
	assert.Equal(t, `("datetime" >= CAST(? AS TIMESTAMPTZ) AND "datetime" <= CAST(? AS TIMESTAMPTZ))`, sql)
	assert.Len(t, params, 2)
}

func TestCompileTemporalRejectsNonTemporalField(t *testing.T) {
	err := compileErr(t, "T_BEFORE(platform, TIMESTAMP('2023-06-01T00:00:00Z'))")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotATemporalField))
}

func TestCompileTemporalOpenEndpoint(t *testing.T) {
	// BEFORE against an interval with an open start has no boundary.
	err := compileErr(t, "T_BEFORE(datetime, INTERVAL('..', '2023-12-31'))")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidQueryParameter))
}

func TestCompileUnknownField(t *testing.T) {
	err := compileErr(t, "no_such_field = 1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownField))
}

func TestCompileUnknownFunction(t *testing.T) {
	err := compileErr(t, "frobnicate(platform) = 'x'")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownFunction))
}

func TestCompileAllowedFunction(t *testing.T) {
	sql, params := compile(t, "lower(platform) = 'landsat-8'")
	assert.Equal(t, `(lower("i_properties_platform") = ?)`, sql)
	assert.Equal(t, []interface{}{"landsat-8"}, params)
}

func TestFieldsCollectionScoping(t *testing.T) {
	fields := NewFields([]Queryable{
		{Name: "special", CollectionID: "sentinel", Column: "i_special", ColumnType: "DOUBLE"},
	}, nil, []string{"landsat"})

	_, err := fields.Queryable("special")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownField))

	fields = NewFields([]Queryable{
		{Name: "special", CollectionID: "sentinel", Column: "i_special", ColumnType: "DOUBLE"},
	}, nil, []string{"sentinel"})
	q, err := fields.Queryable("special")
	require.NoError(t, err)
	assert.Equal(t, "i_special", q.Column)
}

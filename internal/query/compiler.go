package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/stacdex/stacdex/internal/cql2"
	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/stac"
)

const (
	// DefaultLimit is the page size when a search does not set one.
	DefaultLimit = 10
	// MaxLimit caps the page size of a single search.
	MaxLimit = 10000

	// ItemsTable is the table placeholder the executor substitutes with
	// the snapshot's items Parquet location.
	ItemsTable = "src:items:src"
)

// SortField is one entry of a sortby clause.
type SortField struct {
	Field string
	Desc  bool
}

// SearchRequest is a decoded item search. Exactly one of BBox or Intersects
// may be set.
type SearchRequest struct {
	IDs         []string
	Collections []string
	BBox        []float64
	Intersects  orb.Geometry
	Datetime    string
	Filter      cql2.Expr
	SortBy      []SortField
	Limit       int
}

// itemColumns are the columns a search selects; the runtime resolves the
// item bodies from stac_location.
var itemColumns = []string{"id", "collection_id", "stac_location", "applied_fixes"}

// Compile turns a search request into a QueryInfo bound to loadID. The
// produced SQL has no LIMIT clause; paging is applied at execution time.
func Compile(req SearchRequest, fields *Fields, loadID string) (QueryInfo, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return QueryInfo{}, apperrors.Newf(apperrors.KindInvalidQueryParameter,
			"limit %d exceeds maximum %d", req.Limit, MaxLimit)
	}
	if req.BBox != nil && req.Intersects != nil {
		return QueryInfo{}, apperrors.New(apperrors.KindInvalidQueryParameter,
			"bbox and intersects are mutually exclusive")
	}

	var (
		clauses []string
		params  []interface{}
	)
	addClause := func(sql string, p ...interface{}) {
		clauses = append(clauses, sql)
		params = append(params, p...)
	}

	if len(req.IDs) > 0 {
		addClause(inClause("id", len(req.IDs)), stringParams(req.IDs)...)
	}
	if len(req.Collections) > 0 {
		addClause(inClause("collection_id", len(req.Collections)), stringParams(req.Collections)...)
	}

	if req.BBox != nil {
		poly, err := stac.BBoxPolygon(req.BBox)
		if err != nil {
			return QueryInfo{}, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "invalid bbox", err)
		}
		addClause(`ST_Intersects(ST_GeomFromWKB("geometry"), ST_GeomFromText(?))`, stac.EncodeWKT(poly))
	}
	if req.Intersects != nil {
		hexWKB, err := stac.EncodeHexWKB(req.Intersects)
		if err != nil {
			return QueryInfo{}, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "invalid intersects geometry", err)
		}
		addClause(`ST_Intersects(ST_GeomFromWKB("geometry"), ST_GeomFromHEXWKB(?))`, hexWKB)
	}

	if req.Datetime != "" {
		sql, p, err := datetimeClause(req.Datetime)
		if err != nil {
			return QueryInfo{}, err
		}
		if sql != "" {
			addClause(sql, p...)
		}
	}

	if req.Filter != nil {
		sql, p, err := CompileFilter(req.Filter, fields)
		if err != nil {
			return QueryInfo{}, err
		}
		addClause(sql, p...)
	}

	orderBy, err := orderClause(req.SortBy, fields)
	if err != nil {
		return QueryInfo{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(itemColumns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(ItemsTable)
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)

	return QueryInfo{
		SQL:    sb.String(),
		Params: params,
		Limit:  limit,
		Offset: 0,
		LoadID: loadID,
	}, nil
}

func inClause(column string, n int) string {
	return quoteIdent(column) + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func stringParams(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// orderClause renders the ORDER BY list: the requested sortables, then the
// (collection_id, id) tiebreak for a stable paging order.
func orderClause(sortBy []SortField, fields *Fields) (string, error) {
	var parts []string
	seen := map[string]bool{}
	for _, sf := range sortBy {
		s, err := fields.Sortable(sf.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if sf.Desc {
			dir = "DESC"
		}
		parts = append(parts, quoteIdent(s.Column)+" "+dir)
		seen[s.Column] = true
	}
	for _, tiebreak := range []string{"collection_id", "id"} {
		if !seen[tiebreak] {
			parts = append(parts, quoteIdent(tiebreak)+" ASC")
		}
	}
	return strings.Join(parts, ", "), nil
}

// ParseDatetimeInterval parses a STAC datetime parameter: an instant, or an
// interval "start/end" where either endpoint may be open (".."). A fully
// open interval is valid and returns nil for both endpoints; it constrains
// nothing.
func ParseDatetimeInterval(value string) (*time.Time, *time.Time, error) {
	badInterval := func() error {
		return apperrors.Newf(apperrors.KindInvalidQueryParameter, "invalid datetime %q", value)
	}
	parse := func(s string) (*time.Time, error) {
		if s == ".." || s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, badInterval()
		}
		t = t.UTC()
		return &t, nil
	}

	parts := strings.Split(value, "/")
	switch len(parts) {
	case 1:
		t, err := parse(parts[0])
		if err != nil {
			return nil, nil, err
		}
		if t == nil {
			return nil, nil, badInterval()
		}
		return t, t, nil
	case 2:
		start, err := parse(parts[0])
		if err != nil {
			return nil, nil, err
		}
		end, err := parse(parts[1])
		if err != nil {
			return nil, nil, err
		}
		if start != nil && end != nil && end.Before(*start) {
			return nil, nil, badInterval()
		}
		return start, end, nil
	}
	return nil, nil, badInterval()
}

// datetimeClause matches instant items by their datetime and ranged items by
// interval overlap. A fully open interval yields no clause at all.
func datetimeClause(value string) (string, []interface{}, error) {
	start, end, err := ParseDatetimeInterval(value)
	if err != nil {
		return "", nil, err
	}
	if start == nil && end == nil {
		return "", nil, nil
	}

	var (
		instantConds []string
		rangeConds   []string
		params       []interface{}
	)
	// Params are ordered instant-branch first.
	if start != nil {
		instantConds = append(instantConds, `"datetime" >= CAST(? AS TIMESTAMPTZ)`)
	}
	if end != nil {
		instantConds = append(instantConds, `"datetime" <= CAST(? AS TIMESTAMPTZ)`)
	}
	if end != nil {
		rangeConds = append(rangeConds, `"start_datetime" <= CAST(? AS TIMESTAMPTZ)`)
	}
	if start != nil {
		rangeConds = append(rangeConds, `"end_datetime" >= CAST(? AS TIMESTAMPTZ)`)
	}

	if start != nil {
		params = append(params, start.Format(time.RFC3339Nano))
	}
	if end != nil {
		params = append(params, end.Format(time.RFC3339Nano))
	}
	if end != nil {
		params = append(params, end.Format(time.RFC3339Nano))
	}
	if start != nil {
		params = append(params, start.Format(time.RFC3339Nano))
	}

	sql := fmt.Sprintf(
		`(CASE WHEN "datetime" IS NOT NULL THEN %s ELSE %s END)`,
		strings.Join(instantConds, " AND "),
		strings.Join(rangeConds, " AND "),
	)
	return sql, params, nil
}

package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/stacdex/stacdex/internal/cql2"
	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/stac"
)

// allowedFunctions is the function allow-list for filter expressions. Names
// are matched case-insensitively and rendered as the mapped SQL function.
var allowedFunctions = map[string]string{
	"lower": "lower",
	"upper": "upper",
	"abs":   "abs",
	"ceil":  "ceil",
	"floor": "floor",
}

// spatialFunctions maps spatial operators to their SQL functions.
var spatialFunctions = map[string]string{
	cql2.SpatialIntersects: "ST_Intersects",
	cql2.SpatialDisjoint:   "ST_Disjoint",
	cql2.SpatialContains:   "ST_Contains",
	cql2.SpatialWithin:     "ST_Within",
	cql2.SpatialTouches:    "ST_Touches",
	cql2.SpatialCrosses:    "ST_Crosses",
	cql2.SpatialOverlaps:   "ST_Overlaps",
	cql2.SpatialEquals:     "ST_Equals",
}

// CompileFilter compiles a filter AST into a SQL boolean expression with
// positional parameters.
func CompileFilter(expr cql2.Expr, fields *Fields) (string, []interface{}, error) {
	c := &filterCompiler{fields: fields}
	sql, err := c.compileBool(expr)
	if err != nil {
		return "", nil, err
	}
	return sql, c.params, nil
}

type filterCompiler struct {
	fields *Fields
	params []interface{}
}

func (c *filterCompiler) placeholder(value interface{}, castType string) string {
	c.params = append(c.params, value)
	if castType != "" {
		return "CAST(? AS " + castType + ")"
	}
	return "?"
}

func (c *filterCompiler) compileBool(expr cql2.Expr) (string, error) {
	switch e := expr.(type) {
	case *cql2.LogicalExpr:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := c.compileBool(a)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, " "+e.Op+" ") + ")", nil

	case *cql2.NotExpr:
		s, err := c.compileBool(e.Arg)
		if err != nil {
			return "", err
		}
		return "(NOT " + s + ")", nil

	case *cql2.ComparisonExpr:
		return c.compileComparison(e)

	case *cql2.BetweenExpr:
		return c.compileBetween(e)

	case *cql2.LikeExpr:
		return c.compileLike(e)

	case *cql2.InExpr:
		return c.compileIn(e)

	case *cql2.IsNullExpr:
		s, err := c.compileScalar(e.Arg, "")
		if err != nil {
			return "", err
		}
		if e.Not {
			return "(" + s + " IS NOT NULL)", nil
		}
		return "(" + s + " IS NULL)", nil

	case *cql2.SpatialExpr:
		return c.compileSpatial(e)

	case *cql2.TemporalExpr:
		return c.compileTemporal(e)
	}

	return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
		"filter: %s is not a boolean expression", expr.String())
}

func (c *filterCompiler) compileComparison(e *cql2.ComparisonExpr) (string, error) {
	leftCast, err := c.peerCast(e.Right)
	if err != nil {
		return "", err
	}
	rightCast, err := c.peerCast(e.Left)
	if err != nil {
		return "", err
	}
	left, err := c.compileScalar(e.Left, leftCast)
	if err != nil {
		return "", err
	}
	right, err := c.compileScalar(e.Right, rightCast)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil
}

func (c *filterCompiler) compileBetween(e *cql2.BetweenExpr) (string, error) {
	cast, err := c.peerCast(e.Arg)
	if err != nil {
		return "", err
	}
	arg, err := c.compileScalar(e.Arg, "")
	if err != nil {
		return "", err
	}
	low, err := c.compileScalar(e.Low, cast)
	if err != nil {
		return "", err
	}
	high, err := c.compileScalar(e.High, cast)
	if err != nil {
		return "", err
	}
	op := "BETWEEN"
	if e.Not {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("(%s %s %s AND %s)", arg, op, low, high), nil
}

func (c *filterCompiler) compileLike(e *cql2.LikeExpr) (string, error) {
	arg, err := c.compileScalar(e.Arg, "")
	if err != nil {
		return "", err
	}
	op := "LIKE"
	if e.Not {
		op = "NOT LIKE"
	}
	pattern := c.placeholder(translateLikePattern(e.Pattern), "VARCHAR")
	return fmt.Sprintf("(%s %s %s ESCAPE '\\')", arg, op, pattern), nil
}

func (c *filterCompiler) compileIn(e *cql2.InExpr) (string, error) {
	cast, err := c.peerCast(e.Arg)
	if err != nil {
		return "", err
	}
	arg, err := c.compileScalar(e.Arg, "")
	if err != nil {
		return "", err
	}
	values := make([]string, len(e.Values))
	for i, v := range e.Values {
		s, err := c.compileScalar(v, cast)
		if err != nil {
			return "", err
		}
		values[i] = s
	}
	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("(%s %s (%s))", arg, op, strings.Join(values, ", ")), nil
}

func (c *filterCompiler) compileSpatial(e *cql2.SpatialExpr) (string, error) {
	fn := spatialFunctions[e.Op]
	left, err := c.compileGeometry(e.Left)
	if err != nil {
		return "", err
	}
	right, err := c.compileGeometry(e.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s, %s)", fn, left, right), nil
}

// compileGeometry renders a geometry-valued operand. Stored geometry is WKB
// in the Parquet files, so column references are rewrapped.
func (c *filterCompiler) compileGeometry(expr cql2.Expr) (string, error) {
	switch e := expr.(type) {
	case *cql2.PropertyRef:
		q, err := c.fields.Queryable(e.Name)
		if err != nil {
			return "", err
		}
		if !q.IsGeometry {
			return "", apperrors.Newf(apperrors.KindNotAGeometryField,
				"field %q is not a geometry field", e.Name)
		}
		return "ST_GeomFromWKB(" + quoteIdent(q.Column) + ")", nil

	case *cql2.GeometryLiteral:
		hexWKB, err := stac.EncodeHexWKB(e.Geometry)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindInvalidQueryParameter, "filter: invalid geometry", err)
		}
		return "ST_GeomFromHEXWKB(" + c.placeholder(hexWKB, "") + ")", nil

	case *cql2.BBoxLiteral:
		poly, err := stac.BBoxPolygon(e.Values)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindInvalidQueryParameter, "filter: invalid bbox", err)
		}
		return "ST_GeomFromText(" + c.placeholder(stac.EncodeWKT(poly), "") + ")", nil
	}

	return "", apperrors.Newf(apperrors.KindNotAGeometryField,
		"%s is not a geometry", expr.String())
}

func (c *filterCompiler) compileTemporal(e *cql2.TemporalExpr) (string, error) {
	prop, ok := e.Left.(*cql2.PropertyRef)
	if !ok {
		return "", apperrors.Newf(apperrors.KindNotATemporalField,
			"%s is not a temporal field", e.Left.String())
	}
	q, err := c.fields.Queryable(prop.Name)
	if err != nil {
		return "", err
	}
	if !q.IsTemporal {
		return "", apperrors.Newf(apperrors.KindNotATemporalField,
			"field %q is not a temporal field", prop.Name)
	}
	col := quoteIdent(q.Column)

	var start, end *time.Time
	switch r := e.Right.(type) {
	case *cql2.TimestampLiteral:
		t := r.Value
		start, end = &t, &t
	case *cql2.IntervalLiteral:
		start, end = r.Start, r.End
	default:
		return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
			"filter: T_%s requires a timestamp or interval, got %s", e.Op, e.Right.String())
	}

	instant := func(t *time.Time, endpoint string) (string, error) {
		if t == nil {
			return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
				"filter: T_%s requires a closed %s endpoint", e.Op, endpoint)
		}
		return c.placeholder(t.UTC().Format(time.RFC3339Nano), "TIMESTAMPTZ"), nil
	}

	switch e.Op {
	case cql2.TemporalBefore:
		s, err := instant(start, "start")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s < %s)", col, s), nil
	case cql2.TemporalAfter:
		s, err := instant(end, "end")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s > %s)", col, s), nil
	case cql2.TemporalMeets:
		s, err := instant(start, "start")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s = %s)", col, s), nil
	case cql2.TemporalMetBy:
		s, err := instant(end, "end")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s = %s)", col, s), nil
	case cql2.TemporalOverlaps:
		var parts []string
		if start != nil {
			s, _ := instant(start, "start")
			parts = append(parts, fmt.Sprintf("%s >= %s", col, s))
		}
		if end != nil {
			s, _ := instant(end, "end")
			parts = append(parts, fmt.Sprintf("%s <= %s", col, s))
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case cql2.TemporalEquals:
		if start == nil || end == nil || !start.Equal(*end) {
			return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
				"filter: T_EQUALS requires an instant")
		}
		s, _ := instant(start, "start")
		return fmt.Sprintf("(%s = %s)", col, s), nil
	}

	return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
		"filter: unsupported temporal operator T_%s", e.Op)
}

// compileScalar renders a non-boolean operand. Literal placeholders are cast
// to castType when the paired operand is a typed column.
func (c *filterCompiler) compileScalar(expr cql2.Expr, castType string) (string, error) {
	switch e := expr.(type) {
	case *cql2.PropertyRef:
		q, err := c.fields.Queryable(e.Name)
		if err != nil {
			return "", err
		}
		if q.IsGeometry {
			return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
				"filter: geometry field %q is only valid in spatial predicates", e.Name)
		}
		return quoteIdent(q.Column), nil

	case *cql2.Literal:
		if e.Value == nil {
			return "NULL", nil
		}
		return c.placeholder(e.Value, castType), nil

	case *cql2.TimestampLiteral:
		return c.placeholder(e.Value.UTC().Format(time.RFC3339Nano), "TIMESTAMPTZ"), nil

	case *cql2.ArithmeticExpr:
		left, err := c.compileScalar(e.Left, "")
		if err != nil {
			return "", err
		}
		right, err := c.compileScalar(e.Right, "")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, e.Op, right), nil

	case *cql2.FunctionExpr:
		fn, ok := allowedFunctions[strings.ToLower(e.Name)]
		if !ok {
			return "", apperrors.NewUnknownFunction(e.Name)
		}
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := c.compileScalar(a, "")
			if err != nil {
				return "", err
			}
			args[i] = s
		}
		return fn + "(" + strings.Join(args, ", ") + ")", nil
	}

	return "", apperrors.Newf(apperrors.KindInvalidQueryParameter,
		"filter: %s is not valid here", expr.String())
}

// peerCast returns the cast type literals paired with expr should take: the
// column type when expr is a typed column reference, empty otherwise.
func (c *filterCompiler) peerCast(expr cql2.Expr) (string, error) {
	prop, ok := expr.(*cql2.PropertyRef)
	if !ok {
		return "", nil
	}
	q, err := c.fields.Queryable(prop.Name)
	if err != nil {
		return "", err
	}
	return q.ColumnType, nil
}

// translateLikePattern converts CQL2 wildcards to SQL LIKE wildcards,
// escaping any literal SQL wildcard characters.
func translateLikePattern(pattern string) string {
	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		case '%', '_':
			sb.WriteByte('\\')
			sb.WriteByte(pattern[i])
		case '\\':
			if i+1 < len(pattern) {
				// A backslash escapes the following wildcard.
				i++
				switch pattern[i] {
				case '*', '?':
					sb.WriteByte(pattern[i])
				default:
					sb.WriteString("\\\\")
					sb.WriteByte(pattern[i])
				}
			} else {
				sb.WriteString("\\\\")
			}
		default:
			sb.WriteByte(pattern[i])
		}
	}
	return sb.String()
}

// quoteIdent double-quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

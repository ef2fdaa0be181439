// Package cql2 parses OGC CQL2 filter expressions (text and JSON forms)
// into a single AST consumed by the query compiler.
package cql2

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Expr is a node in the CQL2 AST.
type Expr interface {
	exprNode()
	String() string
}

// LogicalExpr is an AND/OR over two or more arguments.
type LogicalExpr struct {
	Op   string // "AND" or "OR"
	Args []Expr
}

func (e *LogicalExpr) exprNode() {}

func (e *LogicalExpr) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, " "+e.Op+" ") + ")"
}

// NotExpr negates its argument.
type NotExpr struct {
	Arg Expr
}

func (e *NotExpr) exprNode() {}

func (e *NotExpr) String() string {
	return "NOT " + e.Arg.String()
}

// ComparisonExpr is a binary comparison: =, <>, <, <=, >, >=.
type ComparisonExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *ComparisonExpr) exprNode() {}

func (e *ComparisonExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Op, e.Right.String())
}

// ArithmeticExpr is a binary arithmetic operation: +, -, *, /.
type ArithmeticExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *ArithmeticExpr) exprNode() {}

func (e *ArithmeticExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Op, e.Right.String())
}

// BetweenExpr is a BETWEEN range test.
type BetweenExpr struct {
	Arg  Expr
	Low  Expr
	High Expr
	Not  bool
}

func (e *BetweenExpr) exprNode() {}

func (e *BetweenExpr) String() string {
	if e.Not {
		return fmt.Sprintf("%s NOT BETWEEN %s AND %s", e.Arg.String(), e.Low.String(), e.High.String())
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", e.Arg.String(), e.Low.String(), e.High.String())
}

// LikeExpr is a LIKE pattern test. Pattern wildcards use the CQL "%"/"_"
// forms after normalisation.
type LikeExpr struct {
	Arg     Expr
	Pattern string
	Not     bool
}

func (e *LikeExpr) exprNode() {}

func (e *LikeExpr) String() string {
	if e.Not {
		return fmt.Sprintf("%s NOT LIKE '%s'", e.Arg.String(), e.Pattern)
	}
	return fmt.Sprintf("%s LIKE '%s'", e.Arg.String(), e.Pattern)
}

// InExpr is a membership test.
type InExpr struct {
	Arg    Expr
	Values []Expr
	Not    bool
}

func (e *InExpr) exprNode() {}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = v.String()
	}
	if e.Not {
		return fmt.Sprintf("%s NOT IN (%s)", e.Arg.String(), strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s IN (%s)", e.Arg.String(), strings.Join(parts, ", "))
}

// IsNullExpr is an IS NULL test.
type IsNullExpr struct {
	Arg Expr
	Not bool
}

func (e *IsNullExpr) exprNode() {}

func (e *IsNullExpr) String() string {
	if e.Not {
		return e.Arg.String() + " IS NOT NULL"
	}
	return e.Arg.String() + " IS NULL"
}

// Spatial predicate operators.
const (
	SpatialIntersects = "INTERSECTS"
	SpatialDisjoint   = "DISJOINT"
	SpatialContains   = "CONTAINS"
	SpatialWithin     = "WITHIN"
	SpatialTouches    = "TOUCHES"
	SpatialCrosses    = "CROSSES"
	SpatialOverlaps   = "OVERLAPS"
	SpatialEquals     = "EQUALS"
)

// SpatialExpr is a spatial predicate over two geometry-valued arguments.
type SpatialExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *SpatialExpr) exprNode() {}

func (e *SpatialExpr) String() string {
	return fmt.Sprintf("S_%s(%s, %s)", e.Op, e.Left.String(), e.Right.String())
}

// Temporal predicate operators.
const (
	TemporalBefore   = "BEFORE"
	TemporalAfter    = "AFTER"
	TemporalMeets    = "MEETS"
	TemporalMetBy    = "METBY"
	TemporalOverlaps = "OVERLAPS"
	TemporalEquals   = "EQUALS"
)

// TemporalExpr is a temporal predicate over a temporal column and a
// timestamp or interval literal.
type TemporalExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (e *TemporalExpr) exprNode() {}

func (e *TemporalExpr) String() string {
	return fmt.Sprintf("T_%s(%s, %s)", e.Op, e.Left.String(), e.Right.String())
}

// FunctionExpr is a function call, resolved against an allow-list at
// compile time.
type FunctionExpr struct {
	Name string
	Args []Expr
}

func (e *FunctionExpr) exprNode() {}

func (e *FunctionExpr) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(parts, ", "))
}

// PropertyRef references a queryable by name.
type PropertyRef struct {
	Name string
}

func (e *PropertyRef) exprNode() {}

func (e *PropertyRef) String() string {
	return e.Name
}

// Literal is a scalar literal: string, float64, or bool.
type Literal struct {
	Value interface{}
}

func (e *Literal) exprNode() {}

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// TimestampLiteral is an instant literal.
type TimestampLiteral struct {
	Value time.Time
}

func (e *TimestampLiteral) exprNode() {}

func (e *TimestampLiteral) String() string {
	return "TIMESTAMP('" + e.Value.Format(time.RFC3339) + "')"
}

// IntervalLiteral is an interval literal; a nil endpoint is open.
type IntervalLiteral struct {
	Start *time.Time
	End   *time.Time
}

func (e *IntervalLiteral) exprNode() {}

func (e *IntervalLiteral) String() string {
	format := func(t *time.Time) string {
		if t == nil {
			return ".."
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("INTERVAL('%s', '%s')", format(e.Start), format(e.End))
}

// BBoxLiteral is a bbox literal with 4 or 6 values.
type BBoxLiteral struct {
	Values []float64
}

func (e *BBoxLiteral) exprNode() {}

func (e *BBoxLiteral) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "BBOX(" + strings.Join(parts, ", ") + ")"
}

// GeometryLiteral is a geometry literal.
type GeometryLiteral struct {
	Geometry orb.Geometry
}

func (e *GeometryLiteral) exprNode() {}

func (e *GeometryLiteral) String() string {
	return fmt.Sprintf("GEOMETRY(%s)", e.Geometry.GeoJSONType())
}

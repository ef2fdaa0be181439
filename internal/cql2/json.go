package cql2

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	apperrors "github.com/stacdex/stacdex/internal/errors"
)

// Filter language labels accepted by the search endpoints.
const (
	LangText       = "cql2-text"
	LangJSON       = "cql2-json"
	LangLegacyJSON = "cql-json"
)

// ParseLang parses a filter in the named language. Text filters arrive as a
// plain string, JSON filters as raw JSON.
func ParseLang(lang string, raw json.RawMessage) (Expr, error) {
	switch lang {
	case LangText:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			// A GET filter is passed through unquoted.
			text = string(raw)
		}
		return ParseText(text)
	case LangJSON:
		return ParseJSON(raw)
	case LangLegacyJSON:
		return ParseLegacyJSON(raw)
	default:
		return nil, apperrors.Newf(apperrors.KindInvalidQueryParameter, "unsupported filter language %q", lang)
	}
}

// ParseJSON parses a cql2-json expression: objects of the form
// {"op": ..., "args": [...]}.
func ParseJSON(raw json.RawMessage) (Expr, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "cql2-json: invalid JSON", err)
	}
	return decodeNode(v)
}

func jsonErrorf(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.KindInvalidQueryParameter, "cql2-json: "+format, args...)
}

func decodeNode(v interface{}) (Expr, error) {
	switch node := v.(type) {
	case map[string]interface{}:
		if op, ok := node["op"].(string); ok {
			return decodeOp(op, node["args"])
		}
		return decodeValueObject(node)
	case string, float64, bool, nil:
		return &Literal{Value: node}, nil
	}
	return nil, jsonErrorf("unexpected node %v", v)
}

// decodeValueObject decodes the non-operator object forms: property
// references, timestamp/date/interval/bbox wrappers, and raw GeoJSON.
func decodeValueObject(node map[string]interface{}) (Expr, error) {
	if name, ok := node["property"].(string); ok {
		return &PropertyRef{Name: name}, nil
	}
	if ts, ok := node["timestamp"].(string); ok {
		t, err := parseInstant(ts)
		if err != nil {
			return nil, jsonErrorf("invalid timestamp %q", ts)
		}
		return &TimestampLiteral{Value: t}, nil
	}
	if d, ok := node["date"].(string); ok {
		t, err := parseInstant(d)
		if err != nil {
			return nil, jsonErrorf("invalid date %q", d)
		}
		return &TimestampLiteral{Value: t}, nil
	}
	if iv, ok := node["interval"].([]interface{}); ok {
		return decodeInterval(iv)
	}
	if bb, ok := node["bbox"].([]interface{}); ok {
		values, err := decodeFloatList(bb)
		if err != nil {
			return nil, err
		}
		if len(values) != 4 && len(values) != 6 {
			return nil, jsonErrorf("bbox must have 4 or 6 values, got %d", len(values))
		}
		return &BBoxLiteral{Values: values}, nil
	}
	if _, ok := node["type"].(string); ok {
		return decodeGeoJSON(node)
	}
	return nil, jsonErrorf("unrecognised object %v", node)
}

func decodeGeoJSON(node map[string]interface{}) (Expr, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, jsonErrorf("invalid geometry: %v", err)
	}
	geom, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "cql2-json: invalid geometry", err)
	}
	return &GeometryLiteral{Geometry: geom.Geometry()}, nil
}

func decodeInterval(iv []interface{}) (Expr, error) {
	if len(iv) != 2 {
		return nil, jsonErrorf("interval must have 2 endpoints, got %d", len(iv))
	}
	endpoint := func(v interface{}) (*time.Time, error) {
		s, ok := v.(string)
		if !ok {
			return nil, jsonErrorf("interval endpoint must be a string")
		}
		if s == ".." {
			return nil, nil
		}
		t, err := parseInstant(s)
		if err != nil {
			return nil, jsonErrorf("invalid interval endpoint %q", s)
		}
		return &t, nil
	}
	start, err := endpoint(iv[0])
	if err != nil {
		return nil, err
	}
	end, err := endpoint(iv[1])
	if err != nil {
		return nil, err
	}
	if start == nil && end == nil {
		return nil, jsonErrorf("interval cannot be open on both ends")
	}
	return &IntervalLiteral{Start: start, End: end}, nil
}

func decodeFloatList(vs []interface{}) ([]float64, error) {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		f, ok := v.(float64)
		if !ok {
			return nil, jsonErrorf("expected number, got %v", v)
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeArgs(rawArgs interface{}) ([]Expr, error) {
	list, ok := rawArgs.([]interface{})
	if !ok {
		return nil, jsonErrorf("args must be an array")
	}
	args := make([]Expr, 0, len(list))
	for _, a := range list {
		e, err := decodeNode(a)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return args, nil
}

func requireArgs(args []Expr, n int, op string) error {
	if len(args) != n {
		return jsonErrorf("%s requires %d arguments, got %d", op, n, len(args))
	}
	return nil
}

func decodeOp(op string, rawArgs interface{}) (Expr, error) {
	lower := strings.ToLower(op)

	// IN takes its value list as a nested JSON array, which decodeArgs
	// cannot represent. Handle it before generic decoding.
	if lower == "in" || lower == "not in" {
		return decodeIn(rawArgs, strings.HasPrefix(lower, "not"))
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, err
	}

	switch lower {
	case "and", "or":
		if len(args) < 2 {
			return nil, jsonErrorf("%s requires at least 2 arguments", op)
		}
		return &LogicalExpr{Op: strings.ToUpper(lower), Args: args}, nil

	case "not":
		if err := requireArgs(args, 1, op); err != nil {
			return nil, err
		}
		return &NotExpr{Arg: args[0]}, nil

	case "=", "<>", "<", "<=", ">", ">=":
		if err := requireArgs(args, 2, op); err != nil {
			return nil, err
		}
		return &ComparisonExpr{Op: lower, Left: args[0], Right: args[1]}, nil

	case "+", "-", "*", "/":
		if err := requireArgs(args, 2, op); err != nil {
			return nil, err
		}
		return &ArithmeticExpr{Op: lower, Left: args[0], Right: args[1]}, nil

	case "between", "not between":
		if err := requireArgs(args, 3, op); err != nil {
			return nil, err
		}
		return &BetweenExpr{Arg: args[0], Low: args[1], High: args[2], Not: strings.HasPrefix(lower, "not")}, nil

	case "like", "not like":
		if err := requireArgs(args, 2, op); err != nil {
			return nil, err
		}
		pat, ok := args[1].(*Literal)
		if !ok {
			return nil, jsonErrorf("%s pattern must be a string", op)
		}
		s, ok := pat.Value.(string)
		if !ok {
			return nil, jsonErrorf("%s pattern must be a string", op)
		}
		return &LikeExpr{Arg: args[0], Pattern: s, Not: strings.HasPrefix(lower, "not")}, nil

	case "isnull", "is null":
		if err := requireArgs(args, 1, op); err != nil {
			return nil, err
		}
		return &IsNullExpr{Arg: args[0]}, nil
	}

	if spatial, ok := spatialOps[strings.ToUpper(lower)]; ok {
		if err := requireArgs(args, 2, op); err != nil {
			return nil, err
		}
		return &SpatialExpr{Op: spatial, Left: args[0], Right: args[1]}, nil
	}
	if temporal, ok := temporalOps[strings.ToUpper(lower)]; ok {
		if err := requireArgs(args, 2, op); err != nil {
			return nil, err
		}
		return &TemporalExpr{Op: temporal, Left: args[0], Right: args[1]}, nil
	}

	// Anything else is treated as a function call and resolved against the
	// allow-list at compile time.
	return &FunctionExpr{Name: lower, Args: args}, nil
}

func decodeIn(rawArgs interface{}, not bool) (Expr, error) {
	list, ok := rawArgs.([]interface{})
	if !ok || len(list) != 2 {
		return nil, jsonErrorf("in requires 2 arguments")
	}
	arg, err := decodeNode(list[0])
	if err != nil {
		return nil, err
	}
	rawValues, ok := list[1].([]interface{})
	if !ok {
		return nil, jsonErrorf("in value list must be an array")
	}
	values := make([]Expr, 0, len(rawValues))
	for _, v := range rawValues {
		e, err := decodeNode(v)
		if err != nil {
			return nil, err
		}
		values = append(values, e)
	}
	return &InExpr{Arg: arg, Values: values, Not: not}, nil
}

// ParseLegacyJSON parses the older cql-json form where the operator is the
// single key of the object, e.g. {"and": [...]}, {"eq": [...]}.
func ParseLegacyJSON(raw json.RawMessage) (Expr, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "cql-json: invalid JSON", err)
	}
	return decodeLegacyNode(v)
}

// legacyOps maps cql-json operator keys to cql2-json operator names.
var legacyOps = map[string]string{
	"and":        "and",
	"or":         "or",
	"not":        "not",
	"eq":         "=",
	"neq":        "<>",
	"lt":         "<",
	"lte":        "<=",
	"gt":         ">",
	"gte":        ">=",
	"between":    "between",
	"like":       "like",
	"in":         "in",
	"isnull":     "isnull",
	"intersects": "s_intersects",
	"disjoint":   "s_disjoint",
	"contains":   "s_contains",
	"within":     "s_within",
	"touches":    "s_touches",
	"crosses":    "s_crosses",
	"overlaps":   "s_overlaps",
	"equals":     "s_equals",
	"before":     "t_before",
	"after":      "t_after",
	"meets":      "t_meets",
	"metby":      "t_metby",
	"toverlaps":  "t_overlaps",
	"tequals":    "t_equals",
}

func decodeLegacyNode(v interface{}) (Expr, error) {
	node, ok := v.(map[string]interface{})
	if !ok {
		return nil, jsonErrorf("cql-json expression must be an object")
	}
	if len(node) != 1 {
		return nil, jsonErrorf("cql-json expression must have exactly one operator key")
	}
	for key, rawArgs := range node {
		op, ok := legacyOps[strings.ToLower(key)]
		if !ok {
			return nil, jsonErrorf("unknown cql-json operator %q", key)
		}
		switch op {
		case "and", "or":
			list, ok := rawArgs.([]interface{})
			if !ok {
				return nil, jsonErrorf("%s arguments must be an array", key)
			}
			args := make([]Expr, 0, len(list))
			for _, a := range list {
				e, err := decodeLegacyNode(a)
				if err != nil {
					return nil, err
				}
				args = append(args, e)
			}
			if len(args) < 2 {
				return nil, jsonErrorf("%s requires at least 2 arguments", key)
			}
			return &LogicalExpr{Op: strings.ToUpper(op), Args: args}, nil
		case "not":
			arg, err := decodeLegacyNode(rawArgs)
			if err != nil {
				return nil, err
			}
			return &NotExpr{Arg: arg}, nil
		default:
			// Leaf predicates share the cql2-json argument shapes.
			return decodeOp(op, rawArgs)
		}
	}
	return nil, jsonErrorf("empty cql-json expression")
}

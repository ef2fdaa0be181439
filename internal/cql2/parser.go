package cql2

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	apperrors "github.com/stacdex/stacdex/internal/errors"
)

// wktKeywords are WKT geometry type names. When one appears followed by a
// parenthesis, the parser slices the raw input and hands it to the WKT
// decoder instead of tokenizing the coordinate list.
var wktKeywords = map[string]bool{
	"POINT":              true,
	"LINESTRING":         true,
	"POLYGON":            true,
	"MULTIPOINT":         true,
	"MULTILINESTRING":    true,
	"MULTIPOLYGON":       true,
	"GEOMETRYCOLLECTION": true,
}

// temporalOps maps T_* predicate names to temporal operators.
var temporalOps = map[string]string{
	"T_BEFORE":   TemporalBefore,
	"T_AFTER":    TemporalAfter,
	"T_MEETS":    TemporalMeets,
	"T_METBY":    TemporalMetBy,
	"T_OVERLAPS": TemporalOverlaps,
	"T_EQUALS":   TemporalEquals,
}

// spatialOps maps S_* predicate names to spatial operators.
var spatialOps = map[string]string{
	"S_INTERSECTS": SpatialIntersects,
	"S_DISJOINT":   SpatialDisjoint,
	"S_CONTAINS":   SpatialContains,
	"S_WITHIN":     SpatialWithin,
	"S_TOUCHES":    SpatialTouches,
	"S_CROSSES":    SpatialCrosses,
	"S_OVERLAPS":   SpatialOverlaps,
	"S_EQUALS":     SpatialEquals,
}

// Parser parses CQL2 text into an AST.
type Parser struct {
	lexer *Lexer
	cur   Token
	peek  Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.next()
	p.next()
	return p
}

// ParseText parses a complete CQL2 text expression.
func ParseText(input string) (Expr, error) {
	p := NewParser(input)
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != TokenEOF {
		return nil, p.errorf("unexpected %q after expression", p.cur.Literal)
	}
	return expr, nil
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
}

// seek repositions the lexer at pos and re-primes the lookahead. Used after
// slicing a WKT literal out of the raw input.
func (p *Parser) seek(pos int) {
	p.lexer.readPos = pos
	p.lexer.readChar()
	p.next()
	p.next()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.KindInvalidQueryParameter, "cql2: "+format, args...)
}

func (p *Parser) expect(t TokenType, what string) error {
	if p.cur.Type != t {
		return p.errorf("expected %s, got %q", what, p.cur.Literal)
	}
	p.next()
	return nil
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != TokenOr {
		return left, nil
	}
	args := []Expr{left}
	for p.cur.Type == TokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		args = append(args, right)
	}
	return &LogicalExpr{Op: "OR", Args: args}, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != TokenAnd {
		return left, nil
	}
	args := []Expr{left}
	for p.cur.Type == TokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		args = append(args, right)
	}
	return &LogicalExpr{Op: "AND", Args: args}, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.cur.Type == TokenNot {
		p.next()
		arg, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Arg: arg}, nil
	}
	return p.parsePredicate()
}

func (p *Parser) parsePredicate() (Expr, error) {
	// Parenthesized boolean group.
	if p.cur.Type == TokenLParen {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	// Spatial and temporal predicate functions.
	if p.cur.Type == TokenIdent && p.peek.Type == TokenLParen {
		upper := strings.ToUpper(p.cur.Literal)
		if op, ok := spatialOps[upper]; ok {
			left, right, err := p.parsePredicateArgs()
			if err != nil {
				return nil, err
			}
			return &SpatialExpr{Op: op, Left: left, Right: right}, nil
		}
		if op, ok := temporalOps[upper]; ok {
			left, right, err := p.parsePredicateArgs()
			if err != nil {
				return nil, err
			}
			return &TemporalExpr{Op: op, Left: left, Right: right}, nil
		}
	}

	return p.parseComparison()
}

// parsePredicateArgs parses the two-argument list of an S_*/T_* predicate.
func (p *Parser) parsePredicateArgs() (Expr, Expr, error) {
	p.next() // predicate name
	p.next() // (
	left, err := p.parseOperand()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expect(TokenComma, ","); err != nil {
		return nil, nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expect(TokenRParen, ")"); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	not := false
	if p.cur.Type == TokenNot {
		switch p.peek.Type {
		case TokenBetween, TokenLike, TokenIn:
			not = true
			p.next()
		default:
			return nil, p.errorf("expected BETWEEN, LIKE or IN after NOT, got %q", p.peek.Literal)
		}
	}

	switch p.cur.Type {
	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		op := p.cur.Literal
		if op == "!=" {
			op = "<>"
		}
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &ComparisonExpr{Op: op, Left: left, Right: right}, nil

	case TokenBetween:
		p.next()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenAnd, "AND"); err != nil {
			return nil, err
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Arg: left, Low: low, High: high, Not: not}, nil

	case TokenLike:
		p.next()
		if p.cur.Type != TokenString {
			return nil, p.errorf("LIKE pattern must be a string, got %q", p.cur.Literal)
		}
		pattern := p.cur.Literal
		p.next()
		return &LikeExpr{Arg: left, Pattern: pattern, Not: not}, nil

	case TokenIn:
		p.next()
		if err := p.expect(TokenLParen, "("); err != nil {
			return nil, err
		}
		var values []Expr
		for {
			v, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.cur.Type != TokenComma {
				break
			}
			p.next()
		}
		if err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &InExpr{Arg: left, Values: values, Not: not}, nil

	case TokenIs:
		p.next()
		isNot := false
		if p.cur.Type == TokenNot {
			isNot = true
			p.next()
		}
		if err := p.expect(TokenNull, "NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Arg: left, Not: isNot}, nil
	}

	return left, nil
}

// parseOperand parses an arithmetic expression with the usual precedence.
func (p *Parser) parseOperand() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenPlus || p.cur.Type == TokenMinus {
		op := p.cur.Literal
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenStar || p.cur.Type == TokenSlash {
		op := p.cur.Literal
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseFactor() (Expr, error) {
	switch p.cur.Type {
	case TokenMinus:
		p.next()
		if p.cur.Type != TokenNumber {
			return nil, p.errorf("expected number after unary minus, got %q", p.cur.Literal)
		}
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.cur.Literal)
		}
		p.next()
		return &Literal{Value: -v}, nil

	case TokenNumber:
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.cur.Literal)
		}
		p.next()
		return &Literal{Value: v}, nil

	case TokenString:
		v := p.cur.Literal
		p.next()
		return &Literal{Value: v}, nil

	case TokenTrue:
		p.next()
		return &Literal{Value: true}, nil

	case TokenFalse:
		p.next()
		return &Literal{Value: false}, nil

	case TokenTimestamp, TokenDate:
		return p.parseTimestampLiteral()

	case TokenInterval:
		return p.parseIntervalLiteral()

	case TokenBBox:
		return p.parseBBoxLiteral()

	case TokenIdent:
		if wktKeywords[strings.ToUpper(p.cur.Literal)] && p.peek.Type == TokenLParen {
			return p.parseGeometryLiteral()
		}
		name := p.cur.Literal
		if p.peek.Type == TokenLParen {
			return p.parseFunction(name)
		}
		p.next()
		return &PropertyRef{Name: name}, nil

	case TokenLParen:
		p.next()
		expr, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	return nil, p.errorf("unexpected %q", p.cur.Literal)
}

func (p *Parser) parseFunction(name string) (Expr, error) {
	p.next() // name
	p.next() // (
	var args []Expr
	if p.cur.Type != TokenRParen {
		for {
			a, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.cur.Type != TokenComma {
				break
			}
			p.next()
		}
	}
	if err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	return &FunctionExpr{Name: name, Args: args}, nil
}

func (p *Parser) parseTimestampLiteral() (Expr, error) {
	p.next() // TIMESTAMP or DATE
	if err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	if p.cur.Type != TokenString {
		return nil, p.errorf("expected timestamp string, got %q", p.cur.Literal)
	}
	t, err := parseInstant(p.cur.Literal)
	if err != nil {
		return nil, p.errorf("invalid timestamp %q", p.cur.Literal)
	}
	p.next()
	if err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	return &TimestampLiteral{Value: t}, nil
}

func (p *Parser) parseIntervalLiteral() (Expr, error) {
	p.next() // INTERVAL
	if err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	start, err := p.parseIntervalEndpoint()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenComma, ","); err != nil {
		return nil, err
	}
	end, err := p.parseIntervalEndpoint()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	if start == nil && end == nil {
		return nil, p.errorf("interval cannot be open on both ends")
	}
	return &IntervalLiteral{Start: start, End: end}, nil
}

func (p *Parser) parseIntervalEndpoint() (*time.Time, error) {
	if p.cur.Type != TokenString {
		return nil, p.errorf("expected interval endpoint string, got %q", p.cur.Literal)
	}
	lit := p.cur.Literal
	p.next()
	if lit == ".." {
		return nil, nil
	}
	t, err := parseInstant(lit)
	if err != nil {
		return nil, p.errorf("invalid interval endpoint %q", lit)
	}
	return &t, nil
}

func (p *Parser) parseBBoxLiteral() (Expr, error) {
	p.next() // BBOX
	if err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	var values []float64
	for {
		neg := false
		if p.cur.Type == TokenMinus {
			neg = true
			p.next()
		}
		if p.cur.Type != TokenNumber {
			return nil, p.errorf("expected bbox coordinate, got %q", p.cur.Literal)
		}
		v, err := strconv.ParseFloat(p.cur.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.cur.Literal)
		}
		if neg {
			v = -v
		}
		values = append(values, v)
		p.next()
		if p.cur.Type != TokenComma {
			break
		}
		p.next()
	}
	if err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	if len(values) != 4 && len(values) != 6 {
		return nil, p.errorf("bbox must have 4 or 6 values, got %d", len(values))
	}
	return &BBoxLiteral{Values: values}, nil
}

// parseGeometryLiteral slices the WKT text out of the raw input so the
// coordinate list never passes through the tokenizer.
func (p *Parser) parseGeometryLiteral() (Expr, error) {
	input := p.lexer.Input()
	start := p.cur.Pos
	open := strings.IndexByte(input[start:], '(')
	if open < 0 {
		return nil, p.errorf("malformed geometry literal")
	}
	depth := 0
	end := -1
	for i := start + open; i < len(input); i++ {
		switch input[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil, p.errorf("unbalanced parentheses in geometry literal")
	}

	geom, err := wkt.Unmarshal(input[start:end])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidQueryParameter, "cql2: invalid geometry literal", err)
	}
	p.seek(end)
	return &GeometryLiteral{Geometry: geom}, nil
}

// parseInstant accepts RFC 3339 timestamps and bare dates.
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

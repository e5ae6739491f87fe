package jamf

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Static errors for err113 compliance.
var (
	ErrInvalidFilter   = errors.New("invalid filter expression")
	ErrInvalidSort     = errors.New("invalid sort expression")
	ErrFieldNotAllowed = errors.New("field is not allowed")
)

// Operator is an RSQL comparison operator.
type Operator string

// Comparison operators understood by the Pro API.
const (
	OpEq  Operator = "=="
	OpNe  Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpIn  Operator = "=in="
	OpOut Operator = "=out="
)

const (
	connectiveAnd = ";"
	connectiveOr  = ","
)

// FilterField names a field to compare, e.g. FilterField("general.name").Eq("X").
type FilterField string

// Eq matches values equal to value. A '*' in a string value is a wildcard.
func (f FilterField) Eq(value any) FilterExpression {
	return comparison(f, OpEq, value)
}

// Ne matches values not equal to value.
func (f FilterField) Ne(value any) FilterExpression {
	return comparison(f, OpNe, value)
}

// Gt matches values greater than value.
func (f FilterField) Gt(value any) FilterExpression {
	return comparison(f, OpGt, value)
}

// Gte matches values greater than or equal to value.
func (f FilterField) Gte(value any) FilterExpression {
	return comparison(f, OpGte, value)
}

// Lt matches values less than value.
func (f FilterField) Lt(value any) FilterExpression {
	return comparison(f, OpLt, value)
}

// Lte matches values less than or equal to value.
func (f FilterField) Lte(value any) FilterExpression {
	return comparison(f, OpLte, value)
}

// Contains matches values containing value, rendered as a wildcard equality.
func (f FilterField) Contains(value any) FilterExpression {
	return comparison(f, OpEq, "*"+formatValue(value)+"*")
}

// In matches any of values.
func (f FilterField) In(values ...any) FilterExpression {
	return comparison(f, OpIn, values...)
}

// Out matches none of values.
func (f FilterField) Out(values ...any) FilterExpression {
	return comparison(f, OpOut, values...)
}

// FilterExpression is an immutable predicate tree. The zero value matches everything.
type FilterExpression struct {
	connective string
	field      string
	operator   Operator
	args       []string
	operands   []FilterExpression
}

func comparison(field FilterField, op Operator, values ...any) FilterExpression {
	args := make([]string, 0, len(values))
	for _, value := range values {
		args = append(args, formatValue(value))
	}

	return FilterExpression{field: string(field), operator: op, args: args}
}

// AllOf joins expressions with "and".
func AllOf(exprs ...FilterExpression) FilterExpression {
	var result FilterExpression
	for _, expr := range exprs {
		result = result.And(expr)
	}

	return result
}

// AnyOf joins expressions with "or".
func AnyOf(exprs ...FilterExpression) FilterExpression {
	var result FilterExpression
	for _, expr := range exprs {
		result = result.Or(expr)
	}

	return result
}

// And returns e and other.
func (e FilterExpression) And(other FilterExpression) FilterExpression {
	return combine(connectiveAnd, e, other)
}

// Or returns e or other.
func (e FilterExpression) Or(other FilterExpression) FilterExpression {
	return combine(connectiveOr, e, other)
}

// combine flattens nested operands of the same connective so that equivalent
// trees have one canonical shape.
func combine(connective string, left, right FilterExpression) FilterExpression {
	if left.IsZero() {
		return right
	}

	if right.IsZero() {
		return left
	}

	operands := make([]FilterExpression, 0, len(left.operands)+len(right.operands)+2)
	operands = appendOperand(operands, connective, left)
	operands = appendOperand(operands, connective, right)

	return FilterExpression{connective: connective, operands: operands}
}

func appendOperand(dst []FilterExpression, connective string, expr FilterExpression) []FilterExpression {
	if expr.connective == connective {
		return append(dst, expr.operands...)
	}

	return append(dst, expr)
}

// IsZero reports whether the expression is empty.
func (e FilterExpression) IsZero() bool {
	return e.connective == "" && e.field == ""
}

// Equal reports whether both expressions describe the same predicate.
func (e FilterExpression) Equal(other FilterExpression) bool {
	return e.String() == other.String()
}

// String renders the expression as an RSQL query string.
func (e FilterExpression) String() string {
	var builder strings.Builder

	e.render(&builder)

	return builder.String()
}

func (e FilterExpression) render(builder *strings.Builder) {
	switch e.connective {
	case "":
		if e.field == "" {
			return
		}

		builder.WriteString(e.field)
		builder.WriteString(string(e.operator))

		if e.operator == OpIn || e.operator == OpOut {
			builder.WriteByte('(')

			for i, arg := range e.args {
				if i > 0 {
					builder.WriteByte(',')
				}

				builder.WriteString(quoteValue(arg))
			}

			builder.WriteByte(')')

			return
		}

		builder.WriteString(quoteValue(e.args[0]))
	case connectiveAnd:
		for i, operand := range e.operands {
			if i > 0 {
				builder.WriteString(connectiveAnd)
			}

			// ";" binds tighter than ",", so or-groups inside an and need parentheses.
			if operand.connective == connectiveOr {
				builder.WriteByte('(')
				operand.render(builder)
				builder.WriteByte(')')
			} else {
				operand.render(builder)
			}
		}
	case connectiveOr:
		for i, operand := range e.operands {
			if i > 0 {
				builder.WriteString(connectiveOr)
			}

			operand.render(builder)
		}
	}
}

// Fields returns the distinct field names referenced by the expression in order of appearance.
func (e FilterExpression) Fields() []string {
	var fields []string

	var walk func(expr FilterExpression)

	walk = func(expr FilterExpression) {
		if expr.connective == "" {
			if expr.field != "" && !slices.Contains(fields, expr.field) {
				fields = append(fields, expr.field)
			}

			return
		}

		for _, operand := range expr.operands {
			walk(operand)
		}
	}

	walk(e)

	return fields
}

// ValidateFields returns ErrFieldNotAllowed for the first field missing from allowed.
func (e FilterExpression) ValidateFields(allowed []string) error {
	for _, field := range e.Fields() {
		if !slices.Contains(allowed, field) {
			return fmt.Errorf("%w: filter on %q", ErrFieldNotAllowed, field)
		}
	}

	return nil
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

const reservedChars = "\"'();,=!~<> \t"

func quoteValue(value string) string {
	if value != "" && !strings.ContainsAny(value, reservedChars) {
		return value
	}

	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)

	return `"` + escaped + `"`
}

// ParseFilter parses an RSQL string produced by FilterExpression.String or
// written by hand. An empty string yields the zero expression.
func ParseFilter(input string) (FilterExpression, error) {
	parser := &filterParser{input: input}
	parser.skipSpace()

	if parser.done() {
		return FilterExpression{}, nil
	}

	expr, err := parser.parseOr()
	if err != nil {
		return FilterExpression{}, err
	}

	parser.skipSpace()

	if !parser.done() {
		return FilterExpression{}, parser.errorf("unexpected %q", parser.input[parser.pos])
	}

	return expr, nil
}

type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) done() bool {
	return p.pos >= len(p.input)
}

func (p *filterParser) skipSpace() {
	for !p.done() && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *filterParser) peek(c byte) bool {
	p.skipSpace()

	return !p.done() && p.input[p.pos] == c
}

func (p *filterParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at position %d", ErrInvalidFilter, fmt.Sprintf(format, args...), p.pos)
}

func (p *filterParser) parseOr() (FilterExpression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return FilterExpression{}, err
	}

	for p.peek(',') {
		p.pos++

		right, err := p.parseAnd()
		if err != nil {
			return FilterExpression{}, err
		}

		left = combine(connectiveOr, left, right)
	}

	return left, nil
}

func (p *filterParser) parseAnd() (FilterExpression, error) {
	left, err := p.parseTerm()
	if err != nil {
		return FilterExpression{}, err
	}

	for p.peek(';') {
		p.pos++

		right, err := p.parseTerm()
		if err != nil {
			return FilterExpression{}, err
		}

		left = combine(connectiveAnd, left, right)
	}

	return left, nil
}

func (p *filterParser) parseTerm() (FilterExpression, error) {
	if p.peek('(') {
		p.pos++

		expr, err := p.parseOr()
		if err != nil {
			return FilterExpression{}, err
		}

		if !p.peek(')') {
			return FilterExpression{}, p.errorf("expected ')'")
		}

		p.pos++

		return expr, nil
	}

	return p.parseComparison()
}

func (p *filterParser) parseComparison() (FilterExpression, error) {
	p.skipSpace()

	start := p.pos
	for !p.done() && !strings.ContainsRune(reservedChars, rune(p.input[p.pos])) {
		p.pos++
	}

	field := p.input[start:p.pos]
	if field == "" {
		return FilterExpression{}, p.errorf("expected field name")
	}

	op, err := p.parseOperator()
	if err != nil {
		return FilterExpression{}, err
	}

	expr := FilterExpression{field: field, operator: op}

	if op == OpIn || op == OpOut {
		if !p.peek('(') {
			return FilterExpression{}, p.errorf("expected '(' after %s", op)
		}

		p.pos++

		// An empty list is what In() and Out() render without values.
		if p.peek(')') {
			p.pos++
			expr.args = []string{}

			return expr, nil
		}

		for {
			value, err := p.parseValue()
			if err != nil {
				return FilterExpression{}, err
			}

			expr.args = append(expr.args, value)

			if p.peek(',') {
				p.pos++

				continue
			}

			if p.peek(')') {
				p.pos++

				break
			}

			return FilterExpression{}, p.errorf("expected ',' or ')'")
		}

		return expr, nil
	}

	value, err := p.parseValue()
	if err != nil {
		return FilterExpression{}, err
	}

	expr.args = []string{value}

	return expr, nil
}

func (p *filterParser) parseOperator() (Operator, error) {
	rest := p.input[p.pos:]

	// Longest operators first so ">=" is not read as ">".
	for _, op := range []Operator{OpOut, OpIn, OpEq, OpNe, OpGte, OpLte, OpGt, OpLt} {
		if strings.HasPrefix(rest, string(op)) {
			p.pos += len(op)

			return op, nil
		}
	}

	return "", p.errorf("expected comparison operator")
}

func (p *filterParser) parseValue() (string, error) {
	p.skipSpace()

	if p.done() {
		return "", p.errorf("expected value")
	}

	quote := p.input[p.pos]
	if quote == '"' || quote == '\'' {
		p.pos++

		var builder strings.Builder

		for !p.done() {
			c := p.input[p.pos]

			switch {
			case c == '\\' && p.pos+1 < len(p.input):
				builder.WriteByte(p.input[p.pos+1])
				p.pos += 2
			case c == quote:
				p.pos++

				return builder.String(), nil
			default:
				builder.WriteByte(c)
				p.pos++
			}
		}

		return "", p.errorf("unterminated quoted value")
	}

	start := p.pos
	for !p.done() && !strings.ContainsRune(reservedChars, rune(p.input[p.pos])) {
		p.pos++
	}

	if start == p.pos {
		return "", p.errorf("expected value")
	}

	return p.input[start:p.pos], nil
}

package jamf

import (
	"fmt"
	"slices"
	"strings"
)

// SortDirection orders results ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortField names a field to sort on.
type SortField string

// Asc sorts by the field in ascending order.
func (f SortField) Asc() SortExpression {
	return SortExpression{terms: []SortTerm{{Field: string(f), Direction: SortAsc}}}
}

// Desc sorts by the field in descending order.
func (f SortField) Desc() SortExpression {
	return SortExpression{terms: []SortTerm{{Field: string(f), Direction: SortDesc}}}
}

// SortTerm is one "field:direction" pair.
type SortTerm struct {
	Field     string
	Direction SortDirection
}

// SortExpression is an ordered list of sort terms. Earlier terms take
// precedence; later ones only break ties.
type SortExpression struct {
	terms []SortTerm
}

// Then appends other's terms after s's.
func (s SortExpression) Then(other SortExpression) SortExpression {
	terms := make([]SortTerm, 0, len(s.terms)+len(other.terms))
	terms = append(terms, s.terms...)
	terms = append(terms, other.terms...)

	return SortExpression{terms: terms}
}

// Terms returns a copy of the sort terms.
func (s SortExpression) Terms() []SortTerm {
	return slices.Clone(s.terms)
}

// IsZero reports whether no terms are set.
func (s SortExpression) IsZero() bool {
	return len(s.terms) == 0
}

// String renders the expression as "field:asc,other:desc".
func (s SortExpression) String() string {
	parts := make([]string, 0, len(s.terms))
	for _, term := range s.terms {
		parts = append(parts, term.Field+":"+string(term.Direction))
	}

	return strings.Join(parts, ",")
}

// ValidateFields returns ErrFieldNotAllowed for the first field missing from allowed.
func (s SortExpression) ValidateFields(allowed []string) error {
	for _, term := range s.terms {
		if !slices.Contains(allowed, term.Field) {
			return fmt.Errorf("%w: sort on %q", ErrFieldNotAllowed, term.Field)
		}
	}

	return nil
}

// ParseSort parses "field:asc,other:desc". A term without a direction sorts ascending.
func ParseSort(input string) (SortExpression, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return SortExpression{}, nil
	}

	var expr SortExpression

	for _, part := range strings.Split(input, ",") {
		field, direction, found := strings.Cut(strings.TrimSpace(part), ":")

		field = strings.TrimSpace(field)
		if field == "" {
			return SortExpression{}, fmt.Errorf("%w: empty field in %q", ErrInvalidSort, input)
		}

		dir := SortAsc

		if found {
			switch SortDirection(strings.ToLower(strings.TrimSpace(direction))) {
			case SortAsc:
			case SortDesc:
				dir = SortDesc
			default:
				return SortExpression{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidSort, direction)
			}
		}

		expr.terms = append(expr.terms, SortTerm{Field: field, Direction: dir})
	}

	return expr, nil
}

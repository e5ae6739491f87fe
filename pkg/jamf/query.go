package jamf

import (
	"net/url"
	"strconv"
)

// QueryParams holds the list options understood by Pro API collection
// endpoints. Page is zero-based.
type QueryParams struct {
	Page     int
	PageSize int
	Sort     SortExpression
	Filter   FilterExpression
	// Sections selects response sections on endpoints that support them.
	Sections []string
	// Extra holds endpoint-specific parameters passed through verbatim.
	Extra url.Values
}

// NewQueryParams creates empty query parameters.
func NewQueryParams() *QueryParams {
	return &QueryParams{
		Extra: url.Values{},
	}
}

// WithPage sets the zero-based page index.
func (p *QueryParams) WithPage(page int) *QueryParams {
	p.Page = page

	return p
}

// WithPageSize sets the number of items per page.
func (p *QueryParams) WithPageSize(size int) *QueryParams {
	p.PageSize = size

	return p
}

// WithSort appends sort terms.
func (p *QueryParams) WithSort(sort SortExpression) *QueryParams {
	p.Sort = p.Sort.Then(sort)

	return p
}

// WithFilter ands expr onto the current filter.
func (p *QueryParams) WithFilter(expr FilterExpression) *QueryParams {
	p.Filter = p.Filter.And(expr)

	return p
}

// WithSections appends response sections.
func (p *QueryParams) WithSections(sections ...string) *QueryParams {
	p.Sections = append(p.Sections, sections...)

	return p
}

// WithParam adds an endpoint-specific parameter.
func (p *QueryParams) WithParam(key string, values ...string) *QueryParams {
	if p.Extra == nil {
		p.Extra = url.Values{}
	}

	for _, value := range values {
		p.Extra.Add(key, value)
	}

	return p
}

// Clone returns a copy that can be modified independently.
func (p *QueryParams) Clone() *QueryParams {
	if p == nil {
		return NewQueryParams()
	}

	clone := *p
	clone.Sections = append([]string(nil), p.Sections...)
	clone.Extra = url.Values{}

	for key, values := range p.Extra {
		clone.Extra[key] = append([]string(nil), values...)
	}

	return &clone
}

// ToValues converts the parameters to url.Values using the Pro API names
// page, page-size, sort, filter and section.
func (p *QueryParams) ToValues() url.Values {
	values := url.Values{}

	if p == nil {
		return values
	}

	if p.Page > 0 || p.PageSize > 0 {
		values.Set("page", strconv.Itoa(p.Page))
	}

	if p.PageSize > 0 {
		values.Set("page-size", strconv.Itoa(p.PageSize))
	}

	if !p.Sort.IsZero() {
		values.Set("sort", p.Sort.String())
	}

	if !p.Filter.IsZero() {
		values.Set("filter", p.Filter.String())
	}

	for _, section := range p.Sections {
		values.Add("section", section)
	}

	for key, extra := range p.Extra {
		for _, value := range extra {
			values.Add(key, value)
		}
	}

	return values
}

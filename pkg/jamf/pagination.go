package jamf

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
)

// Page is one fetched page of a collection.
type Page[T any] struct {
	// Index is the zero-based page index.
	Index int
	Items []T
	// TotalCount is the collection size reported by the server, if any.
	TotalCount *int
	// NextCursor is set by cursor-based collections; empty means no more pages.
	NextCursor *string
}

// ListResponse is the Pro API collection envelope.
type ListResponse[T any] struct {
	TotalCount int `json:"totalCount" yaml:"totalCount"`
	Results    []T `json:"results"    yaml:"results"`
}

// PageFetcher fetches the page described by state.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, state PageState, params *QueryParams) (Page[T], error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, state PageState, params *QueryParams) (Page[T], error)

// FetchPage calls f.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, state PageState, params *QueryParams) (Page[T], error) {
	return f(ctx, state, params)
}

// PageState tracks one traversal. It belongs to that traversal alone.
type PageState struct {
	PageIndex int
	PageSize  int
	// TotalAvailable is only meaningful when TotalKnown is set.
	TotalAvailable int
	TotalKnown     bool
	Cursor         string
	// Fetched counts items received so far.
	Fetched int
	// Pages counts pages received so far.
	Pages int

	cursorMode bool
	exhausted  bool
}

// Exhausted reports whether the traversal has ended.
func (s *PageState) Exhausted() bool {
	return s.exhausted
}

// record advances the state past a fetched page and decides whether the
// collection is exhausted.
func (s *PageState) record(count int, total *int, cursor *string, maxPages int) {
	s.Fetched += count
	s.Pages++
	s.PageIndex++

	if total != nil {
		s.TotalAvailable = *total
		s.TotalKnown = true
	}

	if cursor != nil {
		s.Cursor = *cursor
		s.cursorMode = true
	}

	switch {
	case s.TotalKnown && s.Fetched >= s.TotalAvailable:
		s.exhausted = true
	case count == 0 || count < s.PageSize:
		s.exhausted = true
	case s.cursorMode && s.Cursor == "":
		s.exhausted = true
	case maxPages > 0 && s.Pages >= maxPages:
		s.exhausted = true
	}
}

// PaginationOptions configures a traversal.
type PaginationOptions struct {
	// PageSize defaults to 100 and is capped at 2000.
	PageSize int
	// StartPage is the zero-based index of the first page to fetch.
	StartPage int
	// MaxPages stops the traversal after that many pages. Zero means no limit.
	MaxPages int
	Filter   FilterExpression
	Sort     SortExpression
	Sections []string
	// ReadAhead is how many pages Stream prefetches. Defaults to 1.
	ReadAhead int
}

// Paginator traverses a paged collection.
type Paginator[T any] struct {
	fetcher PageFetcher[T]
	options PaginationOptions
}

// NewPaginator creates a paginator over fetcher.
func NewPaginator[T any](fetcher PageFetcher[T], options PaginationOptions) *Paginator[T] {
	if options.PageSize <= 0 {
		options.PageSize = constants.DefaultPageSize
	}

	if options.PageSize > constants.MaxPageSize {
		options.PageSize = constants.MaxPageSize
	}

	if options.StartPage < 0 {
		options.StartPage = 0
	}

	if options.ReadAhead <= 0 {
		options.ReadAhead = constants.DefaultReadAhead
	}

	return &Paginator[T]{fetcher: fetcher, options: options}
}

func (p *Paginator[T]) newState() PageState {
	return PageState{
		PageIndex: p.options.StartPage,
		PageSize:  p.options.PageSize,
	}
}

func (p *Paginator[T]) fetch(ctx context.Context, state *PageState) (Page[T], error) {
	params := &QueryParams{
		Page:     state.PageIndex,
		PageSize: state.PageSize,
		Sort:     p.options.Sort,
		Filter:   p.options.Filter,
		Sections: p.options.Sections,
	}

	page, err := p.fetcher.FetchPage(ctx, *state, params)
	if err != nil {
		return Page[T]{}, fmt.Errorf("fetching page %d: %w", state.PageIndex, err)
	}

	page.Index = state.PageIndex
	state.record(len(page.Items), page.TotalCount, page.NextCursor, p.options.MaxPages)

	return page, nil
}

// FetchAll fetches every page and flattens the items. On failure no items
// are returned.
func (p *Paginator[T]) FetchAll(ctx context.Context) ([]T, error) {
	state := p.newState()

	var items []T

	for !state.exhausted {
		page, err := p.fetch(ctx, &state)
		if err != nil {
			return nil, err
		}

		items = append(items, page.Items...)
	}

	if items == nil {
		items = []T{}
	}

	return items, nil
}

// Pages returns a one-shot iterator that fetches each page only when the
// caller advances to it.
func (p *Paginator[T]) Pages(ctx context.Context) *PageIterator[T] {
	return &PageIterator[T]{
		ctx:       ctx,
		paginator: p,
		state:     p.newState(),
	}
}

// PageResult carries a page or the error that ended the stream.
type PageResult[T any] struct {
	Page Page[T]
	Err  error
}

// Stream fetches pages on a background goroutine, keeping up to ReadAhead
// pages ahead of the consumer. Pages arrive in order; an error is the last
// value. Cancel ctx to stop early.
func (p *Paginator[T]) Stream(ctx context.Context) <-chan PageResult[T] {
	// The goroutine holds one fetched page while blocked on send.
	out := make(chan PageResult[T], max(p.options.ReadAhead-1, 0))

	go func() {
		defer close(out)

		state := p.newState()

		for !state.exhausted {
			page, err := p.fetch(ctx, &state)

			select {
			case out <- PageResult[T]{Page: page, Err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return out
}

// PageIterator walks pages one at a time. It cannot be restarted.
type PageIterator[T any] struct {
	ctx       context.Context //nolint:containedctx // the iterator is bound to one traversal
	paginator *Paginator[T]
	state     PageState
	err       error
}

// FailedPageIterator returns an iterator that yields err and no pages, for
// queries rejected before the first request.
func FailedPageIterator[T any](err error) *PageIterator[T] {
	return &PageIterator[T]{err: err}
}

// Err returns the failure that ended the traversal, if any.
func (it *PageIterator[T]) Err() error {
	return it.err
}

// HasNext reports whether another page may be fetched.
func (it *PageIterator[T]) HasNext() bool {
	return it.err == nil && !it.state.exhausted
}

// Next fetches the next page. After the last page it returns ErrNoMoreItems;
// after a failure it keeps returning that failure.
func (it *PageIterator[T]) Next() (Page[T], error) {
	if it.err != nil {
		return Page[T]{}, it.err
	}

	if it.state.exhausted {
		return Page[T]{}, ErrNoMoreItems
	}

	page, err := it.paginator.fetch(it.ctx, &it.state)
	if err != nil {
		it.err = err

		return Page[T]{}, err
	}

	return page, nil
}

// ForEach calls fn for every remaining page. It returns the failure that
// ended the traversal, including one recorded before the call.
func (it *PageIterator[T]) ForEach(fn func(Page[T]) error) error {
	for it.HasNext() {
		page, err := it.Next()
		if err != nil {
			return err
		}

		err = fn(page)
		if err != nil {
			return err
		}
	}

	return it.err
}

// State returns a snapshot of the traversal state.
func (it *PageIterator[T]) State() PageState {
	return it.state
}

// ProAPIFetcher fetches pages of a Pro API collection at resourcePath.
func ProAPIFetcher[T any](requester Requester, resourcePath string) PageFetcher[T] {
	return PageFetcherFunc[T](func(ctx context.Context, state PageState, params *QueryParams) (Page[T], error) {
		resp, err := requester.ProAPIRequest(ctx, http.MethodGet, resourcePath, WithQuery(params.ToValues()))
		if err != nil {
			return Page[T]{}, err
		}

		var list ListResponse[T]

		err = resp.Decode(&list)
		if err != nil {
			return Page[T]{}, fmt.Errorf("decoding %s: %w", resourcePath, err)
		}

		total := list.TotalCount

		return Page[T]{Index: state.PageIndex, Items: list.Results, TotalCount: &total}, nil
	})
}

// Paginate fetches every item of a Pro API collection.
func Paginate[T any](ctx context.Context, requester Requester, resourcePath string, options PaginationOptions) ([]T, error) {
	return NewPaginator(ProAPIFetcher[T](requester, resourcePath), options).FetchAll(ctx)
}

// PaginatePages returns a lazy page iterator over a Pro API collection.
func PaginatePages[T any](ctx context.Context, requester Requester, resourcePath string, options PaginationOptions) *PageIterator[T] {
	return NewPaginator(ProAPIFetcher[T](requester, resourcePath), options).Pages(ctx)
}

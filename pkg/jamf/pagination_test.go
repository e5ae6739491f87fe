package jamf_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

type TestResource struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// collectionFetcher serves a synthetic collection page by page and records
// which pages were requested.
type collectionFetcher struct {
	mu        sync.Mutex
	items     []TestResource
	reported  bool
	failOn    int
	requested []int
}

func newCollection(size int) *collectionFetcher {
	items := make([]TestResource, size)
	for i := range items {
		items[i] = TestResource{ID: i, Name: "item"}
	}

	return &collectionFetcher{items: items, reported: true, failOn: -1}
}

func (c *collectionFetcher) FetchPage(ctx context.Context, state jamf.PageState, params *jamf.QueryParams) (jamf.Page[TestResource], error) {
	c.mu.Lock()
	c.requested = append(c.requested, params.Page)
	c.mu.Unlock()

	if params.Page == c.failOn {
		return jamf.Page[TestResource]{}, jamf.NewAPIRequestError(http.MethodGet, "/api/v1/test", http.StatusInternalServerError, nil)
	}

	start := min(params.Page*params.PageSize, len(c.items))
	end := min(start+params.PageSize, len(c.items))

	page := jamf.Page[TestResource]{Items: c.items[start:end]}

	if c.reported {
		total := len(c.items)
		page.TotalCount = &total
	}

	return page, nil
}

func (c *collectionFetcher) pages() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]int(nil), c.requested...)
}

func TestPaginator_FetchAll_Completeness(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	paginator := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50})

	items, err := paginator.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 237)

	seen := make(map[int]bool, len(items))
	for i, item := range items {
		assert.Equal(t, i, item.ID)
		assert.False(t, seen[item.ID], "duplicate item %d", item.ID)
		seen[item.ID] = true
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, fetcher.pages())
}

func TestPaginator_Pages_OneShot(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	iterator := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		Pages(context.Background())

	// Nothing is fetched until the caller advances.
	assert.Empty(t, fetcher.pages())

	var sizes []int

	for iterator.HasNext() {
		page, err := iterator.Next()
		require.NoError(t, err)

		sizes = append(sizes, len(page.Items))
		assert.Len(t, fetcher.pages(), page.Index+1)
	}

	assert.Equal(t, []int{50, 50, 50, 50, 37}, sizes)

	_, err := iterator.Next()
	require.ErrorIs(t, err, jamf.ErrNoMoreItems)

	state := iterator.State()
	assert.Equal(t, 237, state.Fetched)
	assert.Equal(t, 5, state.Pages)
	assert.True(t, state.TotalKnown)
	assert.True(t, state.Exhausted())
}

func TestPaginator_ShortPageEndsTraversalWithoutTotal(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(120)
	fetcher.reported = false

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 120)
	assert.Equal(t, []int{0, 1, 2}, fetcher.pages())
}

func TestPaginator_EmptyPageEndsTraversal(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(100)
	fetcher.reported = false

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 100)
	assert.Equal(t, []int{0, 1, 2}, fetcher.pages())
}

func TestPaginator_EmptyCollection(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(0)

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.Equal(t, []int{0}, fetcher.pages())
}

func TestPaginator_StartPageAndMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(500)

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{
		PageSize:  50,
		StartPage: 2,
		MaxPages:  3,
	}).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 150)
	assert.Equal(t, 100, items[0].ID)
	assert.Equal(t, []int{2, 3, 4}, fetcher.pages())
}

func TestPaginator_CursorTraversal(t *testing.T) {
	t.Parallel()

	cursors := map[string]string{"": "b", "b": "c", "c": ""}

	fetcher := jamf.PageFetcherFunc[TestResource](func(ctx context.Context, state jamf.PageState, params *jamf.QueryParams) (jamf.Page[TestResource], error) {
		next := cursors[state.Cursor]

		return jamf.Page[TestResource]{
			Items:      []TestResource{{ID: state.Pages}, {ID: state.Pages}},
			NextCursor: &next,
		}, nil
	})

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 2}).
		FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 6)
}

func TestPaginator_FailureAbortsWithoutPartialItems(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	fetcher.failOn = 2

	items, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		FetchAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, items)
	assert.Contains(t, err.Error(), "page 2")

	var apiErr *jamf.APIRequestError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, []int{0, 1, 2}, fetcher.pages())
}

func TestPaginator_IteratorKeepsFailure(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	fetcher.failOn = 1

	iterator := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).
		Pages(context.Background())

	_, err := iterator.Next()
	require.NoError(t, err)

	_, err = iterator.Next()
	require.Error(t, err)
	assert.False(t, iterator.HasNext())

	_, again := iterator.Next()
	assert.Equal(t, err, again)
	assert.Len(t, fetcher.pages(), 2)
}

func TestPaginator_StreamPreservesOrder(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	paginator := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50, ReadAhead: 2})

	var indexes []int

	total := 0

	for result := range paginator.Stream(context.Background()) {
		require.NoError(t, result.Err)
		indexes = append(indexes, result.Page.Index)
		total += len(result.Page.Items)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, indexes)
	assert.Equal(t, 237, total)
}

func TestPaginator_StreamReadAheadBound(t *testing.T) {
	t.Parallel()

	for _, readAhead := range []int{1, 2, 3} {
		t.Run(strconv.Itoa(readAhead), func(t *testing.T) {
			t.Parallel()

			fetcher := newCollection(500)
			paginator := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50, ReadAhead: readAhead})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			stream := paginator.Stream(ctx)

			fetched := func() int { return len(fetcher.pages()) }

			require.Eventually(t, func() bool { return fetched() == readAhead }, time.Second, 5*time.Millisecond)
			assert.Never(t, func() bool { return fetched() > readAhead }, 100*time.Millisecond, 10*time.Millisecond)

			first := <-stream
			require.NoError(t, first.Err)
			assert.Equal(t, 0, first.Page.Index)

			require.Eventually(t, func() bool { return fetched() == readAhead+1 }, time.Second, 5*time.Millisecond)
			assert.Never(t, func() bool { return fetched() > readAhead+1 }, 100*time.Millisecond, 10*time.Millisecond)

			cancel()

			for range stream {
			}
		})
	}
}

func TestPaginator_StreamEndsWithError(t *testing.T) {
	t.Parallel()

	fetcher := newCollection(237)
	fetcher.failOn = 3

	var results []jamf.PageResult[TestResource]

	for result := range jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 50}).Stream(context.Background()) {
		results = append(results, result)
	}

	require.Len(t, results, 4)
	assert.Equal(t, []int{0, 1, 2}, []int{results[0].Page.Index, results[1].Page.Index, results[2].Page.Index})

	var apiErr *jamf.APIRequestError
	require.ErrorAs(t, results[3].Err, &apiErr)
	assert.False(t, jamf.IsNotFound(results[3].Err))
}

func TestPaginator_ClampsPageSize(t *testing.T) {
	t.Parallel()

	var sizes []int

	fetcher := jamf.PageFetcherFunc[TestResource](func(ctx context.Context, state jamf.PageState, params *jamf.QueryParams) (jamf.Page[TestResource], error) {
		sizes = append(sizes, params.PageSize)

		return jamf.Page[TestResource]{}, nil
	})

	_, err := jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{PageSize: 5000}).FetchAll(context.Background())
	require.NoError(t, err)

	_, err = jamf.NewPaginator[TestResource](fetcher, jamf.PaginationOptions{}).FetchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2000, 100}, sizes)
}

// fakeRequester answers Pro API list requests from an in-memory collection.
type fakeRequester struct {
	items   []TestResource
	queries []url.Values
}

func (f *fakeRequester) ProAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) (*jamf.Response, error) {
	options := jamf.ApplyRequestOptions(opts...)
	f.queries = append(f.queries, options.Query)

	if resourcePath != "v1/test" {
		return nil, jamf.NewAPIRequestError(method, resourcePath, http.StatusNotFound, nil)
	}

	page, _ := strconv.Atoi(options.Query.Get("page"))
	size, _ := strconv.Atoi(options.Query.Get("page-size"))

	start := min(page*size, len(f.items))
	end := min(start+size, len(f.items))

	body, err := json.Marshal(jamf.ListResponse[TestResource]{TotalCount: len(f.items), Results: f.items[start:end]})
	if err != nil {
		return nil, err
	}

	return &jamf.Response{StatusCode: http.StatusOK, Body: body}, nil
}

func (f *fakeRequester) ClassicAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) (*jamf.Response, error) {
	return nil, errors.New("not implemented") //nolint:err113 // test double
}

func TestPaginate_ProAPI(t *testing.T) {
	t.Parallel()

	requester := &fakeRequester{items: newCollection(237).items}

	items, err := jamf.Paginate[TestResource](context.Background(), requester, "v1/test", jamf.PaginationOptions{
		PageSize: 50,
		Filter:   jamf.FilterField("name").Eq("item"),
		Sort:     jamf.SortField("id").Asc(),
	})
	require.NoError(t, err)
	assert.Len(t, items, 237)
	require.Len(t, requester.queries, 5)

	for i, query := range requester.queries {
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}[i], query.Get("page"))
		assert.Equal(t, "50", query.Get("page-size"))
		assert.Equal(t, "name==item", query.Get("filter"))
		assert.Equal(t, "id:asc", query.Get("sort"))
	}

	_, err = jamf.Paginate[TestResource](context.Background(), requester, "v1/missing", jamf.PaginationOptions{})
	require.Error(t, err)
	assert.True(t, jamf.IsNotFound(err))

	iterator := jamf.PaginatePages[TestResource](context.Background(), requester, "v1/test", jamf.PaginationOptions{PageSize: 200})
	page, err := iterator.Next()
	require.NoError(t, err)
	assert.Len(t, page.Items, 200)
	require.NotNil(t, page.TotalCount)
	assert.Equal(t, 237, *page.TotalCount)
}

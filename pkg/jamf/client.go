package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	err := json.Unmarshal(r.Body, v)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// RequestOptions holds the optional parts of a request.
type RequestOptions struct {
	Query url.Values
	// Body is JSON encoded. Ignored when RawBody is set.
	Body        any
	RawBody     []byte
	ContentType string
	Headers     map[string]string
	// Timeout overrides the session's request timeout for this request.
	Timeout time.Duration
}

// RequestOption sets a request option.
type RequestOption func(*RequestOptions)

// WithQuery sets the query string.
func WithQuery(query url.Values) RequestOption {
	return func(o *RequestOptions) {
		o.Query = query
	}
}

// WithBody sets a JSON request body.
func WithBody(body any) RequestOption {
	return func(o *RequestOptions) {
		o.Body = body
	}
}

// WithRawBody sends data verbatim with the given content type.
func WithRawBody(data []byte, contentType string) RequestOption {
	return func(o *RequestOptions) {
		o.RawBody = data
		o.ContentType = contentType
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *RequestOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}

		o.Headers[key] = value
	}
}

// WithRequestTimeout overrides the request timeout.
func WithRequestTimeout(timeout time.Duration) RequestOption {
	return func(o *RequestOptions) {
		o.Timeout = timeout
	}
}

// ApplyRequestOptions folds opts into a RequestOptions value.
func ApplyRequestOptions(opts ...RequestOption) RequestOptions {
	var options RequestOptions

	for _, opt := range opts {
		opt(&options)
	}

	return options
}

// Requester issues single authenticated requests. resourcePath is relative
// to the API root, e.g. "v1/packages" for the Pro API or "packages/id/1"
// for the Classic API.
type Requester interface {
	ProAPIRequest(ctx context.Context, method, resourcePath string, opts ...RequestOption) (*Response, error)
	ClassicAPIRequest(ctx context.Context, method, resourcePath string, opts ...RequestOption) (*Response, error)
}

// Client is the blocking Jamf Pro client. Its dispatcher runs handlers on a
// worker pool. Close releases pooled connections.
type Client interface {
	Requester

	// AccessToken returns a valid token, refreshing it if needed.
	AccessToken(ctx context.Context) (AccessToken, error)
	Dispatcher() *Dispatcher
	Packages() PackagesClient
	JCDS2() TransferEngine
	Session() SessionConfig
	Close() error
}

// AsyncClient is the non-blocking Jamf Pro client. Every operation starts
// immediately and returns a Future; its dispatcher runs handlers as
// cancellable tasks. Close releases pooled connections.
type AsyncClient interface {
	ProAPIRequest(ctx context.Context, method, resourcePath string, opts ...RequestOption) *Future[*Response]
	ClassicAPIRequest(ctx context.Context, method, resourcePath string, opts ...RequestOption) *Future[*Response]
	AccessToken(ctx context.Context) *Future[AccessToken]
	UploadFile(ctx context.Context, filePath string) *Future[*UploadResult]
	DownloadFile(ctx context.Context, fileName, destination string) *Future[string]
	// StreamPackages lists packages with read-ahead.
	StreamPackages(ctx context.Context, options PaginationOptions) <-chan PageResult[Package]

	// Executor is the blocking view of the client, for use inside dispatch handlers.
	Executor() Requester
	Dispatcher() *Dispatcher
	Session() SessionConfig
	Close() error
}

// PackagesClient manages package records.
type PackagesClient interface {
	List(ctx context.Context, params *QueryParams) (*ListResponse[Package], error)
	ListAll(ctx context.Context, options PaginationOptions) ([]Package, error)
	Pages(ctx context.Context, options PaginationOptions) *PageIterator[Package]
	Get(ctx context.Context, id string) (*Package, error)
	Create(ctx context.Context, pkg *Package) (*HrefResponse, error)
	Delete(ctx context.Context, id string) error
}

// TransferEngine moves package files to and from the JCDS.
type TransferEngine interface {
	// UploadFile uploads the file and registers a package record for it.
	UploadFile(ctx context.Context, filePath string) (*UploadResult, error)
	// DownloadFile writes fileName to destination and returns the final path.
	DownloadFile(ctx context.Context, fileName, destination string) (string, error)
}

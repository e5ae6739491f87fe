package client

import (
	"context"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// AsyncClient implements the jamf.AsyncClient interface. Every operation
// starts at once on its own goroutine and returns a Future.
type AsyncClient struct {
	client *Client
}

// NewAsync creates a non-blocking client. Its dispatcher admits handler tasks
// through a semaphore and token refreshes wait on a cancellable lock.
func NewAsync(ctx context.Context, config *jamf.Config, opts ...Option) (*AsyncClient, error) {
	client, err := build(ctx, config, modelTask, opts)
	if err != nil {
		return nil, err
	}

	return &AsyncClient{client: client}, nil
}

// ProAPIRequest implements jamf.AsyncClient.ProAPIRequest.
func (a *AsyncClient) ProAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) *jamf.Future[*jamf.Response] {
	return jamf.Go(ctx, func(ctx context.Context) (*jamf.Response, error) {
		return a.client.ProAPIRequest(ctx, method, resourcePath, opts...)
	})
}

// ClassicAPIRequest implements jamf.AsyncClient.ClassicAPIRequest.
func (a *AsyncClient) ClassicAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) *jamf.Future[*jamf.Response] {
	return jamf.Go(ctx, func(ctx context.Context) (*jamf.Response, error) {
		return a.client.ClassicAPIRequest(ctx, method, resourcePath, opts...)
	})
}

// AccessToken implements jamf.AsyncClient.AccessToken.
func (a *AsyncClient) AccessToken(ctx context.Context) *jamf.Future[jamf.AccessToken] {
	return jamf.Go(ctx, a.client.AccessToken)
}

// UploadFile implements jamf.AsyncClient.UploadFile.
func (a *AsyncClient) UploadFile(ctx context.Context, filePath string) *jamf.Future[*jamf.UploadResult] {
	return jamf.Go(ctx, func(ctx context.Context) (*jamf.UploadResult, error) {
		return a.client.jcds2.UploadFile(ctx, filePath)
	})
}

// DownloadFile implements jamf.AsyncClient.DownloadFile.
func (a *AsyncClient) DownloadFile(ctx context.Context, fileName, destination string) *jamf.Future[string] {
	return jamf.Go(ctx, func(ctx context.Context) (string, error) {
		return a.client.jcds2.DownloadFile(ctx, fileName, destination)
	})
}

// StreamPackages implements jamf.AsyncClient.StreamPackages. The next page
// is fetched while the current one is being consumed.
func (a *AsyncClient) StreamPackages(ctx context.Context, options jamf.PaginationOptions) <-chan jamf.PageResult[jamf.Package] {
	fetcher := jamf.ProAPIFetcher[jamf.Package](a.client, constants.APIPathPackages)

	return jamf.NewPaginator(fetcher, options).Stream(ctx)
}

// Executor implements jamf.AsyncClient.Executor.
func (a *AsyncClient) Executor() jamf.Requester {
	return a.client
}

// Dispatcher implements jamf.AsyncClient.Dispatcher.
func (a *AsyncClient) Dispatcher() *jamf.Dispatcher {
	return a.client.dispatcher
}

// Session implements jamf.AsyncClient.Session.
func (a *AsyncClient) Session() jamf.SessionConfig {
	return a.client.session
}

// Close releases pooled connections. It is safe to call more than once.
func (a *AsyncClient) Close() error {
	return a.client.Close()
}

var _ jamf.AsyncClient = (*AsyncClient)(nil)

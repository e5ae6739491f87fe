package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// PackagesClient implements the jamf.PackagesClient interface.
type PackagesClient struct {
	requester jamf.Requester
}

// NewPackagesClient creates a new PackagesClient.
func NewPackagesClient(requester jamf.Requester) *PackagesClient {
	return &PackagesClient{
		requester: requester,
	}
}

// List fetches a single page of packages.
func (c *PackagesClient) List(ctx context.Context, params *jamf.QueryParams) (*jamf.ListResponse[jamf.Package], error) {
	var queryParams url.Values
	if params != nil {
		queryParams = params.ToValues()
	}

	resp, err := c.requester.ProAPIRequest(ctx, http.MethodGet, constants.APIPathPackages, jamf.WithQuery(queryParams))
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}

	var list jamf.ListResponse[jamf.Package]

	err = resp.Decode(&list)
	if err != nil {
		return nil, fmt.Errorf("parsing packages list response: %w", err)
	}

	return &list, nil
}

// ListAll fetches every package matching options.
func (c *PackagesClient) ListAll(ctx context.Context, options jamf.PaginationOptions) ([]jamf.Package, error) {
	err := validatePackageQuery(options)
	if err != nil {
		return nil, err
	}

	packages, err := jamf.Paginate[jamf.Package](ctx, c.requester, constants.APIPathPackages, options)
	if err != nil {
		return nil, fmt.Errorf("listing all packages: %w", err)
	}

	return packages, nil
}

// Pages returns a one-shot iterator over the pages of packages. A query on
// fields the endpoint does not support yields an iterator holding that error.
func (c *PackagesClient) Pages(ctx context.Context, options jamf.PaginationOptions) *jamf.PageIterator[jamf.Package] {
	err := validatePackageQuery(options)
	if err != nil {
		return jamf.FailedPageIterator[jamf.Package](err)
	}

	return jamf.PaginatePages[jamf.Package](ctx, c.requester, constants.APIPathPackages, options)
}

// Get retrieves a specific package.
func (c *PackagesClient) Get(ctx context.Context, id string) (*jamf.Package, error) {
	resp, err := c.requester.ProAPIRequest(ctx, http.MethodGet, constants.APIPathPackages+"/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("getting package: %w", err)
	}

	var pkg jamf.Package

	err = resp.Decode(&pkg)
	if err != nil {
		return nil, fmt.Errorf("parsing package response: %w", err)
	}

	return &pkg, nil
}

// Create creates a package record.
func (c *PackagesClient) Create(ctx context.Context, pkg *jamf.Package) (*jamf.HrefResponse, error) {
	resp, err := c.requester.ProAPIRequest(ctx, http.MethodPost, constants.APIPathPackages, jamf.WithBody(pkg))
	if err != nil {
		return nil, fmt.Errorf("creating package: %w", err)
	}

	var href jamf.HrefResponse

	err = resp.Decode(&href)
	if err != nil {
		return nil, fmt.Errorf("parsing package create response: %w", err)
	}

	return &href, nil
}

// Delete deletes a package record. The file in the JCDS is left in place.
func (c *PackagesClient) Delete(ctx context.Context, id string) error {
	_, err := c.requester.ProAPIRequest(ctx, http.MethodDelete, constants.APIPathPackages+"/"+url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("deleting package: %w", err)
	}

	return nil
}

func validatePackageQuery(options jamf.PaginationOptions) error {
	if !options.Filter.IsZero() {
		err := options.Filter.ValidateFields(jamf.PackageFilterFields)
		if err != nil {
			return fmt.Errorf("invalid package filter: %w", err)
		}
	}

	if !options.Sort.IsZero() {
		err := options.Sort.ValidateFields(jamf.PackageSortFields)
		if err != nil {
			return fmt.Errorf("invalid package sort: %w", err)
		}
	}

	return nil
}

var _ jamf.PackagesClient = (*PackagesClient)(nil)

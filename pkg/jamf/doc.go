// Package jamf provides types, interfaces, and helpers for working with the
// Jamf Pro Classic and Pro APIs.
//
// # Overview
//
// The jamf package defines the configuration, token, and error types, the
// Client and AsyncClient interfaces, and the generic building blocks the
// clients are made of: a bounded-concurrency Dispatcher, a Paginator, filter
// and sort expressions, interceptors, and caches. A concrete implementation
// of the clients is provided by the jamfclient package.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/jamfpro/pkg/jamf"
//	  "github.com/fivetwenty-io/jamfpro/pkg/jamfclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := jamfclient.NewWithClientCredentials("example.jamfcloud.com", "id", "secret")
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  pkgs, err := cli.Packages().ListAll(ctx, jamf.PaginationOptions{
//	    PageSize: 200,
//	    Filter:   jamf.FilterField("packageName").Contains("Firefox"),
//	    Sort:     jamf.SortField("id").Asc(),
//	  })
//	  if err != nil { log.Fatal(err) }
//	  _ = pkgs
//	}
//
// # Concurrency
//
// Dispatch fans a handler out over a slice of arguments with at most
// SessionConfig.MaxConcurrency invocations in flight and returns results in
// argument order:
//
//	results, err := jamf.Dispatch(ctx, cli.Dispatcher(),
//	  func(ctx context.Context, args jamf.Args[string]) (*jamf.Response, error) {
//	    return cli.ProAPIRequest(ctx, http.MethodGet, "v1/packages/"+args.Value())
//	  },
//	  jamf.PositionalArgs("1", "2", "3"),
//	)
//
// By default the first failure cancels the dispatch and is returned as a
// *ConcurrencyError. With WithCollectErrors(true) every failure is recorded
// at its position instead.
//
// # Errors
//
// Failures are reported as *AuthenticationError, *APIRequestError,
// *TransferError, *ConcurrencyError, or *ConfigurationError. Helpers such as
// IsNotFound, IsUnauthorized, and IsForbidden branch on common cases.
package jamf

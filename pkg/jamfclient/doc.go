// Package jamfclient provides the primary entry point for constructing a
// Jamf Pro API client that implements the jamf.Client or jamf.AsyncClient
// interface.
//
// It layers configuration, HTTP transport, token management and the JCDS
// transfer engine on top of the interfaces and types defined in the jamf
// package.
//
// Quick start
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
//
//	  cli, err := jamfclient.New(ctx, &jamf.Config{
//	    Server:       "example.jamfcloud.com",
//	    ClientID:     "client-id",
//	    ClientSecret: "client-secret",
//	  })
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  packages, err := cli.Packages().ListAll(ctx, jamf.PaginationOptions{
//	    Filter: jamf.FilterField("fileName").Contains("Firefox"),
//	  })
//	  if err != nil { log.Fatal(err) }
//	  _ = packages
//
//	  // Fan requests out, at most Session.MaxConcurrency at a time.
//	  results, err := jamf.Dispatch(ctx, cli.Dispatcher(),
//	    func(ctx context.Context, args jamf.Args[string]) (*jamf.Package, error) {
//	      return cli.Packages().Get(ctx, args.Value())
//	    },
//	    jamf.PositionalArgs("1", "2", "3"),
//	  )
//	  _ = results
//	}
//
// # Blocking and async clients
//
// New returns a client whose dispatcher runs handlers on a worker pool and
// whose token refreshes are serialized with a mutex. NewAsync returns a
// client whose operations start immediately and return a jamf.Future; its
// dispatcher admits tasks through a semaphore and token refreshes can be
// abandoned by cancelling the waiting context.
//
// # Helpers
//
// The package also provides convenience constructors NewWithToken,
// NewWithClientCredentials, NewWithPassword, NewWithProvider and NewFromEnv
// that wrap New with the appropriate configuration.
package jamfclient

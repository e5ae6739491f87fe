package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// NewPackagesCommand creates the packages command group.
func NewPackagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "packages",
		Aliases: []string{"package", "pkg"},
		Short:   "Manage packages",
		Long:    "List and manage Jamf Pro packages and their files in the JCDS",
	}

	cmd.AddCommand(newPackagesListCommand())
	cmd.AddCommand(newPackagesGetCommand())
	cmd.AddCommand(newPackagesDeleteCommand())
	cmd.AddCommand(newPackagesUploadCommand())
	cmd.AddCommand(newPackagesDownloadCommand())

	return cmd
}

type listFlags struct {
	filter    string
	sort      string
	pageSize  int
	startPage int
	maxPages  int
}

// options parses the RSQL filter and sort flags.
func (f listFlags) options() (jamf.PaginationOptions, error) {
	options := jamf.PaginationOptions{
		PageSize:  f.pageSize,
		StartPage: f.startPage,
		MaxPages:  f.maxPages,
	}

	if f.filter != "" {
		filter, err := jamf.ParseFilter(f.filter)
		if err != nil {
			return options, err
		}

		options.Filter = filter
	}

	if f.sort != "" {
		sort, err := jamf.ParseSort(f.sort)
		if err != nil {
			return options, err
		}

		options.Sort = sort
	}

	return options, nil
}

func newPackagesListCommand() *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages",
		Long:  "List packages, following pages until the collection is exhausted",
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := flags.options()
			if err != nil {
				return err
			}

			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			packages, err := session.client.Packages().ListAll(cmd.Context(), options)
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), packages, func(table *tablewriter.Table) {
				table.Header("ID", "Name", "File Name", "Category", "Size")

				for _, pkg := range packages {
					_ = table.Append(packageRow(pkg))
				}
			})
		},
	}

	cmd.Flags().StringVar(&flags.filter, "filter", "", `RSQL filter, e.g. 'fileName=="Firefox*"'`)
	cmd.Flags().StringVar(&flags.sort, "sort", "", "sort expression, e.g. 'packageName:asc,id:desc'")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", constants.DefaultPageSize, "results per page")
	cmd.Flags().IntVar(&flags.startPage, "start-page", 0, "zero-based page to start from")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "stop after this many pages (0 for all)")

	return cmd
}

func packageRow(pkg jamf.Package) []string {
	return []string{
		pkg.ID,
		pkg.PackageName,
		pkg.FileName,
		valueOrNA(pkg.CategoryID),
		valueOrNA(pkg.Size),
	}
}

func newPackagesGetCommand() *cobra.Command {
	var collectErrors bool

	cmd := &cobra.Command{
		Use:   "get ID [ID...]",
		Short: "Get packages by ID",
		Long: `Fetch one or more packages concurrently. By default the first failure
stops the remaining requests; --collect-errors reports every failure instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			packages, failures, err := getPackages(cmd.Context(), session.client, args, collectErrors)
			if err != nil {
				return err
			}

			err = writeOutput(cmd.OutOrStdout(), packages, func(table *tablewriter.Table) {
				table.Header("ID", "Name", "File Name", "Category", "Size")

				for _, pkg := range packages {
					_ = table.Append(packageRow(*pkg))
				}
			})
			if err != nil {
				return err
			}

			return errors.Join(failures...)
		},
	}

	cmd.Flags().BoolVar(&collectErrors, "collect-errors", false, "report every failed ID instead of stopping at the first")

	return cmd
}

// getPackages fans the lookups out over the client's dispatcher.
func getPackages(ctx context.Context, client jamf.Client, ids []string, collectErrors bool) ([]*jamf.Package, []error, error) {
	results, err := jamf.Dispatch(ctx, client.Dispatcher(),
		func(ctx context.Context, args jamf.Args[string]) (*jamf.Package, error) {
			return client.Packages().Get(ctx, args.Value())
		},
		jamf.PositionalArgs(ids...),
		jamf.WithCollectErrors(collectErrors),
	)
	if err != nil {
		return nil, nil, err
	}

	packages := make([]*jamf.Package, 0, len(results))

	var failures []error

	for _, result := range results {
		if !result.OK() {
			failures = append(failures, fmt.Errorf("package %s: %w", ids[result.Index], result.Err))

			continue
		}

		packages = append(packages, result.Value)
	}

	return packages, failures, nil
}

func newPackagesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a package record",
		Long:  "Delete a package record. The file stored in the JCDS is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			err = session.client.Packages().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted package %s\n", args[0])

			return nil
		},
	}
}

func newPackagesUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a package file to the JCDS",
		Long: `Upload a file to the Jamf Cloud Distribution Service and create a package
record for it. Files of 1 GiB and more are uploaded in parts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			result, err := session.client.JCDS2().UploadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), result, func(table *tablewriter.Table) {
				table.Header("Property", "Value")
				_ = table.Append("Object", result.ObjectKey)
				_ = table.Append("Size", formatBytes(result.SizeBytes))
				_ = table.Append("Parts", intString(result.PartCount))

				if result.Package != nil {
					_ = table.Append("Package ID", result.Package.ID)
				}

				for _, collision := range result.Collisions {
					_ = table.Append("Same file name", collision.ID+" "+collision.PackageName)
				}
			})
		},
	}
}

func newPackagesDownloadCommand() *cobra.Command {
	var destination string

	cmd := &cobra.Command{
		Use:   "download FILE_NAME",
		Short: "Download a package file from the JCDS",
		Long:  "Download a file from the JCDS with concurrent ranged reads. Existing files are never overwritten.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if filepath.Base(args[0]) != args[0] {
				return fmt.Errorf("%w: %s", constants.ErrDirectoryTraversalDetected, args[0])
			}

			session, err := newClient(cmd.Context())
			if err != nil {
				return err
			}
			defer session.Close()

			path, err := session.client.JCDS2().DownloadFile(cmd.Context(), args[0], destination)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\n", args[0], path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&destination, "dest", "d", ".", "destination file or directory")

	return cmd
}

package constants

import "errors"

// Configuration errors.
var (
	ErrNoServerConfigured = errors.New("no Jamf Pro server configured, use --server or 'jamf config set server <host>'")
	ErrNoCredentials      = errors.New("no credentials configured, set a client ID/secret or a username")
	ErrUnknownConfigKey   = errors.New("unknown configuration key")
)

// File system errors.
var (
	ErrNotRegularFile             = errors.New("path is not a regular file")
	ErrDirectoryTraversalDetected = errors.New("directory traversal detected in file path")
)

// Output errors.
var (
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
)

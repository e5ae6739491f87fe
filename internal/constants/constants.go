package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600

	// DownloadFilePerm is the permission for files written by downloads.
	DownloadFilePerm = 0644
)

// Server defaults.
const (
	// DefaultScheme is the URL scheme used when none is configured.
	DefaultScheme = "https"

	// DefaultPort is the Jamf Pro port used when none is configured.
	DefaultPort = 443

	// UserAgentPrefix is prepended to the library version in the User-Agent header.
	UserAgentPrefix = "jamfpro-go"

	// Version is the library version reported in the User-Agent header.
	Version = "0.1.0"
)

// HTTP and network timeouts.
const (
	// DefaultRequestTimeout is the default timeout for a single HTTP request.
	DefaultRequestTimeout = 60 * time.Second

	// ShortHTTPTimeout is used for quick operations such as token exchanges.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits. Retries are opt-in; the default client never retries.
const (
	// DefaultRetryWaitMin is the minimum wait between opt-in retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait between opt-in retries.
	DefaultRetryWaitMax = 30 * time.Second

	// ChunkReadAttempts is how many times a download chunk is requested before giving up.
	ChunkReadAttempts = 3

	// ChunkRetryWait is the pause between attempts of a failed chunk read.
	ChunkRetryWait = 500 * time.Millisecond
)

// Concurrency limits.
const (
	// DefaultMaxConcurrency is the default number of in-flight handler invocations.
	DefaultMaxConcurrency = 5

	// DownloadConcurrency caps concurrent ranged reads of a single download.
	DownloadConcurrency = 5

	// DefaultReadAhead is the number of pages prefetched by streamed pagination.
	DefaultReadAhead = 1
)

// Token lifecycle.
const (
	// TokenSafetyMargin is how long before expiry a token is considered stale.
	TokenSafetyMargin = 60 * time.Second

	// TokenCacheKeyPrefix prefixes keys of persisted tokens.
	TokenCacheKeyPrefix = "jamf.token"
)

// Transfer sizes.
const (
	// MultipartThreshold is the object size at which uploads switch to multipart (1 GiB).
	MultipartThreshold int64 = 1 << 30

	// UploadPartSize is the size of each multipart upload part (20 MiB).
	UploadPartSize int64 = 20 << 20

	// DownloadChunkSize is the size of each ranged read (20 MiB).
	DownloadChunkSize int64 = 20 << 20
)

// Pagination.
const (
	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 100

	// MaxPageSize is the largest page size the Pro API accepts.
	MaxPageSize = 2000
)

// Cache sizing.
const (
	// DefaultCacheSize is the default number of entries held by a memory cache.
	DefaultCacheSize = 100

	// DefaultNATSBucket is the JetStream KV bucket used for shared token storage.
	DefaultNATSBucket = "jamf_tokens"
)

// API paths.
const (
	// ProAPIPrefix is the path prefix of the Jamf Pro API.
	ProAPIPrefix = "/api/"

	// ClassicAPIPrefix is the path prefix of the Classic API.
	ClassicAPIPrefix = "/JSSResource/"

	// APIPathUserToken issues a bearer token for basic credentials.
	APIPathUserToken = "/api/v1/auth/token"

	// APIPathKeepAlive extends the lifetime of a user bearer token.
	APIPathKeepAlive = "/api/v1/auth/keep-alive"

	// APIPathOAuthToken issues a token for an API client.
	APIPathOAuthToken = "/api/oauth/token"

	// APIPathPackages is the Pro API packages collection.
	APIPathPackages = "v1/packages"

	// APIPathJCDSFiles is the Pro API JCDS file collection.
	APIPathJCDSFiles = "v1/jcds/files"
)

// Format constants.
const (
	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"

	// FormatTable for table output format.
	FormatTable = "table"
)

// UI and display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"

	// TokenPreviewLength is how many characters of a token are shown unmasked.
	TokenPreviewLength = 8
)

// CLI constants.
const (
	// MinimumArgumentCount is the number of arguments of "config set".
	MinimumArgumentCount = 2

	// ConfigDirName is the directory under $HOME holding the CLI configuration.
	ConfigDirName = ".jamf"

	// ConfigFileName is the CLI configuration file inside ConfigDirName.
	ConfigFileName = "config.yml"

	// EnvPrefix prefixes environment variables read by the CLI.
	EnvPrefix = "JAMF"
)

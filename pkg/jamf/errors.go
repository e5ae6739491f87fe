package jamf

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Static errors for err113 compliance.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTokenRefreshFailed    = errors.New("token refresh failed")
	ErrStaticTokenNoRefresh  = errors.New("static token cannot be refreshed")
	ErrServerRequired        = errors.New("server is required")
	ErrConfigRequired        = errors.New("config is required")
	ErrInvalidMaxConcurrency = errors.New("max concurrency must be greater than zero")
	ErrInvalidTimeout        = errors.New("request timeout must not be negative")
	ErrUnsupportedScheme     = errors.New("unsupported URL scheme")
	ErrNoMoreItems           = errors.New("no more items")
	ErrFileNotFound          = errors.New("file does not exist in the JCDS")
	ErrDestinationExists     = errors.New("a file or directory at the download path already exists")
	ErrPartCountMismatch     = errors.New("part count mismatch")
	ErrChunkLengthMismatch   = errors.New("chunk length mismatch")
	ErrSizeMismatch          = errors.New("downloaded size does not match object size")
	ErrMissingContentLength  = errors.New("response has no Content-Length")
	ErrClientClosed          = errors.New("client is closed")
	ErrInvalidPort           = errors.New("port must be a positive integer")
)

// AuthenticationError reports a failure to obtain or use an access token.
type AuthenticationError struct {
	// Op names the step that failed, e.g. "refresh" or "request".
	Op string
	// StatusCode is set when the failure came from an HTTP response.
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// APIErrorDetail is a single entry of a Pro API error body.
type APIErrorDetail struct {
	Code        string `json:"code"        yaml:"code"`
	Field       string `json:"field"       yaml:"field"`
	Description string `json:"description" yaml:"description"`
	ID          string `json:"id"          yaml:"id"`
}

// APIRequestError represents a non-2xx response from Jamf Pro.
type APIRequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	// Errors holds the parsed Pro API error entries, if the body had any.
	Errors []APIErrorDetail
}

// NewAPIRequestError builds an APIRequestError and parses the body when it is a Pro API error document.
func NewAPIRequestError(method, path string, statusCode int, body []byte) *APIRequestError {
	apiErr := &APIRequestError{
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Body:       body,
	}

	var doc struct {
		HTTPStatus int              `json:"httpStatus"`
		Errors     []APIErrorDetail `json:"errors"`
	}

	if json.Unmarshal(body, &doc) == nil {
		apiErr.Errors = doc.Errors
	}

	return apiErr
}

// Error implements the error interface.
func (e *APIRequestError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))

	if len(e.Errors) > 0 {
		descriptions := make([]string, 0, len(e.Errors))
		for _, detail := range e.Errors {
			descriptions = append(descriptions, detail.Description)
		}

		return msg + ": " + strings.Join(descriptions, "; ")
	}

	if len(e.Body) > 0 {
		return msg + ": " + truncate(string(e.Body), 256)
	}

	return msg
}

// TransferError reports a failed chunked upload or download.
type TransferError struct {
	// Op is the failing step, e.g. "upload-part", "complete", "download-chunk".
	Op     string
	Object string
	// Part is the 1-based multipart part number, 0 when not applicable.
	Part int
	// Chunk is the 0-based download chunk index, -1 when not applicable.
	Chunk int
	Err   error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	switch {
	case e.Part > 0:
		return fmt.Sprintf("transfer %s of %q failed at part %d: %v", e.Op, e.Object, e.Part, e.Err)
	case e.Chunk >= 0:
		return fmt.Sprintf("transfer %s of %q failed at chunk %d: %v", e.Op, e.Object, e.Chunk, e.Err)
	default:
		return fmt.Sprintf("transfer %s of %q failed: %v", e.Op, e.Object, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// ConcurrencyError is raised by a fail-fast dispatch. It carries the first
// failure and how many sibling invocations were cancelled or discarded.
type ConcurrencyError struct {
	Index     int
	Cancelled int
	Err       error
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("dispatch failed at argument %d (%d cancelled): %v", e.Index, e.Cancelled, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if the error is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized checks if the error is a 401 response or an authentication failure.
func IsUnauthorized(err error) bool {
	authErr := &AuthenticationError{}
	if errors.As(err, &authErr) {
		return true
	}

	return hasStatus(err, http.StatusUnauthorized)
}

// IsForbidden checks if the error is a 403 response.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, status int) bool {
	apiErr := &APIRequestError{}
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}

	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}

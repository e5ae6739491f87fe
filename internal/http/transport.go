package http

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrNoCertificates     = errors.New("no PEM certificates found")
	ErrMalformedCookieRow = errors.New("malformed cookie line")
)

const httpOnlyPrefix = "#HttpOnly_"

// NewTransport builds the pooled transport of one client. The idle pool is
// sized from MaxConcurrency so a full dispatch reuses its connections.
func NewTransport(session jamf.SessionConfig) (*http.Transport, error) {
	transport := cleanhttp.DefaultPooledTransport()

	if session.MaxConcurrency > 0 {
		transport.MaxIdleConnsPerHost = session.MaxConcurrency
		transport.MaxIdleConns = max(transport.MaxIdleConns, 2*session.MaxConcurrency)
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !session.VerifyTLS, //nolint:gosec // opt-in for lab servers with self-signed certificates
	}

	if session.CACertBundle != "" {
		pool, err := loadCertPool(session.CACertBundle)
		if err != nil {
			return nil, err
		}

		tlsConfig.RootCAs = pool
	}

	transport.TLSClientConfig = tlsConfig

	return transport, nil
}

// loadCertPool appends the PEM bundle at path to the system roots.
func loadCertPool(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	pem, err := os.ReadFile(path) //nolint:gosec // path comes from the session configuration
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle: %w", err)
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w in %s", ErrNoCertificates, path)
	}

	return pool, nil
}

// LoadCookieJar reads a Netscape cookie file into a new jar. Lines starting
// with "#HttpOnly_" are HTTP-only cookies; other "#" lines are comments.
func LoadCookieJar(path string) (http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	file, err := os.Open(path) //nolint:gosec // path comes from the session configuration
	if err != nil {
		return nil, fmt.Errorf("opening cookie file: %w", err)
	}

	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())

		httpOnly := strings.HasPrefix(line, httpOnlyPrefix)
		if httpOnly {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cookieURL, cookie, err := parseCookieLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNumber, err)
		}

		cookie.HttpOnly = httpOnly
		jar.SetCookies(cookieURL, []*http.Cookie{cookie})
	}

	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}

	return jar, nil
}

// parseCookieLine parses "domain flag path secure expiry name value".
func parseCookieLine(line string) (*url.URL, *http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, nil, fmt.Errorf("%w: expected 7 fields, got %d", ErrMalformedCookieRow, len(fields))
	}

	domain := fields[0]
	secure := strings.EqualFold(fields[3], "TRUE")

	expiry, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: expiry %q", ErrMalformedCookieRow, fields[4])
	}

	cookie := &http.Cookie{
		Name:   fields[5],
		Value:  fields[6],
		Path:   fields[2],
		Secure: secure,
	}

	// A leading dot or the subdomain flag makes it a domain cookie.
	if strings.HasPrefix(domain, ".") || strings.EqualFold(fields[1], "TRUE") {
		cookie.Domain = domain
	}

	if expiry > 0 {
		cookie.Expires = time.Unix(expiry, 0)
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	return &url.URL{Scheme: scheme, Host: strings.TrimPrefix(domain, "."), Path: "/"}, cookie, nil
}

package jamf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by CredentialsFromEnv.
const (
	EnvServer       = "JAMF_SERVER"
	EnvPort         = "JAMF_PORT"
	EnvClientID     = "JAMF_CLIENT_ID"
	EnvClientSecret = "JAMF_CLIENT_SECRET"
	EnvUsername     = "JAMF_USERNAME"
	EnvPassword     = "JAMF_PASSWORD"
	EnvAccessToken  = "JAMF_ACCESS_TOKEN"
)

// CredentialsFromEnv builds a Config from the JAMF_* environment variables.
// Unset variables leave the matching field empty, so the usual
// authentication precedence applies to whatever is present.
func CredentialsFromEnv() (*Config, error) {
	config := &Config{
		Server:       strings.TrimSpace(os.Getenv(EnvServer)),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		Username:     os.Getenv(EnvUsername),
		Password:     os.Getenv(EnvPassword),
		AccessToken:  os.Getenv(EnvAccessToken),
	}

	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 {
			return nil, &ConfigurationError{Field: "port", Err: fmt.Errorf("%w: %s=%q", ErrInvalidPort, EnvPort, raw)}
		}

		config.Port = port
	}

	return config, nil
}

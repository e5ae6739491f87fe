package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Config represents the CLI configuration. Passwords and access tokens are
// never written to disk; they come from JAMF_PASSWORD, JAMF_ACCESS_TOKEN or a prompt.
type Config struct {
	Server       string `json:"server,omitempty"        yaml:"server,omitempty"`
	Port         int    `json:"port,omitempty"          yaml:"port,omitempty"`
	ClientID     string `json:"client_id,omitempty"     yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"      yaml:"username,omitempty"`

	Output         string        `json:"output"                    yaml:"output"`
	MaxConcurrency int           `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	RetryMax       int           `json:"retry_max,omitempty"       yaml:"retry_max,omitempty"`
	RateLimit      float64       `json:"rate_limit,omitempty"      yaml:"rate_limit,omitempty"`
	VerifyTLS      bool          `json:"verify_tls"                yaml:"verify_tls"`
	CACertBundle   string        `json:"ca_cert_bundle,omitempty"  yaml:"ca_cert_bundle,omitempty"`
	NATSURL        string        `json:"nats_url,omitempty"        yaml:"nats_url,omitempty"`
	TokenCache     string        `json:"token_cache,omitempty"     yaml:"token_cache,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Manage the Jamf CLI configuration stored in ~/.jamf/config.yml",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective CLI configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			config.ClientSecret = maskSecret(config.ClientSecret)

			return writeOutput(cmd.OutOrStdout(), config, func(table *tablewriter.Table) {
				table.Header("Property", "Value")
				addConfigRows(table, config)
			})
		},
	}
}

func addConfigRows(table *tablewriter.Table, config *Config) {
	rows := [][]string{
		{"Server", valueOrNA(config.Server)},
		{"Port", valueOrNA(intString(config.Port))},
		{"Client ID", valueOrNA(config.ClientID)},
		{"Client Secret", valueOrNA(config.ClientSecret)},
		{"Username", valueOrNA(config.Username)},
		{"Output", valueOrNA(config.Output)},
		{"Max Concurrency", valueOrNA(intString(config.MaxConcurrency))},
		{"Request Timeout", valueOrNA(durationString(config.RequestTimeout))},
		{"Retry Max", valueOrNA(intString(config.RetryMax))},
		{"Verify TLS", strconv.FormatBool(config.VerifyTLS)},
		{"CA Cert Bundle", valueOrNA(config.CACertBundle)},
		{"NATS URL", valueOrNA(config.NATSURL)},
		{"Token Cache", valueOrNA(config.TokenCache)},
	}

	for _, row := range rows {
		_ = table.Append(row)
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value. Keys: server, port, client_id, client_secret,
username, output, max_concurrency, request_timeout, retry_max, rate_limit,
verify_tls, ca_cert_bundle, nats_url, token_cache.`,
		Args: cobra.ExactArgs(constants.MinimumArgumentCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			config := loadConfig()

			err := setConfigValue(config, key, value)
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if key == "client_secret" {
				value = maskSecret(value)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)

			return nil
		},
	}
}

// loadConfig reads the CLI configuration from viper.
func loadConfig() *Config {
	return &Config{
		Server:         viper.GetString("server"),
		Port:           viper.GetInt("port"),
		ClientID:       viper.GetString("client_id"),
		ClientSecret:   viper.GetString("client_secret"),
		Username:       viper.GetString("username"),
		Output:         viper.GetString("output"),
		MaxConcurrency: viper.GetInt("max_concurrency"),
		RequestTimeout: viper.GetDuration("request_timeout"),
		RetryMax:       viper.GetInt("retry_max"),
		RateLimit:      viper.GetFloat64("rate_limit"),
		VerifyTLS:      viper.GetBool("verify_tls"),
		CACertBundle:   viper.GetString("ca_cert_bundle"),
		NATSURL:        viper.GetString("nats_url"),
		TokenCache:     viper.GetString("token_cache"),
	}
}

// setConfigValue parses value into the field named key.
func setConfigValue(config *Config, key, value string) error {
	var err error

	switch key {
	case "server":
		config.Server = value
	case "port":
		config.Port, err = strconv.Atoi(value)
	case "client_id":
		config.ClientID = value
	case "client_secret":
		config.ClientSecret = value
	case "username":
		config.Username = value
	case "output":
		switch value {
		case constants.FormatTable, constants.FormatJSON, constants.FormatYAML:
			config.Output = value
		default:
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedOutputFormat, value)
		}
	case "max_concurrency":
		config.MaxConcurrency, err = strconv.Atoi(value)
	case "request_timeout":
		config.RequestTimeout, err = time.ParseDuration(value)
	case "retry_max":
		config.RetryMax, err = strconv.Atoi(value)
	case "rate_limit":
		config.RateLimit, err = strconv.ParseFloat(value, 64)
	case "verify_tls":
		config.VerifyTLS, err = strconv.ParseBool(value)
	case "ca_cert_bundle":
		info, statErr := os.Stat(value)
		if statErr != nil {
			return fmt.Errorf("invalid value for %s: %w", key, statErr)
		}

		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", constants.ErrNotRegularFile, value)
		}

		config.CACertBundle = value
	case "nats_url":
		config.NATSURL = value
	case "token_cache":
		switch jamf.CacheType(value) {
		case jamf.CacheTypeMemory, jamf.CacheTypeNATS, jamf.CacheTypeNone:
			config.TokenCache = value
		default:
			return fmt.Errorf("%w: %s", jamf.ErrUnsupportedCacheType, value)
		}
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
	}

	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	return nil
}

// configFilePath returns the file viper read, or the default location.
func configFilePath() (string, error) {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		return configFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, constants.ConfigDirName, constants.ConfigFileName), nil
}

func saveConfigStruct(config *Config) error {
	configFile, err := configFilePath()
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(configFile, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func valueOrNA(value string) string {
	if value == "" {
		return constants.NotAvailable
	}

	return value
}

func intString(n int) string {
	if n == 0 {
		return ""
	}

	return strconv.Itoa(n)
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}

	return d.String()
}

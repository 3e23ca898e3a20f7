// Package config loads clinops configuration. Precedence, highest first:
// command-line flags, CLINOPS_* environment variables, the config file
// (.clinops.yml in the working directory or ~/.config/clinops/config.yml),
// then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const xdgAppName = "clinops"

var (
	ErrNoGoogleProject = errors.New("config: google.project is not set")
	ErrNoVikunja       = errors.New("config: vikunja.url and vikunja.token are not set")
)

// Config is the full clinops configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
	EnvFile   string `mapstructure:"env_file" validate:"required"`

	Google  GoogleConfig  `mapstructure:"google"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Vikunja VikunjaConfig `mapstructure:"vikunja"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
}

// GoogleConfig selects the GCP project and, optionally, a service account
// key file. With no credentials file, Application Default Credentials apply.
type GoogleConfig struct {
	Project         string `mapstructure:"project"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SecretsConfig shapes how .env keys map onto Secret Manager secrets.
type SecretsConfig struct {
	// Prefix is prepended to every secret name, e.g. "clinic_" turns
	// DATABASE_URL into clinic_DATABASE_URL.
	Prefix string `mapstructure:"prefix"`
	// Exclude lists .env keys that must never leave the machine.
	Exclude []string `mapstructure:"exclude"`
}

// VikunjaConfig points at the task-tracking instance used for agent
// coordination.
type VikunjaConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

// ScanConfig tunes the credential scanner.
type ScanConfig struct {
	// Allow holds regular expressions; a line matching any of them is
	// never reported.
	Allow []string `mapstructure:"allow"`
}

// DeployConfig locates the deployment manifest.
type DeployConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// Load reads configuration from cfgFile (or the default search path when
// empty) layered under CLINOPS_* environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Every key needs a default registered, or AutomaticEnv will not
	// surface its CLINOPS_* variable through Unmarshal.
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("env_file", ".env")
	v.SetDefault("google.project", "")
	v.SetDefault("google.credentials_file", "")
	v.SetDefault("secrets.prefix", "")
	v.SetDefault("secrets.exclude", []string{})
	v.SetDefault("vikunja.url", "")
	v.SetDefault("vikunja.token", "")
	v.SetDefault("scan.allow", []string{})
	v.SetDefault("deploy.manifest", "deploy.yml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".clinops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("CLINOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
		// Missing config file is fine: env vars and defaults still apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// RequireGoogle fails when the Secret Manager side of the config is absent.
func (c *Config) RequireGoogle() error {
	if c.Google.Project == "" {
		return ErrNoGoogleProject
	}
	return nil
}

// RequireVikunja fails when the task-tracker side of the config is absent.
func (c *Config) RequireVikunja() error {
	if c.Vikunja.URL == "" || c.Vikunja.Token == "" {
		return ErrNoVikunja
	}
	return nil
}

// Dir returns the clinops state directory (~/.config/clinops). Local state
// tables and caches live here.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

// StatePath joins name onto the state directory and ensures the directory
// exists.
func StatePath(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("config: creating state dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}

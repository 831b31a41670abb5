package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Kubernetes configuration
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`

	// Checkmk site configuration
	Checkmk CheckmkConfig `mapstructure:"checkmk"`

	// Extraction configuration
	Extraction ExtractionConfig `mapstructure:"extraction"`

	// Application configuration
	App AppConfig `mapstructure:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Port is the HTTP server port
	Port string `mapstructure:"port"`

	// ShutdownTimeout is the timeout for server shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds one history request
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// KubernetesConfig holds Kubernetes client configuration
type KubernetesConfig struct {
	// Namespace is the namespace of the credential secret
	Namespace string `mapstructure:"namespace"`

	// ConfigPath is the path to the kubeconfig file
	ConfigPath string `mapstructure:"config_path"`

	// MasterURL is the Kubernetes API server URL
	MasterURL string `mapstructure:"master_url"`
}

// CheckmkConfig holds the site connection configuration
type CheckmkConfig struct {
	// CredentialSource is "config" for inline credentials or "kubernetes" for a Secret
	CredentialSource string `mapstructure:"credential_source"`

	// SecretName names the credential secret
	SecretName string `mapstructure:"secret_name"`

	// ServerRoot is the site's server URL, e.g. https://monitoring.example.com
	ServerRoot string `mapstructure:"server_root"`

	// Site is the Checkmk site name
	Site string `mapstructure:"site"`

	// Username is the GUI or automation user
	Username string `mapstructure:"username"`

	// Password is used for the GUI form login
	Password string `mapstructure:"password"`

	// Secret is the automation secret, used instead of a password
	Secret string `mapstructure:"secret"`

	// Timeout bounds every HTTP call against the site
	Timeout time.Duration `mapstructure:"timeout"`

	// InsecureSkipVerify disables TLS verification
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// LoginRetryInterval is the pause before the single reachability retry
	LoginRetryInterval time.Duration `mapstructure:"login_retry_interval"`
}

// ExtractionConfig holds pipeline tuning
type ExtractionConfig struct {
	// MinValue and MaxValue bound accepted values
	MinValue float64 `mapstructure:"min_value"`
	MaxValue float64 `mapstructure:"max_value"`

	// MinPageBytes is the smallest plausible graph page
	MinPageBytes int `mapstructure:"min_page_bytes"`

	// OverallTimeout bounds one extraction, zero for none
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`

	// AlternateURLCacheTTL is how long a working alternate URL is remembered
	AlternateURLCacheTTL time.Duration `mapstructure:"alternate_url_cache_ttl"`

	// DefaultPeriod is used when a request names none
	DefaultPeriod string `mapstructure:"default_period"`
}

// AppConfig holds application configuration
type AppConfig struct {
	// Component is the name of the component
	Component string `mapstructure:"component"`

	// LogLevel is the log level
	LogLevel string `mapstructure:"log_level"`

	// LogJSON selects JSON log output
	LogJSON bool `mapstructure:"log_json"`
}

// Credentials returns the inline credentials keyed like a credential secret
func (c *CheckmkConfig) Credentials() map[string]string {
	return map[string]string{
		bdomain.KeyServerRoot: c.ServerRoot,
		bdomain.KeySite:       c.Site,
		bdomain.KeyUsername:   c.Username,
		bdomain.KeyPassword:   c.Password,
		bdomain.KeySecret:     c.Secret,
	}
}

// Load loads configuration from the default locations and environment
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from configFile, or from the default
// locations when configFile is empty
func LoadFile(configFile string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure paths and file types
	configureViper(v, configFile)

	// Read configs file
	if err := readConfigs(v, configFile != ""); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configs: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// configureViper sets up Viper configuration paths and types
func configureViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/cmk-history/")
	}

	// Enable environment variables, e.g. CMK_HISTORY_CHECKMK_PASSWORD
	v.SetEnvPrefix("CMK_HISTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// readConfigs attempts to read the configuration file. A missing default
// file is fine; a missing explicit one is not.
func readConfigs(v *viper.Viper, explicit bool) error {
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read configs file: %w", err)
		}
		// Otherwise, continue with defaults and environment variables
	}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate server configuration
	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	// Validate Checkmk configuration
	switch cfg.Checkmk.CredentialSource {
	case "config":
		if cfg.Checkmk.ServerRoot == "" || cfg.Checkmk.Site == "" {
			return fmt.Errorf("checkmk.server_root and checkmk.site are required for credential source %q",
				cfg.Checkmk.CredentialSource)
		}
	case "kubernetes":
		if cfg.Kubernetes.Namespace == "" {
			return fmt.Errorf("kubernetes.namespace is required for credential source %q",
				cfg.Checkmk.CredentialSource)
		}
	default:
		return fmt.Errorf("checkmk.credential_source must be \"config\" or \"kubernetes\", got %q",
			cfg.Checkmk.CredentialSource)
	}
	if cfg.Checkmk.SecretName == "" {
		return fmt.Errorf("checkmk.secret_name is required")
	}
	if cfg.Checkmk.Timeout <= 0 {
		return fmt.Errorf("checkmk.timeout must be positive")
	}

	// Validate extraction configuration
	if cfg.Extraction.MinValue >= cfg.Extraction.MaxValue {
		return fmt.Errorf("extraction.min_value must be below extraction.max_value")
	}
	if cfg.Extraction.MinPageBytes < 0 {
		return fmt.Errorf("extraction.min_page_bytes cannot be negative")
	}
	if cfg.Extraction.OverallTimeout < 0 {
		return fmt.Errorf("extraction.overall_timeout cannot be negative")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 2*time.Minute)

	// Kubernetes defaults
	v.SetDefault("kubernetes.namespace", "default")

	// Checkmk defaults
	v.SetDefault("checkmk.credential_source", "config")
	v.SetDefault("checkmk.secret_name", "checkmk-credentials")
	v.SetDefault("checkmk.server_root", "")
	v.SetDefault("checkmk.site", "")
	v.SetDefault("checkmk.username", "")
	v.SetDefault("checkmk.password", "")
	v.SetDefault("checkmk.secret", "")
	v.SetDefault("checkmk.timeout", 30*time.Second)
	v.SetDefault("checkmk.insecure_skip_verify", false)
	v.SetDefault("checkmk.login_retry_interval", time.Second)

	// Extraction defaults
	v.SetDefault("extraction.min_value", -100.0)
	v.SetDefault("extraction.max_value", 200.0)
	v.SetDefault("extraction.min_page_bytes", 512)
	v.SetDefault("extraction.overall_timeout", 0)
	v.SetDefault("extraction.alternate_url_cache_ttl", 10*time.Minute)
	v.SetDefault("extraction.default_period", "4h")

	// App defaults
	v.SetDefault("app.component", "cmk-history")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_json", true)
}

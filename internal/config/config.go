package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Public OAuth client shipped with the Gemini CLI. Stored credential rows
// carry their own pair; these serve as the fallback and for the browser
// onboarding flow.
const (
	DefaultOAuthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	DefaultOAuthClientSecret = "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"
)

// DefaultCodeAssistEndpoint is the Code Assist API base URL.
const DefaultCodeAssistEndpoint = "https://cloudcode-pa.googleapis.com"

// Config holds all runtime settings. File values override defaults,
// environment variables override the file.
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// NexusKey authenticates inbound API calls (header, bearer or query).
	NexusKey string `yaml:"nexus_key" json:"nexus_key"`
	// DatabaseURL is the Postgres DSN for the credential store.
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// Proxy routes outbound token and upstream traffic when set.
	Proxy string `yaml:"proxy" json:"proxy"`
	// EnableMultiplexing switches outbound clients from one-shot HTTP/1.1
	// connections to pooled HTTP/2.
	EnableMultiplexing bool `yaml:"enable_multiplexing" json:"enable_multiplexing"`

	// RefreshConcurrency sets the refresh pipeline worker count (min 1).
	RefreshConcurrency int `yaml:"refresh_concurrency" json:"refresh_concurrency"`
	// ModelList names the models served; each gets its own rotation queue.
	ModelList []string `yaml:"model_list" json:"model_list"`

	// CredPath points at a directory of credential JSON files.
	CredPath string `yaml:"cred_path" json:"cred_path"`
	// LoadCred ingests CredPath at startup.
	LoadCred bool `yaml:"load_cred" json:"load_cred"`
	// WatchCred submits credential files dropped into CredPath at runtime.
	WatchCred bool `yaml:"watch_cred" json:"watch_cred"`

	LogLevel string `yaml:"loglevel" json:"loglevel"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	OAuthClientID     string `yaml:"oauth_client_id" json:"oauth_client_id"`
	OAuthClientSecret string `yaml:"oauth_client_secret" json:"oauth_client_secret"`
	OAuthRedirectURL  string `yaml:"oauth_redirect_url" json:"oauth_redirect_url"`

	CodeAssistEndpoint string `yaml:"code_assist_endpoint" json:"code_assist_endpoint"`

	// ManagementKey gates the admin API; plain text or a bcrypt hash.
	// Empty disables the admin surface.
	ManagementKey string `yaml:"management_key" json:"management_key"`

	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`
}

// Default returns a Config pre-filled with every default; file and env
// merges run on top of it.
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8000,
		RefreshConcurrency: 4,
		ModelList:          []string{"gemini-2.5-pro", "gemini-2.5-flash"},
		LogLevel:           "info",
		OAuthClientID:      DefaultOAuthClientID,
		OAuthClientSecret:  DefaultOAuthClientSecret,
		OAuthRedirectURL:   "http://localhost:8000/auth/callback",
		CodeAssistEndpoint: DefaultCodeAssistEndpoint,
		MetricsEnabled:     true,
	}
}

// Load reads the optional config file at path, merges environment
// variables over it and validates the result. A missing file is not an
// error; env-only deployments are the common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshalByExt(path, data, cfg); err != nil {
				return nil, err
			}
			log.WithField("path", path).Info("configuration loaded")
		case os.IsNotExist(err):
			log.WithField("path", path).Debug("no config file, using defaults and environment")
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	mergeEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalByExt(path string, data []byte, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("failed to parse config file (tried YAML and JSON)")
			}
		}
	}
	return nil
}

// Validate enforces required settings and clamps out-of-range values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NexusKey) == "" {
		return fmt.Errorf("nexus_key is required")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if len(c.ModelList) == 0 {
		return fmt.Errorf("model_list must name at least one model")
	}
	if c.RefreshConcurrency < 1 {
		c.RefreshConcurrency = 1
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

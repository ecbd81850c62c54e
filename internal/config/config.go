// Package config loads the virtweb configuration: defaults, then a YAML
// file, then environment variables. Command-line flags are applied on top by
// the caller.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/safety"
)

// DefaultPath is read when neither --config nor VIRTWEB_CONFIG_PATH is set.
const DefaultPath = "/etc/virtweb/config.yaml"

// Environment variables.
const (
	EnvConfigPath  = "VIRTWEB_CONFIG_PATH"
	EnvURI         = "VIRTWEB_URI"
	EnvListen      = "VIRTWEB_LISTEN"
	EnvAuthToken   = "VIRTWEB_AUTH_TOKEN"
	EnvStoragePool = "VIRTWEB_STORAGE_POOL"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
	// AuthToken enables bearer authentication on /api and /mcp when set.
	AuthToken string `yaml:"auth_token"`
}

// BackendConfig describes how to reach libvirtd.
type BackendConfig struct {
	URI                   string `yaml:"uri"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	CallTimeoutSeconds    int    `yaml:"call_timeout_seconds"`
	// MaxConnections caps concurrently open connections; 0 is unlimited.
	MaxConnections int  `yaml:"max_connections"`
	ConnectRetry   bool `yaml:"connect_retry"`
}

// ConnectTimeout returns ConnectTimeoutSeconds as a duration.
func (b BackendConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSeconds) * time.Second
}

// CallTimeout returns CallTimeoutSeconds as a duration. Zero disables the
// bound.
func (b BackendConfig) CallTimeout() time.Duration {
	if b.CallTimeoutSeconds == 0 {
		return -1
	}
	return time.Duration(b.CallTimeoutSeconds) * time.Second
}

// StorageConfig holds storage listing settings.
type StorageConfig struct {
	Pool string `yaml:"pool"`
}

// ListingConfig sets the per-item failure policy of each listing.
type ListingConfig struct {
	VM        string `yaml:"vm"`
	Volume    string `yaml:"volume"`
	Interface string `yaml:"interface"`
}

// Policies parses the three listing policies.
func (l ListingConfig) Policies() (vm, volume, iface hypervisor.ItemPolicy, err error) {
	if vm, err = hypervisor.ParsePolicy(l.VM, hypervisor.PolicyDegrade); err != nil {
		return "", "", "", fmt.Errorf("listing.vm: %w", err)
	}
	if volume, err = hypervisor.ParsePolicy(l.Volume, hypervisor.PolicyFail); err != nil {
		return "", "", "", fmt.Errorf("listing.volume: %w", err)
	}
	if iface, err = hypervisor.ParsePolicy(l.Interface, hypervisor.PolicyFail); err != nil {
		return "", "", "", fmt.Errorf("listing.interface: %w", err)
	}
	return vm, volume, iface, nil
}

// ResourceFilter holds allowlist and denylist glob patterns.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SafetyConfig groups the action filters.
type SafetyConfig struct {
	VMs ResourceFilter `yaml:"vms"`
}

// AuditConfig controls the action audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// UIConfig locates the static UI. An empty Dir serves the embedded bundle.
type UIConfig struct {
	Dir string `yaml:"dir"`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Path              string `yaml:"path"`
	ConfirmTTLSeconds int    `yaml:"confirm_ttl_seconds"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Listing ListingConfig `yaml:"listing"`
	Safety  SafetyConfig  `yaml:"safety"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`
	UI      UIConfig      `yaml:"ui"`
	MCP     MCPConfig     `yaml:"mcp"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// DefaultConfig returns a new Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "0.0.0.0:3000",
		},
		Backend: BackendConfig{
			ConnectTimeoutSeconds: 5,
			CallTimeoutSeconds:    30,
		},
		Storage: StorageConfig{
			Pool: "default",
		},
		Listing: ListingConfig{
			VM:        string(hypervisor.PolicyDegrade),
			Volume:    string(hypervisor.PolicyFail),
			Interface: string(hypervisor.PolicyFail),
		},
		Audit: AuditConfig{
			LogPath: "/var/log/virtweb/audit.log",
		},
		Log: LogConfig{
			Level: "info",
		},
		MCP: MCPConfig{
			Enabled:           true,
			Path:              "/mcp",
			ConfirmTTLSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults. Keys absent from
// the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Load is LoadConfig that treats a missing file as "use the defaults".
// found reports whether the file existed.
func Load(path string) (cfg *Config, found bool, err error) {
	cfg, err = LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// Path returns the config file location from the environment.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// ApplyEnvOverrides updates cfg in place from the environment:
//   - VIRTWEB_URI overrides backend.uri
//   - VIRTWEB_LISTEN overrides server.listen
//   - VIRTWEB_AUTH_TOKEN overrides server.auth_token
//   - VIRTWEB_STORAGE_POOL overrides storage.pool
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvURI); v != "" {
		cfg.Backend.URI = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv(EnvStoragePool); v != "" {
		cfg.Storage.Pool = v
	}
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Backend.ConnectTimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.connect_timeout_seconds must not be negative"))
	}
	if c.Backend.CallTimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.call_timeout_seconds must not be negative"))
	}
	if c.Backend.MaxConnections < 0 {
		errs = append(errs, errors.New("backend.max_connections must not be negative"))
	}
	if _, _, _, err := c.Listing.Policies(); err != nil {
		errs = append(errs, err)
	}
	if err := safety.ValidatePatterns(c.Safety.VMs.Allowlist); err != nil {
		errs = append(errs, fmt.Errorf("safety.vms.allowlist: %w", err))
	}
	if err := safety.ValidatePatterns(c.Safety.VMs.Denylist); err != nil {
		errs = append(errs, fmt.Errorf("safety.vms.denylist: %w", err))
	}
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		errs = append(errs, errors.New("audit.log_path is required when audit is enabled"))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", c.MCP.Path))
	}
	if c.MCP.ConfirmTTLSeconds < 0 {
		errs = append(errs, errors.New("mcp.confirm_ttl_seconds must not be negative"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// GenerateRandomToken returns a 32-character hex-encoded random token.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}

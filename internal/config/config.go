// Package config resolves the connector's runtime settings from defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/blang/semver/v4"
	"gopkg.in/yaml.v3"

	"github.com/anava-ai/anava-connector/internal/platform/paths"
)

const (
	// DefaultListen is the connector's fixed loopback socket.
	DefaultListen = "127.0.0.1:9876"

	// DefaultMinFirmware is the lowest AXIS OS version the deployment
	// pipeline supports.
	DefaultMinFirmware = "11.11.0"

	// DefaultWebappOrigin is the production web app the connector serves.
	DefaultWebappOrigin = "https://anava-ai.web.app"
)

// DefaultOrigins is the built-in request origin allow-list: the production
// web app, local dev servers and the packaged browser extension.
var DefaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
	DefaultWebappOrigin,
	"chrome-extension://ojhdgnojgelfiejpgipjddfddgefdpfa",
}

// Config carries everything cmd/connector needs to wire the server.
type Config struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MinFirmware    string   `yaml:"min_firmware"`
	LogDir         string   `yaml:"log_dir"`
	CertStore      string   `yaml:"cert_store"`
	WebappOrigin   string   `yaml:"webapp_origin"`
	LicenseKeyFile string   `yaml:"license_key_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:         DefaultListen,
		AllowedOrigins: append([]string(nil), DefaultOrigins...),
		MinFirmware:    DefaultMinFirmware,
		LogDir:         paths.LogDir(),
		CertStore:      paths.CertStorePath(),
		WebappOrigin:   DefaultWebappOrigin,
	}
}

// Load builds the effective configuration. A YAML file named by
// ANAVA_CONNECTOR_CONFIG overlays the defaults; environment variables
// overlay both.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ANAVA_CONNECTOR_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if listen := os.Getenv("ANAVA_CONNECTOR_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if origins := os.Getenv("ANAVA_CONNECTOR_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitOrigins(origins)
	}
	if fw := os.Getenv("ANAVA_CONNECTOR_MIN_FIRMWARE"); fw != "" {
		cfg.MinFirmware = fw
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if file.Listen != "" {
		cfg.Listen = file.Listen
	}
	if len(file.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = file.AllowedOrigins
	}
	if file.MinFirmware != "" {
		cfg.MinFirmware = file.MinFirmware
	}
	if file.LogDir != "" {
		cfg.LogDir = file.LogDir
	}
	if file.CertStore != "" {
		cfg.CertStore = file.CertStore
	}
	if file.WebappOrigin != "" {
		cfg.WebappOrigin = file.WebappOrigin
	}
	if file.LicenseKeyFile != "" {
		cfg.LicenseKeyFile = file.LicenseKeyFile
	}
	return nil
}

func splitOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the connector must not start with. The
// listen address in particular stays on IPv4 loopback: the connector holds
// camera credentials in flight and must never be reachable off-host.
func (c Config) Validate() error {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil || !ip.IsLoopback() {
		return fmt.Errorf("listen address %q is not IPv4 loopback", c.Listen)
	}

	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed origins list is empty")
	}
	for _, origin := range c.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Path != "" {
			return fmt.Errorf("invalid origin %q: must be scheme://host[:port]", origin)
		}
	}

	if _, err := semver.ParseTolerant(c.MinFirmware); err != nil {
		return fmt.Errorf("invalid min firmware %q: %w", c.MinFirmware, err)
	}
	return nil
}

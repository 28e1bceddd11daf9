// Package config loads the agent's typed configuration from a TOML file.
// The configuration is built once at startup and handed by pointer to the
// components that need it; nothing mutates it afterwards.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// DefaultPath is where the agent looks for its configuration file.
const DefaultPath = "/etc/otaboot/config.toml"

const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultPort       = 443
	DefaultEngine     = "/usr/bin/updog"
	DefaultSignpost   = "/usr/bin/signpost"
	DefaultStaging    = "/var/lib/otaboot/staging"
	DefaultOSRelease  = "/etc/os-release"

	// TargetXMC7100 is the only target whose wired port is eth0.
	TargetXMC7100 = "xmc7100d-f176k4160"
)

// Connection is the transport scheme of the initial connection.
type Connection string

const (
	ConnectionHTTP  Connection = "http"
	ConnectionHTTPS Connection = "https"
)

// Config is the full agent configuration.
type Config struct {
	Target      string      `toml:"target"`
	Link        Link        `toml:"link"`
	Server      Server      `toml:"server"`
	Credentials Credentials `toml:"credentials"`
	Agent       Agent       `toml:"agent"`
	Storage     Storage     `toml:"storage"`
	Engine      Engine      `toml:"engine"`
}

// Link configures the wired interface and the connection retry policy.
type Link struct {
	// Interface overrides the interface chosen for Target.
	Interface  string `toml:"interface"`
	MaxRetries int    `toml:"max-retries"`
	RetryDelay string `toml:"retry-delay"`
}

// Delay is the parsed RetryDelay, zero when it does not parse.
func (l *Link) Delay() time.Duration {
	d, err := time.ParseDuration(l.RetryDelay)
	if err != nil {
		return 0
	}
	return d
}

// Server is where the engine fetches its job or image.
type Server struct {
	Host       string     `toml:"host"`
	Port       uint16     `toml:"port"`
	File       string     `toml:"file"`
	Connection Connection `toml:"connection"`
	// JobFlow selects fetching a job document before the image. Direct flow
	// fetches File as the image itself.
	JobFlow *bool `toml:"job-flow"`
}

// UseJobFlow reports the resolved job flow selection.
func (s *Server) UseJobFlow() bool {
	return s.JobFlow == nil || *s.JobFlow
}

// Credentials are PEM file paths for TLS connections.
type Credentials struct {
	RootCA     string `toml:"root-ca"`
	ClientCert string `toml:"client-cert"`
	ClientKey  string `toml:"client-key"`
}

// Agent carries the engine's behavioral flags.
type Agent struct {
	AppID               int   `toml:"app-id"`
	RebootOnCompletion  *bool `toml:"reboot-on-completion"`
	ValidateAfterReboot *bool `toml:"validate-after-reboot"`
	DoNotSendResult     *bool `toml:"do-not-send-result"`
	// SkipImageValidate leaves the running image unvalidated so that the
	// bootloader reverts it. Only rollback tests set this.
	SkipImageValidate bool `toml:"skip-image-validate"`
}

// Storage locates the update image staging area.
type Storage struct {
	StagingDir string `toml:"staging-dir"`
	OSRelease  string `toml:"os-release"`
}

// Engine locates the external update engine executables.
type Engine struct {
	Bin      string `toml:"bin"`
	Signpost string `toml:"signpost"`
	// RuntimeDir receives per-session engine files.
	RuntimeDir string `toml:"runtime-dir"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a TOML configuration document.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Link.MaxRetries == 0 {
		c.Link.MaxRetries = DefaultMaxRetries
	}
	if c.Link.RetryDelay == "" {
		c.Link.RetryDelay = DefaultRetryDelay.String()
	}
	if _, err := time.ParseDuration(c.Link.RetryDelay); err != nil {
		return errors.Wrapf(err, "invalid link retry-delay %q", c.Link.RetryDelay)
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Connection == "" {
		c.Server.Connection = ConnectionHTTPS
	}
	c.Server.Connection = Connection(strings.ToLower(string(c.Server.Connection)))
	defaultTrue(&c.Agent.RebootOnCompletion)
	defaultTrue(&c.Agent.ValidateAfterReboot)
	defaultTrue(&c.Agent.DoNotSendResult)
	if c.Storage.StagingDir == "" {
		c.Storage.StagingDir = DefaultStaging
	}
	if c.Storage.OSRelease == "" {
		c.Storage.OSRelease = DefaultOSRelease
	}
	if c.Engine.Bin == "" {
		c.Engine.Bin = DefaultEngine
	}
	if c.Engine.Signpost == "" {
		c.Engine.Signpost = DefaultSignpost
	}
	if c.Engine.RuntimeDir == "" {
		c.Engine.RuntimeDir = os.TempDir()
	}
	return nil
}

func defaultTrue(b **bool) {
	if *b == nil {
		t := true
		*b = &t
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Link.MaxRetries <= 0:
		return errors.Errorf("link max-retries must be positive, got %d", c.Link.MaxRetries)
	case c.Link.Delay() <= 0:
		return errors.Errorf("link retry-delay must be positive, got %q", c.Link.RetryDelay)
	case c.Server.Host == "":
		return errors.New("server host must be provided")
	case c.Server.File == "":
		return errors.New("server file must be provided")
	case c.Server.Connection != ConnectionHTTP && c.Server.Connection != ConnectionHTTPS:
		return errors.Errorf("unknown server connection %q", c.Server.Connection)
	case c.Credentials.ClientKey != "" && c.Credentials.ClientCert == "":
		return errors.New("client-key requires client-cert")
	case c.Credentials.ClientCert != "" && c.Credentials.ClientKey == "":
		return errors.New("client-cert requires client-key")
	}
	return nil
}

// TLS reports whether the initial connection uses TLS.
func (c *Config) TLS() bool {
	return c.Server.Connection == ConnectionHTTPS
}

// Interface is the wired interface the agent brings up.
func (c *Config) Interface() string {
	if c.Link.Interface != "" {
		return c.Link.Interface
	}
	return InterfaceForTarget(c.Target)
}

// InterfaceForTarget maps a board identity to its wired interface.
func InterfaceForTarget(target string) string {
	if strings.EqualFold(target, TargetXMC7100) {
		return "eth0"
	}
	return "eth1"
}

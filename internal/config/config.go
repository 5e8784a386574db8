package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"github.com/vango-dev/whiteboard/internal/errors"
	"github.com/vango-dev/whiteboard/pkg/auth"
	"github.com/vango-dev/whiteboard/pkg/protocol"
	"github.com/vango-dev/whiteboard/pkg/server"
	"github.com/vango-dev/whiteboard/pkg/session"
)

const (
	// ConfigFileName is the conventional name of the configuration file.
	ConfigFileName = "whiteboard.yaml"

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "WHITEBOARD_"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultServiceType is the mDNS service type servers advertise.
	DefaultServiceType = "_whiteboard._tcp"
)

// Duration is a time.Duration that reads "30s" style strings from YAML
// and the environment.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML accepts either a duration string or a whole number of
// seconds.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seconds int64
	if err := unmarshal(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(text))
}

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Discovery DiscoveryConfig `yaml:"discovery" envPrefix:"DISCOVERY_"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// ServerConfig configures the HTTP and websocket listener.
type ServerConfig struct {
	Address             string   `yaml:"address" env:"ADDRESS"`
	ReadTimeout         Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout        Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	HandshakeTimeout    Duration `yaml:"handshakeTimeout" env:"HANDSHAKE_TIMEOUT"`
	HeartbeatInterval   Duration `yaml:"heartbeatInterval" env:"HEARTBEAT_INTERVAL"`
	ShutdownTimeout     Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	MaxMessageSize      int64    `yaml:"maxMessageSize" env:"MAX_MESSAGE_SIZE"`
	SendQueueSize       int      `yaml:"sendQueueSize" env:"SEND_QUEUE_SIZE"`
	SlowClientDropLimit int      `yaml:"slowClientDropLimit" env:"SLOW_CLIENT_DROP_LIMIT"`
	AllowedOrigins      []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS"`
	EnableDebug         bool     `yaml:"enableDebug" env:"ENABLE_DEBUG"`
}

// SessionConfig configures session actors.
type SessionConfig struct {
	QueueSize                int  `yaml:"queueSize" env:"QUEUE_SIZE"`
	MaxUndoDepth             int  `yaml:"maxUndoDepth" env:"MAX_UNDO_DEPTH"`
	ResyncAfterHistoryChange bool `yaml:"resyncAfterHistoryChange" env:"RESYNC_AFTER_HISTORY_CHANGE"`
}

// AuthConfig configures connection authentication.
type AuthConfig struct {
	// Secret signs and verifies locally issued tokens. Empty disables the
	// local validator.
	Secret string `yaml:"secret" env:"SECRET"`

	// Issuer is the iss claim of locally issued tokens.
	Issuer string `yaml:"issuer" env:"ISSUER"`

	// TokenTTL is the lifetime of tokens minted by the token command.
	TokenTTL Duration `yaml:"tokenTTL" env:"TOKEN_TTL"`

	// External enables the fallback validator for provider-issued tokens.
	External bool `yaml:"external" env:"EXTERNAL"`

	// ExternalIssuers restricts the accepted provider issuers.
	ExternalIssuers []string `yaml:"externalIssuers" env:"EXTERNAL_ISSUERS"`

	// AllowAnonymous admits connections without any credential as guests.
	AllowAnonymous bool `yaml:"allowAnonymous" env:"ALLOW_ANONYMOUS"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Instance string `yaml:"instance" env:"INSTANCE"`
	Service  string `yaml:"service" env:"SERVICE"`
	Domain   string `yaml:"domain" env:"DOMAIN"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sess := session.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:             DefaultAddress,
			ReadTimeout:         Duration(60 * time.Second),
			WriteTimeout:        Duration(10 * time.Second),
			HandshakeTimeout:    Duration(10 * time.Second),
			HeartbeatInterval:   Duration(30 * time.Second),
			ShutdownTimeout:     Duration(15 * time.Second),
			MaxMessageSize:      protocol.MaxFrameSize,
			SendQueueSize:       256,
			SlowClientDropLimit: 64,
		},
		Session: SessionConfig{
			QueueSize:                sess.QueueSize,
			MaxUndoDepth:             sess.MaxUndoDepth,
			ResyncAfterHistoryChange: sess.ResyncAfterHistoryChange,
		},
		Auth: AuthConfig{
			Issuer:   "whiteboard",
			TokenTTL: Duration(24 * time.Hour),
			External: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Discovery: DiscoveryConfig{
			Service: DefaultServiceType,
			Domain:  "local.",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the process environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load reading variables from environ instead of the
// process environment when environ is not nil.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.New("W100").
					WithDetail("No config file at " + path).
					WithSuggestion("Pass an existing file with --config or omit the flag")
			}
			return nil, errors.New("W101").Wrap(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("W101").
				WithDetail(fmt.Sprintf("Failed to parse %s: %s", path, err.Error())).
				WithSuggestion("Check that " + path + " is valid YAML")
		}
		cfg.configPath = path
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.New("W102").Wrap(err)
	}

	return cfg, nil
}

// Path returns the path the config was loaded from, or "".
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		add("server.address is required")
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"server.readTimeout", c.Server.ReadTimeout},
		{"server.writeTimeout", c.Server.WriteTimeout},
		{"server.handshakeTimeout", c.Server.HandshakeTimeout},
		{"server.heartbeatInterval", c.Server.HeartbeatInterval},
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
	} {
		if d.value <= 0 {
			add("%s must be positive", d.name)
		}
	}
	if c.Server.HeartbeatInterval >= c.Server.ReadTimeout {
		add("server.heartbeatInterval must be shorter than server.readTimeout")
	}
	if c.Server.MaxMessageSize <= 0 || c.Server.MaxMessageSize > protocol.MaxFrameSize {
		add("server.maxMessageSize must be between 1 and %d", protocol.MaxFrameSize)
	}
	if c.Server.SendQueueSize <= 0 {
		add("server.sendQueueSize must be positive")
	}
	if c.Server.SlowClientDropLimit <= 0 {
		add("server.slowClientDropLimit must be positive")
	}
	if c.Session.QueueSize <= 0 {
		add("session.queueSize must be positive")
	}
	if c.Session.MaxUndoDepth <= 0 {
		add("session.maxUndoDepth must be positive")
	}
	if c.Auth.TokenTTL < 0 {
		add("auth.tokenTTL must not be negative")
	}
	if c.Auth.Secret == "" && !c.Auth.External && !c.Auth.AllowAnonymous {
		add("no way to authenticate: set auth.secret, enable auth.external or auth.allowAnonymous")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Discovery.Enabled && strings.TrimSpace(c.Discovery.Service) == "" {
		add("discovery.service is required when discovery is enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("W103").
		WithDetail(strings.Join(problems, "; ")).
		WithSuggestion("Fix the listed values in the config file, environment or flags")
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", name)
	}
	return level, nil
}

// SessionOptions converts the session section.
func (c *Config) SessionOptions() *session.Config {
	return &session.Config{
		QueueSize:                c.Session.QueueSize,
		MaxUndoDepth:             c.Session.MaxUndoDepth,
		ResyncAfterHistoryChange: c.Session.ResyncAfterHistoryChange,
	}
}

// ServerOptions converts the server section.
func (c *Config) ServerOptions() *server.Config {
	sc := server.DefaultConfig()
	sc.Address = c.Server.Address
	sc.ReadTimeout = c.Server.ReadTimeout.Std()
	sc.WriteTimeout = c.Server.WriteTimeout.Std()
	sc.HandshakeTimeout = c.Server.HandshakeTimeout.Std()
	sc.HeartbeatInterval = c.Server.HeartbeatInterval.Std()
	sc.ShutdownTimeout = c.Server.ShutdownTimeout.Std()
	sc.MaxMessageSize = c.Server.MaxMessageSize
	sc.SendQueueSize = c.Server.SendQueueSize
	sc.SlowClientDropLimit = c.Server.SlowClientDropLimit
	sc.AllowAnonymous = c.Auth.AllowAnonymous
	sc.EnableDebug = c.Server.EnableDebug
	if len(c.Server.AllowedOrigins) > 0 {
		sc.CheckOrigin = server.AllowOrigins(c.Server.AllowedOrigins...)
	}
	sc.Session = c.SessionOptions()
	return sc
}

// Validators builds the credential chain: local tokens first, then
// provider tokens.
func (c *Config) Validators() auth.Chain {
	var chain auth.Chain
	if c.Auth.Secret != "" {
		chain = append(chain, auth.NewLocalValidator([]byte(c.Auth.Secret), auth.WithIssuer(c.Auth.Issuer)))
	}
	if c.Auth.External {
		chain = append(chain, auth.NewExternalValidator(c.Auth.ExternalIssuers...))
	}
	return chain
}

// TokenIssuer returns an Issuer for local tokens.
func (c *Config) TokenIssuer() (*auth.Issuer, error) {
	if c.Auth.Secret == "" {
		return nil, errors.New("W120").
			WithSuggestion("Set auth.secret in the config file or WHITEBOARD_AUTH_SECRET")
	}
	return auth.NewIssuer([]byte(c.Auth.Secret), c.Auth.TokenTTL.Std(), auth.WithIssuer(c.Auth.Issuer)), nil
}

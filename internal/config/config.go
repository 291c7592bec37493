// Package config implements TOML configuration loading, environment
// overrides and validation for gdindex. Values are layered: defaults, then
// the config file, then environment variables, then CLI flags.
package config

import "time"

// Config is the top-level configuration parsed from a TOML file.
type Config struct {
	Server      ServerConfig       `toml:"server"`
	Drive       DriveConfig        `toml:"drive"`
	Credentials []CredentialConfig `toml:"credentials"`
	Gate        GateConfig         `toml:"gate"`
	Cache       CacheConfig        `toml:"cache"`
	Logging     LoggingConfig      `toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr        string `toml:"listen_addr"`
	ShutdownTimeout   string `toml:"shutdown_timeout"`
	ReadHeaderTimeout string `toml:"read_header_timeout"`
	CORSAllowOrigin   string `toml:"cors_allow_origin"`
}

// DriveConfig points the backend client at its endpoints. Empty endpoints
// mean Google's production URLs.
type DriveConfig struct {
	DefaultRootID string `toml:"default_root_id"`
	APIEndpoint   string `toml:"api_endpoint"`
	TokenEndpoint string `toml:"token_endpoint"`
	UserAgent     string `toml:"user_agent"`
}

// CredentialConfig is one OAuth identity. Its position in Config.Credentials
// is its slot number.
type CredentialConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
}

// GateConfig controls request token verification. The key may be given
// inline or as a file; a file can be watched for rotation.
type GateConfig struct {
	Enabled       bool   `toml:"enabled"`
	TokenParam    string `toml:"token_param"`
	PublicKeyFile string `toml:"public_key_file"`
	PublicKey     string `toml:"public_key"`
	WatchKeyFile  bool   `toml:"watch_key_file"`
	Leeway        string `toml:"leeway"`
}

// CacheConfig sizes the path resolution cache. MaxEntries 0 keeps every
// lookup for the life of the process.
type CacheConfig struct {
	MaxEntries int64 `toml:"max_entries"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	ListenAddr *string // --listen flag
}

// Timeouts returns the parsed server timeouts. Call after Validate.
func (s *ServerConfig) Timeouts() (shutdown, readHeader time.Duration) {
	shutdown, _ = time.ParseDuration(s.ShutdownTimeout)
	readHeader, _ = time.ParseDuration(s.ReadHeaderTimeout)

	return shutdown, readHeader
}

// LeewayDuration returns the parsed expiry leeway. Call after Validate.
func (g *GateConfig) LeewayDuration() time.Duration {
	d, _ := time.ParseDuration(g.Leeway)
	return d
}

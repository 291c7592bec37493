package config

// Default values for configuration options, layer 0 of the override chain.
const (
	defaultListenAddr        = ":8080"
	defaultShutdownTimeout   = "10s"
	defaultReadHeaderTimeout = "10s"
	defaultCORSAllowOrigin   = "*"
	defaultRootID            = "root"
	defaultTokenParam        = "token"
	defaultLeeway            = "0s"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:        defaultListenAddr,
			ShutdownTimeout:   defaultShutdownTimeout,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			CORSAllowOrigin:   defaultCORSAllowOrigin,
		},
		Drive: DriveConfig{
			DefaultRootID: defaultRootID,
		},
		Gate: GateConfig{
			Enabled:    true,
			TokenParam: defaultTokenParam,
			Leeway:     defaultLeeway,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

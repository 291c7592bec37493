package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validate checks all configuration values and returns every error found,
// so a broken file can be fixed in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateCredentials(cfg.Credentials)...)
	errs = append(errs, validateGate(&cfg.Gate)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr: must not be empty"))
	}

	errs = append(errs, validatePositiveDuration("server.shutdown_timeout", s.ShutdownTimeout)...)
	errs = append(errs, validatePositiveDuration("server.read_header_timeout", s.ReadHeaderTimeout)...)

	return errs
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	if d.DefaultRootID == "" {
		errs = append(errs, errors.New("drive.default_root_id: must not be empty"))
	}

	errs = append(errs, validateURL("drive.api_endpoint", d.APIEndpoint)...)
	errs = append(errs, validateURL("drive.token_endpoint", d.TokenEndpoint)...)

	return errs
}

func validateCredentials(creds []CredentialConfig) []error {
	if len(creds) == 0 {
		return []error{errors.New("credentials: at least one credential is required " +
			"(add [[credentials]] or set CLIENT_IDS, CLIENT_SECRETS and REFRESH_TOKENS)")}
	}

	var errs []error

	for i, c := range creds {
		if c.ClientID == "" {
			errs = append(errs, fmt.Errorf("credentials[%d].client_id: must not be empty", i))
		}

		if c.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("credentials[%d].client_secret: must not be empty", i))
		}

		if c.RefreshToken == "" {
			errs = append(errs, fmt.Errorf("credentials[%d].refresh_token: must not be empty", i))
		}
	}

	return errs
}

func validateGate(g *GateConfig) []error {
	var errs []error

	d, err := time.ParseDuration(g.Leeway)
	if err != nil {
		errs = append(errs, fmt.Errorf("gate.leeway: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("gate.leeway: must not be negative, got %s", g.Leeway))
	}

	if !g.Enabled {
		return errs
	}

	if g.TokenParam == "" {
		errs = append(errs, errors.New("gate.token_param: must not be empty"))
	}

	switch {
	case g.PublicKeyFile == "" && g.PublicKey == "":
		errs = append(errs, errors.New("gate: public_key_file or public_key is required when the gate is enabled"))
	case g.PublicKeyFile != "" && g.PublicKey != "":
		errs = append(errs, errors.New("gate: set only one of public_key_file and public_key"))
	}

	if g.WatchKeyFile && g.PublicKeyFile == "" {
		errs = append(errs, errors.New("gate.watch_key_file: requires public_key_file"))
	}

	return errs
}

func validateCache(c *CacheConfig) []error {
	if c.MaxEntries < 0 {
		return []error{fmt.Errorf("cache.max_entries: must be >= 0, got %d", c.MaxEntries)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validatePositiveDuration(field, value string) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if d <= 0 {
		return []error{fmt.Errorf("%s: must be positive, got %s", field, value)}
	}

	return nil
}

// validateURL accepts an empty value (use the built-in default) or an
// absolute http(s) URL.
func validateURL(field, value string) []error {
	if value == "" {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variable names for overrides. The credential lists are
// comma-separated and parallel: entry i of each forms slot i.
const (
	EnvConfig        = "GDINDEX_CONFIG"
	EnvListenAddr    = "GDINDEX_LISTEN_ADDR"
	EnvPublicKeyFile = "GDINDEX_PUBLIC_KEY_FILE"
	EnvDefaultRootID = "DEFAULT_ROOT_ID"
	EnvClientIDs     = "CLIENT_IDS"
	EnvClientSecrets = "CLIENT_SECRETS"
	EnvRefreshTokens = "REFRESH_TOKENS"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath    string   // GDINDEX_CONFIG: config file path
	ListenAddr    string   // GDINDEX_LISTEN_ADDR
	PublicKeyFile string   // GDINDEX_PUBLIC_KEY_FILE
	DefaultRootID string   // DEFAULT_ROOT_ID
	ClientIDs     []string // CLIENT_IDS
	ClientSecrets []string // CLIENT_SECRETS
	RefreshTokens []string // REFRESH_TOKENS
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; see Apply.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		ListenAddr:    os.Getenv(EnvListenAddr),
		PublicKeyFile: os.Getenv(EnvPublicKeyFile),
		DefaultRootID: os.Getenv(EnvDefaultRootID),
		ClientIDs:     splitList(os.Getenv(EnvClientIDs)),
		ClientSecrets: splitList(os.Getenv(EnvClientSecrets)),
		RefreshTokens: splitList(os.Getenv(EnvRefreshTokens)),
	}
}

// HasCredentials reports whether any credential list was set.
func (e EnvOverrides) HasCredentials() bool {
	return len(e.ClientIDs) > 0 || len(e.ClientSecrets) > 0 || len(e.RefreshTokens) > 0
}

// Apply writes the overrides into cfg. Credential lists, when present,
// replace the file's credentials wholesale and must have equal lengths.
func (e EnvOverrides) Apply(cfg *Config) error {
	if e.ListenAddr != "" {
		cfg.Server.ListenAddr = e.ListenAddr
	}

	if e.DefaultRootID != "" {
		cfg.Drive.DefaultRootID = e.DefaultRootID
	}

	if e.PublicKeyFile != "" {
		cfg.Gate.PublicKeyFile = e.PublicKeyFile
	}

	if !e.HasCredentials() {
		return nil
	}

	n := len(e.ClientIDs)
	if len(e.ClientSecrets) != n || len(e.RefreshTokens) != n {
		return fmt.Errorf("%s, %s and %s must list the same number of entries, got %d, %d and %d",
			EnvClientIDs, EnvClientSecrets, EnvRefreshTokens,
			n, len(e.ClientSecrets), len(e.RefreshTokens))
	}

	creds := make([]CredentialConfig, n)
	for i := range n {
		creds[i] = CredentialConfig{
			ClientID:     e.ClientIDs[i],
			ClientSecret: e.ClientSecrets[i],
			RefreshToken: e.RefreshTokens[i],
		}
	}

	cfg.Credentials = creds

	return nil
}

// splitList splits a comma-separated value, trimming spaces. An empty value
// yields nil.
func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

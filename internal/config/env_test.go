package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()

	for _, k := range []string{
		EnvConfig, EnvListenAddr, EnvPublicKeyFile, EnvDefaultRootID,
		EnvClientIDs, EnvClientSecrets, EnvRefreshTokens,
	} {
		t.Setenv(k, "")
	}
}

func TestReadEnvOverrides_AllSet(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvListenAddr, ":9999")
	t.Setenv(EnvDefaultRootID, "0AbCdEf")
	t.Setenv(EnvPublicKeyFile, "/keys/pub.pem")
	t.Setenv(EnvClientIDs, "id1, id2")
	t.Setenv(EnvClientSecrets, "s1,s2")
	t.Setenv(EnvRefreshTokens, "r1,r2")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, ":9999", env.ListenAddr)
	assert.Equal(t, "0AbCdEf", env.DefaultRootID)
	assert.Equal(t, "/keys/pub.pem", env.PublicKeyFile)
	assert.Equal(t, []string{"id1", "id2"}, env.ClientIDs)
	assert.Equal(t, []string{"s1", "s2"}, env.ClientSecrets)
	assert.Equal(t, []string{"r1", "r2"}, env.RefreshTokens)
	assert.True(t, env.HasCredentials())
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	clearEnv(t)

	env := ReadEnvOverrides()
	assert.Empty(t, env.ConfigPath)
	assert.Nil(t, env.ClientIDs)
	assert.False(t, env.HasCredentials())
}

func TestApply_ReplacesCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credentials = []CredentialConfig{{ClientID: "file", ClientSecret: "file", RefreshToken: "file"}}

	env := EnvOverrides{
		DefaultRootID: "shared",
		ClientIDs:     []string{"a", "b"},
		ClientSecrets: []string{"sa", "sb"},
		RefreshTokens: []string{"ra", "rb"},
	}

	require.NoError(t, env.Apply(cfg))
	assert.Equal(t, "shared", cfg.Drive.DefaultRootID)
	assert.Equal(t, []CredentialConfig{
		{ClientID: "a", ClientSecret: "sa", RefreshToken: "ra"},
		{ClientID: "b", ClientSecret: "sb", RefreshToken: "rb"},
	}, cfg.Credentials)
}

func TestApply_MismatchedLists(t *testing.T) {
	cfg := DefaultConfig()

	env := EnvOverrides{
		ClientIDs:     []string{"a", "b"},
		ClientSecrets: []string{"sa"},
		RefreshTokens: []string{"ra", "rb"},
	}

	err := env.Apply(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same number of entries")
	assert.Empty(t, cfg.Credentials)
}

func TestApply_NoCredentialsKeepsFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credentials = []CredentialConfig{{ClientID: "file", ClientSecret: "s", RefreshToken: "r"}}

	require.NoError(t, EnvOverrides{ListenAddr: ":1"}.Apply(cfg))
	assert.Equal(t, ":1", cfg.Server.ListenAddr)
	assert.Len(t, cfg.Credentials, 1)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList("  "))
	assert.Equal(t, []string{"a"}, splitList("a"))
	assert.Equal(t, []string{"a", "", "c"}, splitList("a,,c"))
}

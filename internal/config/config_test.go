package config

import (
	"testing"
	"time"

	apperrors "authz-gateway/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "k9P2vQ7xL4mZ8rT1wY6bN3cH5jF0dS2aG7eU"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envSessionSecret, testSecret)
	t.Setenv(envDBPassword, "db-password")
	t.Setenv(envPolicyMode, PolicyModeFull)
	t.Setenv(envPolicyPDPURL, "http://pdp.internal:7766")
	t.Setenv(envPolicyAPIToken, "permit_key_abc")
	t.Setenv(envPolicyProjectID, "talent")
	t.Setenv(envPolicyEnvironmentID, "production")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultServerPort, cfg.Server.Port)
	assert.Equal(t, defaultSessionCookieName, cfg.Session.CookieName)
	assert.False(t, cfg.Session.SecureCookie)
	assert.Equal(t, "/dashboard", cfg.Routes.ProtectedPrefix)
	assert.Equal(t, "/sign-in", cfg.Routes.SignInPath)
	assert.Equal(t, "/forbidden", cfg.Routes.ForbiddenPath)
	assert.Equal(t, defaultPolicyAPIURL, cfg.Policy.APIURL)
	assert.Equal(t, 3*time.Second, cfg.Policy.Timeout)
	assert.Equal(t, 1, cfg.Policy.Retries)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadProductionUsesSecureCookies(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envAppEnv, "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Session.SecureCookie)
	assert.False(t, cfg.Log.Pretty)
}

func TestLoadMissingSecretIsConfigurationError(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envSessionSecret, "")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLoadRejectsWeakSecrets(t *testing.T) {
	setBaseEnv(t)

	t.Setenv(envSessionSecret, "short")
	_, err := Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	t.Setenv(envSessionSecret, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	_, err = Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLoadFullModeRequiresPolicySettings(t *testing.T) {
	for _, key := range []string{envPolicyPDPURL, envPolicyAPIToken, envPolicyProjectID, envPolicyEnvironmentID} {
		t.Run(key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(key, "")

			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadRestrictedModeNeedsNoPolicySettings(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envPolicyMode, "Restricted")
	t.Setenv(envPolicyPDPURL, "")
	t.Setenv(envPolicyAPIToken, "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PolicyModeRestricted, cfg.Policy.Mode)
}

func TestLoadUnknownPolicyMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envPolicyMode, "edge")

	_, err := Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLoadPolicyBounds(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envPolicyRetries, "50")
	_, err := Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	setBaseEnv(t)
	t.Setenv(envPolicyRetries, "0")
	t.Setenv(envPolicyTimeout, "-1s")
	_, err = Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLoadRejectsRelativePaths(t *testing.T) {
	setBaseEnv(t)
	t.Setenv(envForbiddenPath, "forbidden")

	_, err := Load()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestGetDurationEnvAcceptsMinutes(t *testing.T) {
	t.Setenv("X_TIMEOUT", "2")
	assert.Equal(t, 2*time.Minute, getDurationEnv("X_TIMEOUT", time.Second))

	t.Setenv("X_TIMEOUT", "750ms")
	assert.Equal(t, 750*time.Millisecond, getDurationEnv("X_TIMEOUT", time.Second))

	t.Setenv("X_TIMEOUT", "soon")
	assert.Equal(t, time.Second, getDurationEnv("X_TIMEOUT", time.Second))
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=require", db.DSN())
}

func TestGetBoolEnv(t *testing.T) {
	for value, want := range map[string]bool{"true": true, "1": true, " YES ": true, "false": false, "": false, "on": false} {
		t.Setenv(envEnableProfiling, value)
		assert.Equal(t, want, getBoolEnv(envEnableProfiling), value)
	}
}

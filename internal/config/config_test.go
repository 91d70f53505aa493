package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("ADDRESS_HASH_SALT", "salt")
	t.Setenv("APP_URL", "https://polls.example.com/")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite://pollwave.db", cfg.DatabaseURL)
	assert.Equal(t, "https://polls.example.com", cfg.AppURL)
	assert.Equal(t, AnonIdentityAddress, cfg.AnonIdentity)
	assert.True(t, cfg.AnonDedupe)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.TrustedProxies)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("MissingJWTSecret", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "")
		_, err := Load()
		assert.ErrorContains(t, err, "AUTH_JWT_SECRET")
	})

	t.Run("TokenModeNeedsSecret", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
		t.Setenv("ANON_IDENTITY", "token")
		t.Setenv("VOTER_TOKEN_SECRET", "")
		_, err := Load()
		assert.ErrorContains(t, err, "VOTER_TOKEN_SECRET")
	})

	t.Run("UnknownMode", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
		t.Setenv("ANON_IDENTITY", "cookie")
		_, err := Load()
		assert.ErrorContains(t, err, "ANON_IDENTITY")
	})

	t.Run("BadInterval", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "jwt-secret")
		t.Setenv("ADDRESS_HASH_SALT", "salt")
		t.Setenv("ANALYTICS_RECONCILE_INTERVAL", "often")
		_, err := Load()
		assert.Error(t, err)
	})
}

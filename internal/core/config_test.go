package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productionConfig() *Config {
	return &Config{
		Environment:   "production",
		JWTSecret:     "secret",
		IdPCertPath:   "/etc/pecha/idp.pem",
		IdPSignOnURL:  "https://idp.example.org/sso",
		IdPSignOutURL: "https://idp.example.org/slo",
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, productionConfig().Validate())

	t.Run("development needs nothing", func(t *testing.T) {
		cfg := &Config{Environment: "development"}
		assert.NoError(t, cfg.Validate())
	})

	clear := map[string]func(*Config){
		"PECHA_AUTH_JWT_SECRET":       func(c *Config) { c.JWTSecret = "" },
		"PECHA_AUTH_IDP_CERT_PATH":    func(c *Config) { c.IdPCertPath = "" },
		"PECHA_AUTH_IDP_SIGN_ON_URL":  func(c *Config) { c.IdPSignOnURL = "" },
		"PECHA_AUTH_IDP_SIGN_OUT_URL": func(c *Config) { c.IdPSignOutURL = "" },
	}
	for name, unset := range clear {
		t.Run("production requires "+name, func(t *testing.T) {
			cfg := productionConfig()
			unset(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}
